package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/flemzord/sbridge/internal/config"
	"github.com/flemzord/sbridge/internal/rpc"
	"github.com/flemzord/sbridge/pkg/app"
)

// caller is the part of rpc.Client the tools use.
type caller interface {
	Call(ctx context.Context, method string, params, out any) error
}

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the command surface as MCP tools over stdio",
		Long: "Runs a stdio MCP server whose tools forward to the /rpc endpoint " +
			"of a running sbridge daemon.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, _ := cmd.Flags().GetString("url")
			token, _ := cmd.Flags().GetString("token")
			if url == "" || token == "" {
				cfgPath, _ := cmd.Flags().GetString("config")
				cfg, _, err := app.LoadConfig(cfgPath, "")
				if err != nil && url == "" {
					return err
				}
				if err == nil {
					if url == "" {
						url = daemonURL(cfg)
					}
					if token == "" {
						token = cfg.Gateway.Auth.BearerToken
					}
				}
			}
			return server.ServeStdio(newMCPServer(rpc.NewClient(url, token)))
		},
	}
	cmd.Flags().String("url", "", "Daemon base URL (default from gateway.bind)")
	cmd.Flags().String("token", "", "Bearer token (default from gateway.auth.bearer_token)")
	return cmd
}

// daemonURL derives a loopback URL from the gateway bind address.
func daemonURL(cfg config.Config) string {
	host, port, err := net.SplitHostPort(cfg.Gateway.Bind)
	if err != nil {
		return "http://" + cfg.Gateway.Bind
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func newMCPServer(c caller) *server.MCPServer {
	s := server.NewMCPServer("sbridge", version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Report whether polling is running, the poll cursor and the subscriber count."),
	), forward(c, rpc.MethodStatus, noParams))

	s.AddTool(mcp.NewTool("watch_start",
		mcp.WithDescription("Start polling the provider for new messages."),
	), forward(c, rpc.MethodWatchSubscribe, noParams))

	s.AddTool(mcp.NewTool("watch_stop",
		mcp.WithDescription("Stop polling the provider."),
	), forward(c, rpc.MethodWatchUnsubscribe, noParams))

	s.AddTool(mcp.NewTool("send",
		mcp.WithDescription("Send a message through the provider."),
		mcp.WithString("to", mcp.Required(), mcp.Description("Recipient phone number in E.164 form")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
		mcp.WithString("media", mcp.Description("Optional media URL")),
	), forward(c, rpc.MethodSend, func(req mcp.CallToolRequest) (any, error) {
		to, err := req.RequireString("to")
		if err != nil {
			return nil, err
		}
		content, err := req.RequireString("content")
		if err != nil {
			return nil, err
		}
		return rpc.SendParams{To: to, Content: content, Media: req.GetString("media", "")}, nil
	}))

	s.AddTool(mcp.NewTool("chats_list",
		mcp.WithDescription("List conversations with their message count and last activity."),
	), forward(c, rpc.MethodChatsList, noParams))

	s.AddTool(mcp.NewTool("chats_history",
		mcp.WithDescription("Return the most recent messages of one conversation, oldest first."),
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Counterpart phone number")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of records (default 50)")),
	), forward(c, rpc.MethodChatsHistory, func(req mcp.CallToolRequest) (any, error) {
		chat, err := req.RequireString("chat_id")
		if err != nil {
			return nil, err
		}
		limit := req.GetInt("limit", rpc.DefaultHistoryLimit)
		return rpc.ChatParams{ChatID: chat, Limit: &limit}, nil
	}))

	s.AddTool(mcp.NewTool("chats_clear",
		mcp.WithDescription("Delete the stored history of one conversation."),
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Counterpart phone number")),
	), forward(c, rpc.MethodChatsClear, func(req mcp.CallToolRequest) (any, error) {
		chat, err := req.RequireString("chat_id")
		if err != nil {
			return nil, err
		}
		return rpc.ChatParams{ChatID: chat}, nil
	}))

	return s
}

func noParams(mcp.CallToolRequest) (any, error) { return nil, nil }

// forward builds a tool handler that calls method on the daemon. Command
// failures are reported as tool errors, not protocol errors.
func forward(c caller, method string, build func(mcp.CallToolRequest) (any, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params, err := build(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var out json.RawMessage
		if err := c.Call(ctx, method, params, &out); err != nil {
			var rpcErr *rpc.Error
			if errors.As(err, &rpcErr) {
				return mcp.NewToolResultError(rpcErr.Message), nil
			}
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}
