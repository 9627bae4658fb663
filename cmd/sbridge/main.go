// Package main is the entry point for the sbridge CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/sbridge/internal/config"
	"github.com/flemzord/sbridge/internal/security"
	"github.com/flemzord/sbridge/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sbridge",
		Short:         "Bridge Sendblue messages to real-time subscribers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.AddCommand(versionCmd(), startCmd(), configCmd(), initCmd(), serviceCmd(), mcpCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sbridge %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bridge in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			level, _ := cmd.Flags().GetString("log-level")
			return app.Run(context.Background(), runParams(cfgPath, level))
		},
	}
	cmd.Flags().String("log-level", "", "Override logging.level (debug, info, warn, error)")
	return cmd
}

func runParams(cfgPath, level string) app.RunParams {
	return app.RunParams{
		ConfigPath: cfgPath,
		LogLevel:   level,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	check := &cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			if len(args) == 1 {
				cfgPath = args[0]
			}
			cfg, path, err := app.LoadConfig(cfgPath, "")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%s)\n", path)
			fmt.Fprintf(out, "  gateway:  %s\n", cfg.Gateway.Bind)
			fmt.Fprintf(out, "  ledger:   %s\n", cfg.Ledger.Driver)
			fmt.Fprintf(out, "  poller:   every %s, autostart %t\n", cfg.Poller.Interval, cfg.Poller.Autostart)
			for _, id := range config.WebhookIDs(&cfg) {
				fmt.Fprintf(out, "  webhook:  %s -> %s\n", id, cfg.Webhooks[id].Path)
			}
			if cfg.AMQP.Enabled() {
				fmt.Fprintf(out, "  amqp:     %s\n", cfg.AMQP.Exchange)
			}

			if show, _ := cmd.Flags().GetBool("show"); show {
				doc, err := effectiveConfig(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\n%s", doc)
			}
			return nil
		},
	}
	check.Flags().Bool("show", false, "Print the effective configuration with secrets redacted")
	cmd.AddCommand(check)
	return cmd
}

// effectiveConfig renders cfg, defaults included, with every secret replaced.
func effectiveConfig(cfg config.Config) ([]byte, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	r := security.NewRedactor()
	r.SetLiterals(cfg.Secrets()...)
	r.RedactMap(doc)

	return yaml.Marshal(doc)
}
