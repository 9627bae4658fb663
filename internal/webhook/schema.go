package webhook

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const payloadSchemaURL = "sbridge://webhook/payload.json"

// payloadSchema describes the fields a provider payload must carry before it
// is acknowledged. Everything else is optional.
const payloadSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["message_handle", "from_number"],
  "properties": {
    "message_handle": {"type": "string", "minLength": 1, "pattern": "\\S"},
    "from_number":    {"type": "string", "minLength": 1, "pattern": "\\S"},
    "to_number":      {"type": ["string", "null"]},
    "content":        {"type": ["string", "null"]},
    "media_url":      {"type": ["string", "null"]},
    "is_outbound":    {"type": ["boolean", "null"]},
    "date_sent":      {"type": ["string", "null"]}
  }
}`

func compilePayloadSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(payloadSchema))
	if err != nil {
		return nil, fmt.Errorf("webhook: parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(payloadSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("webhook: add schema: %w", err)
	}
	sch, err := c.Compile(payloadSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("webhook: compile schema: %w", err)
	}
	return sch, nil
}

// validatePayload reports malformed JSON and missing required fields.
func validatePayload(sch *jsonschema.Schema, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return err
	}
	return nil
}
