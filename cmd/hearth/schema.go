package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/hearthd/hearth/pkg/config"
)

// SchemaCmd generates the JSON Schema for the configuration file.
// Output goes to stdout so it can be redirected.
type SchemaCmd struct {
	// Compact enables compact JSON output (no indentation)
	Compact bool `help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		// Disallow additional properties for strict validation
		AllowAdditionalProperties: false,
		// Inline all definitions (no $ref) so form builders can consume it
		DoNotReference: true,
	}

	schema := reflector.Reflect(&config.Config{})

	schema.ID = "https://hearthd.dev/schemas/config.json"
	schema.Title = "Hearth Configuration Schema"
	schema.Description = "Configuration schema for the Hearth voice assistant control plane"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	schema.Examples = []interface{}{
		map[string]interface{}{
			"version": "1",
			"name":    "home",
			"backends": map[string]interface{}{
				"fast": map[string]interface{}{
					"provider": "ollama",
					"model":    "llama3.2",
					"host":     "http://127.0.0.1:11434",
				},
				"gpt-4o": map[string]interface{}{
					"provider": "openai",
					"model":    "gpt-4o",
					"api_key":  "${OPENAI_API_KEY}",
				},
			},
			"smart_home": map[string]interface{}{
				"home_assistant": map[string]interface{}{
					"base_url": "http://homeassistant.local:8123",
					"token":    "${HOME_ASSISTANT_TOKEN}",
				},
			},
		},
	}

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}

	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}

	return nil
}
