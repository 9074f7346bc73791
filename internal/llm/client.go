// Package llm wraps Genkit model calls behind two capabilities: typed
// structured completion (output shape known at compile time) and
// schema-driven extraction (output shape supplied by the caller at
// runtime as a JSON schema).
//
// Both fail loudly when the model payload does not match the requested
// shape; nothing in this package coerces a best-effort parse into a
// success.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/jsonschema-go/jsonschema"
)

// maxExtractResponseBytes bounds raw model output before JSON parsing.
const maxExtractResponseBytes = 64 * 1024

// Client issues model calls against a configured Genkit instance.
//
// Client is stateless apart from its configuration and safe for
// concurrent use.
type Client struct {
	g      *genkit.Genkit
	model  string
	logger *slog.Logger
}

// NewClient creates a Client bound to the given model name
// (e.g. "googleai/gemini-2.5-flash").
func NewClient(g *genkit.Genkit, model string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{g: g, model: model, logger: logger}
}

// Complete runs a structured completion and decodes the model output
// into T. The output schema is derived from T and enforced by Genkit's
// constrained generation; a payload that does not decode into T is an
// error, never a partial value.
func Complete[T any](ctx context.Context, c *Client, system, user string) (T, Usage, error) {
	var out T

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.model),
		ai.WithSystem(system),
		ai.WithPrompt(user),
		ai.WithOutputType(out),
	)
	if err != nil {
		return out, Usage{}, fmt.Errorf("generating structured response: %w", err)
	}

	usage := usageFromResponse(resp)
	if err := resp.Output(&out); err != nil {
		return out, usage, fmt.Errorf("decoding structured response: %w", err)
	}
	return out, usage, nil
}

// ExtractStructured asks the model to produce JSON conforming to the
// caller-supplied schema and validates the payload against it before
// returning. Validation failure is an error; the raw payload is never
// returned unvalidated.
//
// The schema travels inside the prompt because its shape is unknown at
// compile time, so constrained output typing cannot be used here.
func (c *Client) ExtractStructured(ctx context.Context, system, user string, schema *jsonschema.Schema) (map[string]any, Usage, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("marshaling schema: %w", err)
	}

	prompt := user + "\n\nRespond with a single JSON object conforming to this JSON schema, and nothing else:\n" + string(schemaJSON)

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.model),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("generating extraction: %w", err)
	}
	usage := usageFromResponse(resp)

	text := strings.TrimSpace(resp.Text())
	if len(text) > maxExtractResponseBytes {
		return nil, usage, fmt.Errorf("extraction response too large: %d bytes", len(text))
	}
	text = stripCodeFences(text)

	var value map[string]any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return nil, usage, fmt.Errorf("parsing extraction result: %w (raw: %q)", err, truncate(text, 200))
	}

	if err := ValidateAgainstSchema(value, schema); err != nil {
		return nil, usage, err
	}
	return value, usage, nil
}

// ValidateAgainstSchema checks value against schema and returns a typed
// failure when it does not conform.
func ValidateAgainstSchema(value any, schema *jsonschema.Schema) error {
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolving schema: %w", err)
	}
	if err := resolved.Validate(value); err != nil {
		return fmt.Errorf("payload does not match schema: %w", err)
	}
	return nil
}

// stripCodeFences removes ```json ... ``` wrapping from model output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// truncate shortens s to at most n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
