package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonathan/planning-ingest/internal/prompts"
	"github.com/jonathan/planning-ingest/internal/provenance"
	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/schemas"
)

// structuredCall is one schema-constrained LLM or VLM request
type structuredCall struct {
	tool    string
	schema  string
	prompt  prompts.Prompt
	images  []providers.Image
	inputs  map[string]any
	options map[string]any
}

// generate runs the call under the ledger and decodes the validated answer into out.
// Answers that are not JSON or miss the schema become MalformedOutputError with
// the raw text kept.
func generate(ctx context.Context, rc *RunContext, c structuredCall, out any) error {
	schema, err := schemas.Get(c.schema)
	if err != nil {
		return err
	}
	req := providers.StructuredRequest{
		Messages: []providers.Message{
			{Role: "system", Content: c.prompt.System},
			{Role: "user", Content: c.prompt.User},
		},
		Schema:  schema,
		Options: c.options,
	}

	inputs := map[string]any{"schema": c.schema, "prompt_chars": len(c.prompt.System) + len(c.prompt.User)}
	for k, v := range c.inputs {
		inputs[k] = v
	}
	if len(c.images) > 0 {
		inputs["images"] = len(c.images)
	}

	call := provenance.Call{Tool: c.tool, Inputs: inputs, Refs: rc.Refs(), LongRunning: true}
	_, _, err = provenance.Track(ctx, rc.Ledger, call,
		func(ctx context.Context) (*providers.StructuredResult, error) {
			var (
				res *providers.StructuredResult
				err error
			)
			if len(c.images) > 0 {
				if err := requireProvider("vlm", rc.VLM != nil); err != nil {
					return nil, err
				}
				res, err = rc.VLM.GenerateStructuredVision(ctx, req, c.images)
			} else {
				if err := requireProvider("llm", rc.LLM != nil); err != nil {
					return nil, err
				}
				res, err = rc.LLM.GenerateStructured(ctx, req)
			}
			if err != nil {
				return nil, err
			}
			if len(res.JSON) == 0 {
				return nil, &providers.MalformedOutputError{Provider: c.tool, Message: "answer is not JSON", RawText: res.RawText}
			}
			if err := schemas.Validate(c.schema, string(res.JSON)); err != nil {
				return nil, &providers.MalformedOutputError{Provider: c.tool, Message: "answer does not match schema", RawText: res.RawText, Cause: err}
			}
			if err := json.Unmarshal(res.JSON, out); err != nil {
				return nil, &providers.MalformedOutputError{Provider: c.tool, Message: "answer does not decode", RawText: res.RawText, Cause: err}
			}
			return res, nil
		},
		func(res *providers.StructuredResult) provenance.Result {
			return provenance.Result{Outputs: map[string]any{
				"model_id":          res.ModelID,
				"prompt_tokens":     res.Usage.PromptTokens,
				"completion_tokens": res.Usage.CompletionTokens,
			}}
		})
	if err != nil {
		return fmt.Errorf("%s failed: %w", c.tool, err)
	}
	return nil
}
