package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/schemas"
)

// CleanJSONBlock removes markdown code block wrappers from JSON responses.
// LLMs often wrap JSON in ```json ... ``` blocks even when instructed not to.
// Conversational preamble before the JSON is dropped as well.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	// Handle ```json ... ``` blocks
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	// Handle generic ``` ... ``` blocks
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Skip potential language identifier on first line
		if idx := strings.Index(text, "\n"); idx >= 0 {
			firstLine := text[:idx]
			if len(firstLine) < 20 && !strings.Contains(firstLine, " ") && !strings.Contains(firstLine, "{") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	obj, arr := strings.IndexByte(text, '{'), strings.IndexByte(text, '[')
	switch {
	case obj >= 0 && (arr < 0 || obj < arr):
		if span := ExtractJSONObject(text[obj:]); span != "" {
			return span
		}
	case arr >= 0:
		if span := ExtractJSONArray(text[arr:]); span != "" {
			return span
		}
	}
	return text
}

// ExtractJSONObject returns the balanced {...} value text starts with, or ""
func ExtractJSONObject(text string) string {
	return balancedSpan(text, '{', '}')
}

// ExtractJSONArray returns the balanced [...] value text starts with, or ""
func ExtractJSONArray(text string) string {
	return balancedSpan(text, '[', ']')
}

// balancedSpan scans from the opening delimiter, ignoring delimiters inside
// JSON strings, and stops where the depth returns to zero
func balancedSpan(text string, open, closing byte) string {
	if len(text) == 0 || text[0] != open {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return text[:i+1]
			}
		}
	}
	return ""
}

// BuildPrompt flattens chat messages into a system instruction and a user
// prompt. When a schema is given the model is told to answer with matching JSON.
func BuildPrompt(req providers.StructuredRequest) (system, user string) {
	var sys, usr strings.Builder
	for _, m := range req.Messages {
		target := &usr
		if m.Role == "system" {
			target = &sys
		}
		if target.Len() > 0 {
			target.WriteString("\n\n")
		}
		target.WriteString(m.Content)
	}

	if req.Schema != "" {
		usr.WriteString("\n\nReturn ONLY valid JSON matching this JSON Schema:\n")
		usr.WriteString(req.Schema)
		usr.WriteString("\n\nIMPORTANT:\n")
		usr.WriteString("- Extract information directly from the text, do not invent.\n")
		usr.WriteString("- Return ONLY the JSON object, no markdown, no explanation, no code blocks.\n")
	}
	return sys.String(), usr.String()
}

// DecodeStructured turns raw model text into a StructuredResult. Unparsable or
// schema-violating answers are MalformedOutputErrors carrying the raw text.
func DecodeStructured(provider, modelID, raw, schema string, usage providers.Usage) (*providers.StructuredResult, error) {
	cleaned := CleanJSONBlock(raw)
	if !json.Valid([]byte(cleaned)) {
		return nil, &providers.MalformedOutputError{
			Provider: provider,
			Message:  fmt.Sprintf("model %s did not return valid JSON", modelID),
			RawText:  raw,
		}
	}
	if schema != "" {
		if err := schemas.ValidateJSONString(schema, cleaned); err != nil {
			return nil, &providers.MalformedOutputError{
				Provider: provider,
				Message:  fmt.Sprintf("model %s output does not match schema", modelID),
				RawText:  raw,
				Cause:    err,
			}
		}
	}
	return &providers.StructuredResult{
		JSON:    json.RawMessage(cleaned),
		RawText: raw,
		ModelID: modelID,
		Usage:   usage,
	}, nil
}
