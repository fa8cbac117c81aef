// Package schemas holds the JSON Schemas that constrain structured model
// output and validates answers against them. Schemas ship embedded in the
// binary and are compiled once.
package schemas

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Embedded schema names
const (
	PolicyStructure     = "policy_structure"
	LinkProposals       = "link_proposals"
	AssetClassification = "asset_classification"
)

const fileSuffix = ".schema.json"

//go:embed *.schema.json
var schemaFiles embed.FS

// FieldError is one schema violation at a JSON path
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every violation found in a document
type ValidationError struct {
	Schema string
	Errors []FieldError
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	if ve.Schema != "" {
		fmt.Fprintf(&sb, "%s: ", ve.Schema)
	}
	sb.WriteString("validation failed:\n")
	for i, fe := range ve.Errors {
		fmt.Fprintf(&sb, "  %d. %s: %s\n", i+1, fe.Field, fe.Message)
	}
	return sb.String()
}

// SchemaLoadError is returned for unknown or unparseable schemas
type SchemaLoadError struct {
	Name    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Name, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Name, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

type entry struct {
	doc      string
	compiled *gojsonschema.Schema
	err      error
}

var (
	compileOnce sync.Once
	registry    map[string]*entry
)

func entries() map[string]*entry {
	compileOnce.Do(func() {
		registry = make(map[string]*entry)
		files, _ := schemaFiles.ReadDir(".")
		for _, f := range files {
			name := strings.TrimSuffix(f.Name(), fileSuffix)
			data, err := schemaFiles.ReadFile(f.Name())
			e := &entry{doc: string(data), err: err}
			if err == nil {
				e.compiled, e.err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
			}
			registry[name] = e
		}
	})
	return registry
}

func lookup(name string) (*entry, error) {
	e, ok := entries()[name]
	if !ok {
		return nil, &SchemaLoadError{Name: name, Message: "unknown schema"}
	}
	if e.err != nil {
		return nil, &SchemaLoadError{Name: name, Message: "invalid schema", Cause: e.err}
	}
	return e, nil
}

// Get returns the embedded schema document by name
func Get(name string) (string, error) {
	e, err := lookup(name)
	if err != nil {
		return "", err
	}
	return e.doc, nil
}

// Names returns the names of all embedded schemas
func Names() []string {
	names := make([]string, 0, len(entries()))
	for name := range entries() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a JSON document against a named embedded schema
func Validate(name, document string) error {
	e, err := lookup(name)
	if err != nil {
		return err
	}
	res, err := e.compiled.Validate(gojsonschema.NewStringLoader(document))
	if err != nil {
		return fmt.Errorf("failed to validate against %s: %w", name, err)
	}
	return violations(name, res)
}

// ValidateJSONString checks a JSON document against a schema given as text.
// Providers use it for schemas that arrive with the request.
func ValidateJSONString(schema, document string) error {
	res, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewStringLoader(document))
	if err != nil {
		return &SchemaLoadError{Name: "(inline)", Message: "failed to load schema or document", Cause: err}
	}
	return violations("", res)
}

func violations(name string, res *gojsonschema.Result) error {
	if res.Valid() {
		return nil
	}
	ve := &ValidationError{Schema: name, Errors: make([]FieldError, 0, len(res.Errors()))}
	for _, desc := range res.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		ve.Errors = append(ve.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return ve
}
