// Package prompts holds the LLM prompt templates used by the ingestion stages.
// Each prompt is a user template keyed by name plus a system instruction
// stored under "<name>-system".
package prompts

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Prompt names
const (
	ExtractPolicyStructure = "extract-policy-structure"
	ClassifyAsset          = "classify-asset"
	ProposeLinks           = "propose-links"
)

//go:embed ingestion.json
var raw []byte

var (
	loadOnce sync.Once
	catalog  map[string]string
	loadErr  error
)

// Prompt is a system instruction with its rendered user message
type Prompt struct {
	System string
	User   string
}

func load() (map[string]string, error) {
	loadOnce.Do(func() {
		if err := json.Unmarshal(raw, &catalog); err != nil {
			loadErr = fmt.Errorf("failed to parse prompt catalog: %w", err)
		}
	})
	return catalog, loadErr
}

// Render fills the named prompt's user template with data. Every
// placeholder in the template must be supplied.
func Render(name string, data map[string]string) (Prompt, error) {
	c, err := load()
	if err != nil {
		return Prompt{}, err
	}
	user, ok := c[name]
	if !ok {
		return Prompt{}, fmt.Errorf("prompt %q not found", name)
	}
	system, ok := c[name+"-system"]
	if !ok {
		return Prompt{}, fmt.Errorf("prompt %q has no system instruction", name)
	}

	user = Format(user, data)
	if i := strings.Index(user, "{{."); i >= 0 {
		end := strings.Index(user[i:], "}}")
		if end < 0 {
			end = len(user) - i - 2
		}
		return Prompt{}, fmt.Errorf("prompt %q: unfilled placeholder %s", name, user[i:i+end+2])
	}
	return Prompt{System: system, User: user}, nil
}

// MustRender is Render for the built-in prompts, which cannot be missing.
func MustRender(name string, data map[string]string) Prompt {
	p, err := Render(name, data)
	if err != nil {
		panic(err)
	}
	return p
}

// Format replaces {{.Key}} placeholders with values from data
func Format(template string, data map[string]string) string {
	pairs := make([]string, 0, 2*len(data))
	for k, v := range data {
		pairs = append(pairs, "{{."+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Names lists the prompts in the catalog, excluding system instructions
func Names() ([]string, error) {
	c, err := load()
	if err != nil {
		return nil, err
	}
	var names []string
	for k := range c {
		if !strings.HasSuffix(k, "-system") {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names, nil
}
