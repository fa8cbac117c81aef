package schemas

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedSchemas_ValidJSON(t *testing.T) {
	names := Names()
	assert.ElementsMatch(t, []string{AssetClassification, LinkProposals, PolicyStructure}, names)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			s, err := Get(name)
			require.NoError(t, err)
			var v map[string]any
			assert.NoError(t, json.Unmarshal([]byte(s), &v), "schema should be valid JSON")
		})
	}
}

func TestGet_Unknown(t *testing.T) {
	_, err := Get("nope")
	var loadErr *SchemaLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "nope", loadErr.Name)

	err = Validate("nope", `{}`)
	assert.ErrorAs(t, err, &loadErr)
}

func TestValidate_PolicyStructure(t *testing.T) {
	valid := `{"sections":[{"code":"H1","title":"Housing Mix","text":"Development must provide a mix of homes.",
		"speech_act":{"act":"requirement","strength":"must"},
		"clauses":[{"ref":"a","text":"30% affordable"}],
		"targets":[{"description":"1,000 homes","deadline":"2030"}]}]}`
	assert.NoError(t, Validate(PolicyStructure, valid))

	err := Validate(PolicyStructure, `{"sections":[{"title":"","text":"x","speech_act":{"act":"shout"}}]}`)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.GreaterOrEqual(t, len(ve.Errors), 2)
	assert.Equal(t, PolicyStructure, ve.Schema)
	assert.Contains(t, err.Error(), "policy_structure: validation failed")
}

func TestValidate_AssetClassification(t *testing.T) {
	assert.Error(t, Validate(AssetClassification, `not json`))
}

func TestValidate_LinkProposals(t *testing.T) {
	assert.NoError(t, Validate(LinkProposals, `{"links":[{"asset":0,"section":1,"confidence":0.8}]}`))
	assert.Error(t, Validate(LinkProposals, `{"links":[{"asset":0,"section":1,"confidence":1.5}]}`))
}

func TestValidateJSONString_Invalid(t *testing.T) {
	schemaContent := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string"}
		}
	}`

	err := ValidateJSONString(schemaContent, `{"age": 30}`)
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Greater(t, len(validationErr.Errors), 0)
}

func TestValidateJSONString_MalformedSchema(t *testing.T) {
	err := ValidateJSONString(`{not json`, `{}`)
	var loadErr *SchemaLoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Errors: []FieldError{
			{Field: "sections.0.title", Message: "is required"},
			{Field: "sections.0.text", Message: "must be a string"},
		},
	}

	errorMsg := err.Error()
	assert.Contains(t, errorMsg, "validation failed")
	assert.Contains(t, errorMsg, "sections.0.title")
	assert.Contains(t, errorMsg, "must be a string")
}
