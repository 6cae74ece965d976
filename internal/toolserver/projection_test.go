package toolserver

import (
	"reflect"
	"testing"

	"github.com/deskmind-ai/deskmind/internal/llm"
)

func TestProjectSchema_OpenAIStrictMode(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string"},
			"opts": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"depth": map[string]any{"type": "integer"},
				},
			},
		},
		"required": []any{"path"},
	}

	got := ProjectSchema(llm.DialectOpenAI, schema)

	if got["additionalProperties"] != false {
		t.Error("expected additionalProperties=false at top level")
	}
	if want := []string{"opts", "path"}; !reflect.DeepEqual(got["required"], want) {
		t.Errorf("required = %v, want %v", got["required"], want)
	}
	opts := got["properties"].(map[string]any)["opts"].(map[string]any)
	if opts["additionalProperties"] != false {
		t.Error("expected additionalProperties=false on nested object")
	}
	if want := []string{"depth"}; !reflect.DeepEqual(opts["required"], want) {
		t.Errorf("nested required = %v, want %v", opts["required"], want)
	}

	if _, ok := schema["additionalProperties"]; ok {
		t.Error("input schema was mutated")
	}
}

func TestProjectSchema_GeminiStripsUnsupportedKeys(t *testing.T) {
	schema := map[string]any{
		"type":    "object",
		"$schema": "http://json-schema.org/draft-07/schema#",
		"properties": map[string]any{
			"query": map[string]any{
				"type":      "string",
				"format":    "uri",
				"minLength": 1,
			},
			"limit": map[string]any{
				"type":    "integer",
				"default": 10,
				"maximum": 100,
			},
		},
		"additionalProperties": false,
	}

	got := ProjectSchema(llm.DialectGemini, schema)

	for _, key := range []string{"$schema", "additionalProperties"} {
		if _, ok := got[key]; ok {
			t.Errorf("key %q should have been stripped", key)
		}
	}
	query := got["properties"].(map[string]any)["query"].(map[string]any)
	for _, key := range []string{"format", "minLength"} {
		if _, ok := query[key]; ok {
			t.Errorf("nested key %q should have been stripped", key)
		}
	}
	limit := got["properties"].(map[string]any)["limit"].(map[string]any)
	if _, ok := limit["default"]; ok {
		t.Error("nested key default should have been stripped")
	}
	if want := []string{"limit", "query"}; !reflect.DeepEqual(got["required"], want) {
		t.Errorf("required = %v, want %v", got["required"], want)
	}
}

func TestProjectSchema_RecursesIntoItems(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"files": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name": map[string]any{"type": "string", "format": "path"},
					},
				},
			},
		},
	}

	got := ProjectSchema(llm.DialectGemini, schema)

	items := got["properties"].(map[string]any)["files"].(map[string]any)["items"].(map[string]any)
	name := items["properties"].(map[string]any)["name"].(map[string]any)
	if _, ok := name["format"]; ok {
		t.Error("format inside array items should have been stripped")
	}
	if want := []string{"name"}; !reflect.DeepEqual(items["required"], want) {
		t.Errorf("items required = %v, want %v", items["required"], want)
	}
}

func TestProjectSchema_AnthropicPassthrough(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "format": "uri"},
		},
	}

	got := ProjectSchema(llm.DialectAnthropic, schema)
	if !reflect.DeepEqual(got, schema) {
		t.Errorf("anthropic projection changed the schema: %v", got)
	}

	// Mutating the projection must not leak back into the registry copy.
	got["properties"].(map[string]any)["path"].(map[string]any)["type"] = "integer"
	if schema["properties"].(map[string]any)["path"].(map[string]any)["type"] != "string" {
		t.Error("projection shares memory with the input schema")
	}
}

func TestProjectSchema_NilSchema(t *testing.T) {
	got := ProjectSchema(llm.DialectOpenAI, nil)
	if want := map[string]any{"type": "object"}; !reflect.DeepEqual(got, want) {
		t.Errorf("nil schema = %v, want %v", got, want)
	}
}
