package toolserver

import (
	"sort"

	"github.com/deskmind-ai/deskmind/internal/llm"
)

// SpecsFor projects the registered tools into the schema dialect a
// provider expects, in registration order.
func (m *Manager) SpecsFor(dialect string) []llm.ToolSpec {
	return ProjectTools(dialect, m.Tools())
}

// ProjectTools projects an arbitrary tool slice into a dialect. The
// orchestrator uses it on the retriever-selected subset, which mixes
// registered server tools with the terminal's inline ones.
func ProjectTools(dialect string, tools []Tool) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(tools))
	for _, tool := range tools {
		specs = append(specs, llm.ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      ProjectSchema(dialect, tool.Schema),
		})
	}
	return specs
}

// ProjectSchema adapts a neutral JSON Schema object to a dialect's
// quirks. The input map is never mutated; callers get a deep copy.
// Anthropic and the neutral dialect take schemas as-is.
func ProjectSchema(dialect string, schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	switch dialect {
	case llm.DialectOpenAI:
		return normalizeOpenAISchema(deepCopyMap(schema))
	case llm.DialectGemini:
		return normalizeGeminiSchema(deepCopyMap(schema))
	default:
		return deepCopyMap(schema)
	}
}

// OpenAI-compatible servers run strict validation: every object must
// close additionalProperties and list all its keys as required.
func normalizeOpenAISchema(schema map[string]any) map[string]any {
	if props, ok := schema["properties"].(map[string]any); ok {
		schema["additionalProperties"] = false
		required := make([]string, 0, len(props))
		for key, val := range props {
			if propSchema, ok := val.(map[string]any); ok {
				props[key] = normalizeOpenAISchema(propSchema)
			}
			required = append(required, key)
		}
		sort.Strings(required)
		schema["required"] = required
	}
	if items, ok := schema["items"].(map[string]any); ok {
		schema["items"] = normalizeOpenAISchema(items)
	}
	normalizeSchemaUnions(schema, normalizeOpenAISchema)
	return schema
}

// Gemini rejects a number of standard JSON Schema keys outright and
// wants required to cover every property.
var geminiUnsupportedKeys = []string{
	"$schema",
	"format",
	"exclusiveMinimum",
	"exclusiveMaximum",
	"minimum",
	"maximum",
	"minLength",
	"maxLength",
	"minItems",
	"maxItems",
	"uniqueItems",
	"pattern",
	"default",
	"examples",
	"const",
	"additionalProperties",
	"title",
}

func normalizeGeminiSchema(schema map[string]any) map[string]any {
	for _, key := range geminiUnsupportedKeys {
		delete(schema, key)
	}
	if props, ok := schema["properties"].(map[string]any); ok && len(props) > 0 {
		required := make([]string, 0, len(props))
		for key, val := range props {
			if propSchema, ok := val.(map[string]any); ok {
				props[key] = normalizeGeminiSchema(propSchema)
			}
			required = append(required, key)
		}
		sort.Strings(required)
		schema["required"] = required
	}
	if items, ok := schema["items"].(map[string]any); ok {
		schema["items"] = normalizeGeminiSchema(items)
	}
	normalizeSchemaUnions(schema, normalizeGeminiSchema)
	return schema
}

func normalizeSchemaUnions(schema map[string]any, normalize func(map[string]any) map[string]any) {
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if arr, ok := schema[key].([]any); ok {
			for i, item := range arr {
				if itemSchema, ok := item.(map[string]any); ok {
					arr[i] = normalize(itemSchema)
				}
			}
		}
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			result[k] = deepCopyMap(val)
		case []any:
			result[k] = deepCopySlice(val)
		default:
			result[k] = v
		}
	}
	return result
}

func deepCopySlice(s []any) []any {
	if s == nil {
		return nil
	}
	result := make([]any, len(s))
	for i, v := range s {
		switch val := v.(type) {
		case map[string]any:
			result[i] = deepCopyMap(val)
		case []any:
			result[i] = deepCopySlice(val)
		default:
			result[i] = v
		}
	}
	return result
}
