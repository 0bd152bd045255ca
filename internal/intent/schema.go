package intent

import "agent-platform/internal/convo"

// SchemaFor builds the JSON schema the provider must conform to for one
// dialogue mode. additionalProperties is false at every level so a drifting
// model response fails client-side validation instead of leaking junk fields.
func SchemaFor(mode convo.Mode) map[string]any {
	intents := IntentsFor(mode)
	enum := make([]string, len(intents))
	for i, in := range intents {
		enum[i] = string(in)
	}

	nullableString := map[string]any{"type": []string{"string", "null"}}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"intent": map[string]any{
				"type": "string",
				"enum": enum,
			},
			"parameters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"email": nullableString,
					"name":  nullableString,
					"phone": nullableString,
					"date":  nullableString,
					"time":  nullableString,
				},
				"required":             []string{"email", "name", "phone", "date", "time"},
				"additionalProperties": false,
			},
			"message": map[string]any{"type": "string"},
		},
		"required":             []string{"intent", "parameters", "message"},
		"additionalProperties": false,
	}
}
