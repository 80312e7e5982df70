package api

import "github.com/xeipuuv/gojsonschema"

var inputSchemas = map[string]string{
	"ProcessRequest": ProcessRequestSchemaDefinition,
}

func compileJSONSchemas() map[string]*gojsonschema.Schema {
	compiled := make(map[string]*gojsonschema.Schema, len(inputSchemas))
	for name, text := range inputSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
		if err != nil {
			// fix schema text - this is a compile-time programmer error
			panic(err)
		}
		compiled[name] = schema
	}
	return compiled
}

// Run compile step on program start, same as handlers.inputSchemasCompiled.
var inputSchemasCompiled = compileJSONSchemas()

// ProcessRequestSchemaDefinition validates ProcessRequestBody. At least one
// of "file" or "url" is required (anyOf); when both are present the
// Dispatch Gate routes on "url".
var ProcessRequestSchemaDefinition = `{
	"type": "object",
	"properties": {
		"file": {
			"type": "object",
			"properties": {
				"filename": {"type": "string"},
				"mimeType": {"type": "string"},
				"fileSize": {"type": "integer"},
				"storagePath": {"type": "string"},
				"inlineBufferBase64": {"type": "string"}
			},
			"required": ["filename"],
			"type": "object"
		},
		"url": {"type": "string"},
		"virusScanBypass": {"type": "boolean"},
		"user": {
			"type": "object",
			"properties": {
				"userId": {"type": "string"},
				"orgId": {"type": "string"},
				"userTrustScore": {"type": "number"}
			}
		},
		"orgPolicies": {
			"type": "object",
			"properties": {
				"flags": {"type": "object"}
			}
		},
		"async": {"type": "boolean"},
		"priority": {"type": "integer"}
	},
	"anyOf": [
		{"required": ["file"]},
		{"required": ["url"]}
	]
}`
