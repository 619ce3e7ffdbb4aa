// Package docs registers the OpenAPI description of the HTTP API with swag.
// It is kept in step with the annotations in cmd/localinfer/docs.go.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/models": {"get": {"summary": "List models and adapters", "produces": ["application/json"],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}}},
        "/status": {"get": {"summary": "Instance and budget status", "produces": ["application/json"],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}}},
        "/models/{id}/load": {"post": {"summary": "Start an async model load",
            "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"202": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.OpResponse"}},
                "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}}}},
        "/models/{id}/unload": {"post": {"summary": "Drain and unload a model",
            "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"204": {"description": "No Content"},
                "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}}}},
        "/models/{id}/info": {"get": {"summary": "Model metadata, adapters and grammars",
            "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelInfoResponse"}}}}},
        "/ops/{id}": {"get": {"summary": "Async load status",
            "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.OpStatus"}}}}},
        "/complete": {"post": {"summary": "Generate a completion; NDJSON when stream is true",
            "consumes": ["application/json"], "produces": ["application/json", "application/x-ndjson"],
            "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.CompleteRequest"}}],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.CompleteResponse"}},
                "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}}}},
        "/tokenize": {"post": {"summary": "Tokenize text",
            "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.TokenizeRequest"}}],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.TokenizeResponse"}}}}},
        "/detokenize": {"post": {"summary": "Render tokens as text",
            "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.DetokenizeRequest"}}],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.DetokenizeResponse"}}}}},
        "/embeddings": {"post": {"summary": "Pooled embedding of the input",
            "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.EmbeddingsRequest"}}],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.EmbeddingsResponse"}}}}},
        "/adapters": {"post": {"summary": "Load a LoRA adapter",
            "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.AdapterLoadRequest"}}],
            "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/types.IDResponse"}}}}},
        "/grammars": {"post": {"summary": "Register a grammar",
            "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.GrammarCreateRequest"}}],
            "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/types.IDResponse"}}}}}
    },
    "definitions": {
        "types.ModelsResponse": {"type": "object"},
        "types.StatusResponse": {"type": "object"},
        "types.OpResponse": {"type": "object", "properties": {"op_id": {"type": "string"}}},
        "types.OpStatus": {"type": "object"},
        "types.ModelInfoResponse": {"type": "object"},
        "types.CompleteRequest": {"type": "object", "required": ["prompt"], "properties": {
            "model": {"type": "string"}, "prompt": {"type": "string"}, "stream": {"type": "boolean"},
            "max_tokens": {"type": "integer"}, "temperature": {"type": "number"}, "top_k": {"type": "integer"},
            "top_p": {"type": "number"}, "min_p": {"type": "number"}, "typical_p": {"type": "number"},
            "repeat_penalty": {"type": "number"}, "repeat_last_n": {"type": "integer"},
            "stop": {"type": "array", "items": {"type": "string"}}, "seed": {"type": "integer"},
            "grammar": {"type": "string"}, "grammar_root": {"type": "string"}, "grammar_id": {"type": "integer"},
            "json_schema": {"type": "object"}}},
        "types.CompleteResponse": {"type": "object"},
        "types.TokenizeRequest": {"type": "object"},
        "types.TokenizeResponse": {"type": "object"},
        "types.DetokenizeRequest": {"type": "object"},
        "types.DetokenizeResponse": {"type": "object"},
        "types.EmbeddingsRequest": {"type": "object"},
        "types.EmbeddingsResponse": {"type": "object"},
        "types.AdapterLoadRequest": {"type": "object"},
        "types.GrammarCreateRequest": {"type": "object"},
        "types.IDResponse": {"type": "object", "properties": {"id": {"type": "integer"}}},
        "types.ErrorResponse": {"type": "object", "properties": {
            "error": {"type": "string"}, "code": {"type": "integer"}, "kind": {"type": "string"}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "localinfer API",
	Description:      "HTTP API for on-device LLM inference: completion, grammars, adapters and multimodal input.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
