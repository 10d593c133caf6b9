// Package docs holds the Swagger spec for the sessiond HTTP API. Regenerate
// with `swag init -g cmd/sessiond/docs.go -o docs` after changing handler
// annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {"name": "sessiond maintainers"},
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/session": {
            "post": {
                "description": "Loads a model in a fresh worker, or reuses the current worker when the options are unchanged.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Create or reuse the model session",
                "parameters": [{"description": "Session options; empty uses the default model", "name": "body", "in": "body", "schema": {"$ref": "#/definitions/types.CreateOptions"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "504": {"description": "Gateway Timeout", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["session"],
                "summary": "Destroy the model session",
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/v1/session/prompt": {
            "post": {
                "description": "Sends one prompt and waits for the complete reply.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Prompt the model",
                "parameters": [{"description": "Prompt", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.PromptRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PromptResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "504": {"description": "Gateway Timeout", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/session/prompt/stream": {
            "post": {
                "description": "Streams NDJSON lines: {\"chunk\":...} for each piece, then {\"done\":true} or {\"error\":...}.",
                "consumes": ["application/json"],
                "produces": ["application/x-ndjson"],
                "tags": ["session"],
                "summary": "Prompt the model and stream the reply",
                "parameters": [{"description": "Prompt", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.PromptRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StreamLine"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/session/stream": {
            "get": {
                "description": "WebSocket. The client sends one types.PromptRequest; the server answers with relay messages and closes.",
                "tags": ["session"],
                "summary": "Stream a prompt over WebSocket",
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        },
        "/models": {
            "get": {
                "produces": ["application/json"],
                "tags": ["ops"],
                "summary": "List models",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["ops"],
                "summary": "Session status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        }
    },
    "definitions": {
        "types.ChatMessage": {
            "type": "object",
            "properties": {"role": {"type": "string", "example": "user"}, "content": {"type": "string"}}
        },
        "types.CreateOptions": {
            "type": "object",
            "properties": {
                "modelPath": {"type": "string", "example": "/home/user/models/TinyLlama.Q4_K_M.gguf"},
                "modelAlias": {"type": "string", "example": "tinyllama.gguf"},
                "systemPrompt": {"type": "string"},
                "initialPrompts": {"type": "array", "items": {"$ref": "#/definitions/types.ChatMessage"}},
                "topK": {"type": "integer", "example": 40},
                "topP": {"type": "number", "example": 0.9},
                "temperature": {"type": "number", "example": 0.7},
                "contextSize": {"type": "integer", "example": 2048},
                "threads": {"type": "integer", "example": 4},
                "seed": {"type": "integer", "example": 42}
            }
        },
        "types.PromptOptions": {
            "type": "object",
            "properties": {"responseJSONSchema": {"type": "object"}, "timeoutMs": {"type": "integer", "example": 5000}}
        },
        "types.PromptRequest": {
            "type": "object",
            "properties": {"input": {"type": "string"}, "options": {"$ref": "#/definitions/types.PromptOptions"}}
        },
        "types.PromptResponse": {
            "type": "object",
            "properties": {"text": {"type": "string"}}
        },
        "types.StreamLine": {
            "type": "object",
            "properties": {"chunk": {"type": "string"}, "done": {"type": "boolean"}, "error": {"type": "string"}}
        },
        "types.Model": {
            "type": "object",
            "properties": {"id": {"type": "string"}, "name": {"type": "string"}, "path": {"type": "string"}}
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {"models": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}}}
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}, "code": {"type": "integer"}}
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string", "example": "ready"},
                "active": {"$ref": "#/definitions/types.CreateOptions"},
                "worker_pid": {"type": "integer"},
                "open_streams": {"type": "integer"},
                "prompt_in_flight": {"type": "boolean"},
                "last_error": {"type": "string"},
                "spawns_total": {"type": "integer"},
                "crashes_total": {"type": "integer"},
                "uptime_seconds": {"type": "integer"},
                "server_time_unix": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "sessiond API",
	Description:      "HTTP API for a single supervised LLM worker session.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
