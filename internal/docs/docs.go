// Package docs holds the OpenAPI description of the HTTP API, registered with
// swag so gin-swagger can serve it under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/admin/newsletters": {
            "post": {
                "description": "Stores the issue and queues one delivery per confirmed subscriber. Repeating a request with the same idempotency key returns the original response unchanged.",
                "consumes": [
                    "application/json",
                    "application/x-www-form-urlencoded"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Newsletters"
                ],
                "summary": "Publish a newsletter issue",
                "operationId": "publishNewsletter",
                "parameters": [
                    {
                        "type": "string",
                        "example": "editor",
                        "description": "User ID (demo header)",
                        "name": "X-User-ID",
                        "in": "header"
                    },
                    {
                        "type": "string",
                        "description": "Idempotency key (1-49 characters)",
                        "name": "Idempotency-Key",
                        "in": "header"
                    },
                    {
                        "description": "Issue payload",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handlers.PublishNewsletterRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.PublishAccepted"
                        }
                    },
                    "400": {
                        "description": "Invalid payload or idempotency key",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    },
                    "409": {
                        "description": "Same key still being processed",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    },
                    "429": {
                        "description": "Rate limited",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    },
                    "500": {
                        "description": "Internal server error",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    },
                    "502": {
                        "description": "Direct delivery failed",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {
                    "description": "Stable, machine-readable code (see errors.go constants)",
                    "type": "string",
                    "example": "bad_request"
                },
                "message": {
                    "description": "Human-readable message (safe to show to users)",
                    "type": "string",
                    "example": "title, html_content and text_content are required"
                },
                "request_id": {
                    "description": "Correlates server logs and client errors",
                    "type": "string",
                    "example": "123e4567-e89b-12d3-a456-426614174000"
                }
            }
        },
        "handlers.PublishAccepted": {
            "type": "object",
            "properties": {
                "issue_id": {
                    "type": "string",
                    "example": "fa4dfbe0-c3bf-47bd-b32f-d7de221cf43b"
                },
                "message": {
                    "type": "string",
                    "example": "The newsletter issue has been accepted - emails will go out shortly."
                },
                "recipients": {
                    "type": "integer",
                    "example": 3
                },
                "status": {
                    "type": "string",
                    "example": "accepted"
                }
            }
        },
        "handlers.PublishNewsletterRequest": {
            "type": "object",
            "required": [
                "html_content",
                "text_content",
                "title"
            ],
            "properties": {
                "html_content": {
                    "type": "string",
                    "example": "<p>Hello!</p>"
                },
                "idempotency_key": {
                    "description": "IdempotencyKey may also be sent in the Idempotency-Key header. The body\nfield wins when both are present.",
                    "type": "string",
                    "example": "2f1c9a8e-issue-42"
                },
                "text_content": {
                    "type": "string",
                    "example": "Hello!"
                },
                "title": {
                    "type": "string",
                    "example": "October issue"
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "go-newsletter API",
	Description:      "Publishes newsletter issues to confirmed subscribers through a transactional delivery queue.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
