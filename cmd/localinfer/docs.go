package main

// General API documentation for swaggo. Run `swag init -g cmd/localinfer/docs.go
// -o internal/httpapi/docs` to regenerate, then build with -tags swagger.
//
// @title           localinfer API
// @version         1.0
// @description     HTTP API for local LLM inference: completions with grammar, LoRA and multimodal input.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
