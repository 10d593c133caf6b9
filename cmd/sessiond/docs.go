package main

// General API documentation for swaggo. Regenerate the docs package with
// `swag init -g cmd/sessiond/docs.go -o docs`.
//
// @title           sessiond API
// @version         1.0
// @description     HTTP API for a single supervised LLM worker session.
//
// @contact.name   sessiond maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
