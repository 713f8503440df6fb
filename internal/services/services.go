// Package services holds the clients of the external collaborators: the Ollama generate endpoint and the
// weather forecast backend, plus the static data the backend serves.
package services

const errLoggerKey = "err"
