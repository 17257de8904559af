// Package llm provides an OpenRouter chat client used by the script stage.
//
// The client sends a system prompt and a user prompt to the configured model
// in JSON mode and returns the raw payload. DecodeLLMJSON tolerates the usual
// formatting quirks (code fences, prose around the object).
//
// Each call is a single attempt. Failures are tagged with services markers:
// 408/429/5xx and network timeouts are transient, other 4xx responses and
// model refusals are fatal input, a missing key is a configuration error.
package llm
