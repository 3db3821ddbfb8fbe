// Package llmassist provides an OpenAI-compatible chat-completions client
// used by the anthology resolver (internal/anthology) as a last resort when
// deterministic interval algebra and token-similarity scoring leave one or
// more segments unresolved.
//
// # Configuration
//
// Requires api_key, model, and optionally base_url, referer, title, timeout.
// The server is expected to expose an Ollama/OpenRouter-compatible
// chat-completions endpoint; packaging or serving a model is out of scope.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.CompleteJSON: send system/user prompts, receive JSON response.
// Client.ResolveAnthology: propose segment-to-title assignments from a
// closed candidate list; any title outside that list is dropped rather than
// trusted.
// Client.HealthCheck: verify API key and model availability.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors and network timeouts with
// exponential backoff (base 1s, max 10s, up to 5 attempts by default).
// Context cancellation aborts retries immediately.
//
// # Trust Boundary
//
// A model response is never trusted until it has been strictly decoded
// (unknown fields rejected) into AnthologyAssistResponse and every assigned
// title has been checked against the caller's candidate list.
package llmassist
