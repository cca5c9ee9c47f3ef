// Package agent builds LLM clients: a provider implementation selected from
// configuration, wrapped in the shared middleware chain (metrics, logging,
// empty-response validation, retry, circuit breaking, rate limiting and
// per-attempt timeouts).
//
// Provider implementations live under internal/llmimpl and are reachable only
// through the factory.
package agent
