// In file: internal/llm/constants.go
package llm

import "time"

// Shared by the backend clients in this package.
const (
	defaultTimeout    = 120 * time.Second
	defaultMaxTokens  = 4096
	maxRetries        = 3
	initialRetryDelay = 2 * time.Second
	maxRetryDelay     = 20 * time.Second
)
