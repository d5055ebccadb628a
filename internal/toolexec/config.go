package toolexec

import "time"

// Config configures the parallel tool executor: concurrency limit,
// timeouts, and retry/backoff strategy.
type Config struct {
	// MaxConcurrency limits the number of tool calls running at once.
	MaxConcurrency int
	// DefaultTimeout bounds a single tool execution attempt.
	DefaultTimeout time.Duration
	// DefaultRetries is how many times a retryable failure is retried.
	DefaultRetries int
	// RetryBackoff is the initial delay between retries.
	RetryBackoff time.Duration
	// MaxRetryBackoff caps the exponential backoff.
	MaxRetryBackoff time.Duration
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// ToolOverride holds per-tool overrides of the default timeout/retry
// settings, e.g. a longer timeout for run_command or web_fetch.
type ToolOverride struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}
