package tools

import "time"

// defaultCommandTimeout bounds a run_command invocation that does not pass
// its own timeout_seconds ("bounded timeout").
const defaultCommandTimeout = 2 * time.Minute

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
