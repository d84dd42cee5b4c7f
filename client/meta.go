package client

import (
	"time"

	"github.com/jpillora/backoff"

	"github.com/go-salt/salt/assemble"
)

// ConnectionMeta is the per-target retry policy (spec.md §3). The zero
// value disables retries entirely: RetryOnError defaults to false.
type ConnectionMeta struct {
	// RetryOnError enables the reconnection policy on any connection
	// error (resolve/connect/read failure, or parser-demanded teardown).
	// A failed write is reported only to that send's completion; it does
	// not by itself start the policy. If false, a failure notifies
	// ConnectionDropped and stops, identical to having no meta installed
	// at all.
	RetryOnError bool
	// RetryForever, when true, ignores MaxRetryCount and always
	// schedules another attempt.
	RetryForever bool
	// MaxRetryCount bounds the number of attempts when RetryForever is
	// false.
	MaxRetryCount int
	// RetryIntervalSeconds is the delay before each reconnect attempt; 0
	// means immediate. Negative leaves the interval unset, so the
	// Client's configured default (config.Tunables.RetryIntervalSecs,
	// itself 0 unless overridden via $HOME/.salt/config.yaml) applies
	// instead.
	RetryIntervalSeconds int
	// AssembleFactory, if set, overrides the client-global factory for
	// this target only.
	AssembleFactory assemble.Factory
}

// connectionMetaRuntime pairs a ConnectionMeta with its mutable retry
// counter. Created when a target is registered with RetryOnError set,
// mutated only on the client's control executor, removed when the caller
// calls Forget or registers the target again without RetryOnError.
type connectionMetaRuntime struct {
	meta         ConnectionMeta
	currentRetry int
}

// retryDelay computes the fixed reconnect interval via jpillora/backoff,
// the same library the teacher's apispec package drives its polling loop
// with (apispec/run.go's pollSpecUntilReady). Min==Max collapses the
// library's exponential-backoff behavior down to the spec's fixed
// retry_interval_s, leaving the call site free to later switch to a
// jittered policy without touching the scheduling code.
//
// defaultIntervalSecs is the Client's configured fallback (see
// config.Tunables.RetryIntervalSecs), applied whenever meta leaves its
// interval unset (negative).
func retryDelay(meta ConnectionMeta, defaultIntervalSecs int) time.Duration {
	secs := meta.RetryIntervalSeconds
	if secs < 0 {
		secs = defaultIntervalSecs
	}
	d := time.Duration(secs) * time.Second
	if d <= 0 {
		// backoff.Backoff treats a zero Min/Max as "use its own defaults",
		// which would turn an immediate retry into a 100ms one.
		return 0
	}
	b := &backoff.Backoff{Min: d, Max: d, Factor: 1}
	return b.Duration()
}
