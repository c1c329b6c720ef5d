package transfer

import (
	"time"
)

// Default retry policy values
const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 30 * time.Second
	DefaultMaxDelay   = 30 * time.Minute
)

// RetryPolicy bounds automatic retries of FAILED transfers
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns the default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

// withDefaults fills unset fields
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// Backoff returns the wait after the given number of retries already made
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	p = p.withDefaults()
	if p.BaseDelay == 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// RetrySkipReason explains why a FAILED record was not retried
type RetrySkipReason string

const (
	RetrySkipNone      RetrySkipReason = ""
	RetrySkipExhausted RetrySkipReason = "RETRIES_EXHAUSTED"
	RetrySkipBackoff   RetrySkipReason = "BACKOFF"
	RetrySkipRejected  RetrySkipReason = "REJECTED_NEEDS_OPERATOR"
	RetrySkipNotFailed RetrySkipReason = "NOT_FAILED"
)

// RetryOptions tunes a single retry pass
type RetryOptions struct {
	// IncludeRejected also retries records the gateway rejected, after an operator fixed the cause
	IncludeRejected bool
	// RespectBackoff skips records whose backoff window has not elapsed
	RespectBackoff bool
}

// Evaluate decides whether a record may be retried now
func (p RetryPolicy) Evaluate(r *TransferRecord, now time.Time, opts RetryOptions) RetrySkipReason {
	p = p.withDefaults()
	if r.Status != StatusFailed {
		return RetrySkipNotFailed
	}
	if r.RetryCount >= p.MaxRetries {
		return RetrySkipExhausted
	}
	if r.FailureReason.IsRejection() && !opts.IncludeRejected {
		return RetrySkipRejected
	}
	if opts.RespectBackoff && r.LastFailedAt != nil {
		if now.Before(r.LastFailedAt.Add(p.Backoff(r.RetryCount))) {
			return RetrySkipBackoff
		}
	}
	return RetrySkipNone
}
