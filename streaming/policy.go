package streaming

import (
	"time"

	"github.com/khaledhikmat/vs-stream/model"
)

// LatencyPolicy trades end-to-end delay against resilience to jitter.
type LatencyPolicy struct {
	BufferFrames int
	TargetDelay  time.Duration
}

var (
	// DefaultLatency suits already-compressed remote cameras played as-is.
	DefaultLatency = LatencyPolicy{BufferFrames: 1, TargetDelay: 100 * time.Millisecond}
	// RehostedLatency suits webcams and files the server re-encodes.
	RehostedLatency = LatencyPolicy{BufferFrames: 30, TargetDelay: 2000 * time.Millisecond}
)

func LatencyFor(connType model.ConnType) LatencyPolicy {
	if connType.IsRehosted() {
		return RehostedLatency
	}
	return DefaultLatency
}

// RetryPolicy governs how the decode loop reacts to transient errors.
type RetryPolicy struct {
	// MaxRetries consecutive transient failures are tolerated; one more closes the stream.
	MaxRetries int
	// RetryDelay is the first backoff; each further failure doubles it.
	RetryDelay time.Duration
	// MaxRetryDelay caps the backoff.
	MaxRetryDelay time.Duration
	// ReconnectAfter consecutive failures the decoder is reopened. Zero disables reconnects.
	ReconnectAfter int
	// ReadTimeout bounds a single ReadNext call. Zero means unbounded.
	ReadTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     5,
		RetryDelay:     1 * time.Second,
		MaxRetryDelay:  30 * time.Second,
		ReconnectAfter: 3,
		ReadTimeout:    5 * time.Second,
	}
}

// backoff returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxRetryDelay > 0 && delay >= p.MaxRetryDelay {
			return p.MaxRetryDelay
		}
	}

	if p.MaxRetryDelay > 0 && delay > p.MaxRetryDelay {
		delay = p.MaxRetryDelay
	}
	return delay
}
