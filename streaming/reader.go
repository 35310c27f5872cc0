package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/khaledhikmat/vs-stream/decoder"
	"github.com/khaledhikmat/vs-stream/model"
	"github.com/khaledhikmat/vs-stream/service/lgr"
)

// StreamReader owns one decoder and runs its decode loop on a dedicated
// goroutine, keeping only the latest frame.
type StreamReader struct {
	id      string
	url     string
	opener  decoder.Opener
	options decoder.Options
	runtime model.RuntimeOptions
	retry   RetryPolicy
	logger  *slog.Logger

	slot      *LatestFrameSlot
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	startedAt time.Time

	frames     atomic.Uint64
	lastSeq    atomic.Uint64
	transients atomic.Uint64
	reconnects atomic.Uint64
	readTime   atomic.Int64
	stoppedAt  atomic.Int64
}

type ReaderOption func(*StreamReader)

func WithRetryPolicy(policy RetryPolicy) ReaderOption {
	return func(r *StreamReader) {
		r.retry = policy
	}
}

func WithLogger(logger *slog.Logger) ReaderOption {
	return func(r *StreamReader) {
		r.logger = logger
	}
}

// Open constructs the decoder for url and starts the decode loop. It does not
// wait for the first frame. A decoder that cannot be built yields an
// *decoder.OpenError and nothing is started.
func Open(opener decoder.Opener, url string, latency LatencyPolicy, runtime model.RuntimeOptions, pipeline string, opts ...ReaderOption) (*StreamReader, error) {
	r := &StreamReader{
		id:     uuid.NewString(),
		url:    url,
		opener: opener,
		options: decoder.Options{
			URL:           url,
			Pipeline:      pipeline,
			BufferFrames:  latency.BufferFrames,
			TargetDelay:   latency.TargetDelay,
			KeyframesOnly: runtime.KeyframesOnly,
		},
		runtime: runtime,
		retry:   DefaultRetryPolicy(),
		logger:  lgr.Logger,
		slot:    NewLatestFrameSlot(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("readerID", r.id))

	dec, err := r.openDecoder()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.startedAt = time.Now()

	r.logger.Info("stream reader starting....",
		slog.String("url", url),
		slog.Int("bufferFrames", latency.BufferFrames),
		slog.Duration("targetDelay", latency.TargetDelay),
		slog.Bool("loop", runtime.Loop),
	)

	go r.run(ctx, dec)

	return r, nil
}

func (r *StreamReader) ID() string {
	return r.id
}

func (r *StreamReader) URL() string {
	return r.url
}

// LatestFrame never blocks. It returns nil until the first frame arrives and
// after the stream is closed.
func (r *StreamReader) LatestFrame() *model.DecodedFrame {
	return r.slot.Frame()
}

func (r *StreamReader) IsAlive() bool {
	return r.slot.State() == StateAlive
}

func (r *StreamReader) State() State {
	return r.slot.State()
}

// LastError is the error that closed the stream, if any.
func (r *StreamReader) LastError() error {
	return r.slot.Err()
}

// Done is closed once teardown has completed.
func (r *StreamReader) Done() <-chan struct{} {
	return r.done
}

// Close asks the decode loop to stop. It does not wait; see WaitUntilClosed.
func (r *StreamReader) Close() {
	r.closeOnce.Do(func() {
		if r.slot.markClosing() {
			r.logger.Debug("stream reader closing")
		}
		r.cancel()
	})
}

func (r *StreamReader) WaitUntilClosed() {
	<-r.done
}

// WaitContext waits for teardown but gives up when ctx is done.
func (r *StreamReader) WaitContext(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stream reader %s teardown: %w", r.id, ctx.Err())
	}
}

func (r *StreamReader) Stats() model.ReaderStats {
	end := time.Now()
	if stopped := r.stoppedAt.Load(); stopped != 0 {
		end = time.Unix(0, stopped)
	}

	uptime := end.Sub(r.startedAt)
	frames := r.frames.Load()

	stats := model.ReaderStats{
		ReaderID:        r.id,
		State:           r.State().String(),
		Frames:          frames,
		LastSeq:         r.lastSeq.Load(),
		TransientErrors: r.transients.Load(),
		Reconnects:      r.reconnects.Load(),
		Uptime:          int64(uptime.Seconds()),
	}
	if uptime > 0 {
		stats.FPS = int(float64(frames) / uptime.Seconds())
	}
	if frames > 0 {
		stats.AvgReadTime = time.Duration(r.readTime.Load()).Seconds() / float64(frames)
	}
	if err := r.LastError(); err != nil {
		stats.LastError = err.Error()
	}
	return stats
}

func (r *StreamReader) openDecoder() (decoder.Decoder, error) {
	dec, err := r.opener(r.options)
	if err != nil {
		var openErr *decoder.OpenError
		if errors.As(err, &openErr) {
			return nil, err
		}
		return nil, &decoder.OpenError{URL: r.url, Err: err}
	}
	return dec, nil
}

func (r *StreamReader) run(ctx context.Context, dec decoder.Decoder) {
	err := r.decodeLoop(ctx, &dec)

	r.slot.markClosing()
	if dec != nil {
		if cerr := dec.Close(); cerr != nil {
			r.logger.Warn("error releasing decoder", slog.Any("error", cerr))
		}
	}
	r.stoppedAt.Store(time.Now().UnixNano())
	r.slot.markClosed(err)

	if err != nil {
		r.logger.Error("stream reader stopped on error",
			slog.Any("error", err),
			slog.Uint64("frames", r.frames.Load()),
		)
	} else {
		r.logger.Info("stream reader stopped",
			slog.Uint64("frames", r.frames.Load()),
		)
	}

	close(r.done)
}

// decodeLoop returns nil when stopped by Close or at a clean end of stream,
// otherwise the error that ended the stream. *dec always holds the decoder
// that still needs releasing, or nil.
func (r *StreamReader) decodeLoop(ctx context.Context, dec *decoder.Decoder) error {
	var (
		seq      uint64
		failures int
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		var err error
		if *dec == nil {
			*dec, err = r.openDecoder()
		}

		if err == nil {
			var frame decoder.Frame
			frame, err = r.read(ctx, *dec)
			if err == nil {
				failures = 0
				seq++
				r.slot.Publish(&model.DecodedFrame{
					Seq:       seq,
					Timestamp: frame.Timestamp,
					Width:     frame.Width,
					Height:    frame.Height,
					Data:      frame.Data,
				})
				r.lastSeq.Store(seq)
				r.frames.Add(1)
				continue
			}
		}

		if ctx.Err() != nil {
			return nil
		}

		switch {
		case errors.Is(err, decoder.ErrEOF):
			if !r.runtime.Loop {
				r.logger.Info("end of stream reached")
				return nil
			}
			r.logger.Debug("end of stream reached, looping")
			r.release(dec)
			continue

		case decoder.IsFatal(err):
			return err
		}

		failures++
		r.transients.Add(1)
		if failures > r.retry.MaxRetries {
			return fmt.Errorf("%w (%d attempts): %w", ErrRetriesExhausted, failures, err)
		}

		if r.retry.ReconnectAfter > 0 && failures%r.retry.ReconnectAfter == 0 && *dec != nil {
			r.reconnects.Add(1)
			r.logger.Warn("reconnecting decoder",
				slog.Int("failures", failures),
				slog.Any("error", err),
			)
			r.release(dec)
		}

		delay := r.retry.backoff(failures)
		r.logger.Warn("transient decode error, retrying",
			slog.Int("attempt", failures),
			slog.Int("maxRetries", r.retry.MaxRetries),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (r *StreamReader) read(ctx context.Context, dec decoder.Decoder) (decoder.Frame, error) {
	readCtx := ctx
	if r.retry.ReadTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, r.retry.ReadTimeout)
		defer cancel()
	}

	start := time.Now()
	frame, err := dec.ReadNext(readCtx)
	if err == nil {
		r.readTime.Add(int64(time.Since(start)))
	}
	return frame, err
}

func (r *StreamReader) release(dec *decoder.Decoder) {
	if *dec == nil {
		return
	}
	if err := (*dec).Close(); err != nil {
		r.logger.Warn("error releasing decoder", slog.Any("error", err))
	}
	*dec = nil
}
