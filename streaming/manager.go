package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/khaledhikmat/vs-stream/decoder"
	"github.com/khaledhikmat/vs-stream/model"
	"github.com/khaledhikmat/vs-stream/service/lgr"
)

const tracerName = "github.com/khaledhikmat/vs-stream/streaming"

// StreamManager keeps one SyncedStreamReader per stream id and owns their
// shutdown.
type StreamManager struct {
	poller         StatusSource
	lookup         func(name string) (decoder.Opener, bool)
	defaultDecoder string
	retry          RetryPolicy
	maxStreams     int
	logger         *slog.Logger
	tracer         trace.Tracer

	mu      sync.Mutex
	readers map[model.StreamID]*SyncedStreamReader
	closing map[model.StreamID]*SyncedStreamReader
	opening int
	group   singleflight.Group

	startedAt     time.Time
	startRequests atomic.Int64
	opened        atomic.Int64
	openFailures  atomic.Int64
	closed        atomic.Int64
}

type ManagerOption func(*StreamManager)

// WithDecoders replaces the registry used to resolve decoder names.
func WithDecoders(lookup func(name string) (decoder.Opener, bool)) ManagerOption {
	return func(m *StreamManager) {
		m.lookup = lookup
	}
}

// WithDefaultDecoder names the decoder used when a configuration does not pick one.
func WithDefaultDecoder(name string) ManagerOption {
	return func(m *StreamManager) {
		m.defaultDecoder = name
	}
}

func WithManagerRetryPolicy(policy RetryPolicy) ManagerOption {
	return func(m *StreamManager) {
		m.retry = policy
	}
}

// WithMaxStreams limits the number of concurrently registered streams. Zero means no limit.
func WithMaxStreams(n int) ManagerOption {
	return func(m *StreamManager) {
		m.maxStreams = n
	}
}

func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *StreamManager) {
		m.logger = logger
	}
}

// WithTracerProvider sets where manager spans go. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) ManagerOption {
	return func(m *StreamManager) {
		m.tracer = tp.Tracer(tracerName)
	}
}

func NewStreamManager(poller StatusSource, opts ...ManagerOption) *StreamManager {
	m := &StreamManager{
		poller:         poller,
		lookup:         decoder.Lookup,
		defaultDecoder: "cv",
		retry:          DefaultRetryPolicy(),
		logger:         lgr.Logger,
		tracer:         otel.Tracer(tracerName),
		readers:        map[model.StreamID]*SyncedStreamReader{},
		closing:        map[model.StreamID]*SyncedStreamReader{},
		startedAt:      time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartStreaming returns the reader registered for cfg.ID, or opens one.
// An existing reader wins even if url differs. Concurrent calls for the same
// id share a single open. If the id is still tearing down from an earlier
// close, StartStreaming waits for that to finish (or for ctx).
func (m *StreamManager) StartStreaming(ctx context.Context, cfg model.StreamConfiguration, url string) (*SyncedStreamReader, error) {
	m.startRequests.Add(1)

	if r := m.get(cfg.ID); r != nil {
		return r, nil
	}

	ctx, span := m.tracer.Start(ctx, "StreamManager.StartStreaming", trace.WithAttributes(
		attribute.Int64("stream.id", int64(cfg.ID)),
		attribute.String("stream.connection_type", string(cfg.ConnType)),
	))
	defer span.End()

	if cfg.ID == 0 {
		err := fmt.Errorf("%w: stream id is unset", model.ErrInvalidConfiguration)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	v, err, shared := m.group.Do(cfg.ID.String(), func() (interface{}, error) {
		if r := m.get(cfg.ID); r != nil {
			return r, nil
		}

		if err := m.waitForTeardown(ctx, cfg.ID); err != nil {
			return nil, err
		}

		// Opens in flight count against maxStreams
		m.mu.Lock()
		if m.maxStreams > 0 && len(m.readers)+m.opening >= m.maxStreams {
			m.mu.Unlock()
			return nil, ErrTooManyStreams
		}
		m.opening++
		m.mu.Unlock()

		r, err := m.open(cfg, url)

		m.mu.Lock()
		m.opening--
		if err == nil {
			m.readers[cfg.ID] = r
		}
		m.mu.Unlock()

		if err != nil {
			m.openFailures.Add(1)
			return nil, err
		}
		m.opened.Add(1)

		return r, nil
	})
	span.SetAttributes(attribute.Bool("stream.shared", shared))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return v.(*SyncedStreamReader), nil
}

func (m *StreamManager) open(cfg model.StreamConfiguration, url string) (*SyncedStreamReader, error) {
	name := cfg.RuntimeOptions.Decoder
	if name == "" {
		name = m.defaultDecoder
	}

	opener, ok := m.lookup(name)
	if !ok {
		return nil, &decoder.OpenError{URL: url, Err: fmt.Errorf("unknown decoder %q", name)}
	}

	latency := LatencyFor(cfg.ConnType)
	reader, err := Open(opener, url, latency, cfg.RuntimeOptions, cfg.ConnectionOptions.Pipeline,
		WithRetryPolicy(m.retry),
		WithLogger(m.logger.With(slog.Int64("streamID", int64(cfg.ID)))),
	)
	if err != nil {
		m.logger.Error("error opening stream",
			slog.Int64("streamID", int64(cfg.ID)),
			slog.String("decoder", name),
			slog.Any("error", err),
		)
		return nil, err
	}

	return NewSyncedStreamReader(cfg.ID, reader, m.poller), nil
}

func (m *StreamManager) get(id model.StreamID) *SyncedStreamReader {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readers[id]
}

func (m *StreamManager) waitForTeardown(ctx context.Context, id model.StreamID) error {
	m.mu.Lock()
	prev := m.closing[id]
	m.mu.Unlock()

	if prev == nil {
		return nil
	}

	m.logger.Debug("waiting for previous reader teardown", slog.Int64("streamID", int64(id)))
	return prev.WaitContext(ctx)
}

func (m *StreamManager) IsStreaming(id model.StreamID) bool {
	return m.get(id) != nil
}

// Streams returns the registered readers in no particular order.
func (m *StreamManager) Streams() []*SyncedStreamReader {
	m.mu.Lock()
	defer m.mu.Unlock()

	readers := make([]*SyncedStreamReader, 0, len(m.readers))
	for _, r := range m.readers {
		readers = append(readers, r)
	}
	return readers
}

// CloseStream closes a stream and waits until its decoder is released.
func (m *StreamManager) CloseStream(id model.StreamID) error {
	r, err := m.CloseStreamAsync(id)
	if err != nil {
		return err
	}
	r.WaitUntilClosed()
	return nil
}

// CloseStreamAsync unregisters a stream and signals it to close without
// waiting for teardown.
func (m *StreamManager) CloseStreamAsync(id model.StreamID) (*SyncedStreamReader, error) {
	_, span := m.tracer.Start(context.Background(), "StreamManager.CloseStreamAsync", trace.WithAttributes(
		attribute.Int64("stream.id", int64(id)),
	))
	defer span.End()

	m.mu.Lock()
	r, ok := m.readers[id]
	if !ok {
		m.mu.Unlock()
		err := &UnknownStreamError{ID: id}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	delete(m.readers, id)
	m.closing[id] = r
	m.mu.Unlock()

	r.Close()

	go func() {
		r.WaitUntilClosed()
		m.closed.Add(1)
		m.forget(id, r)
	}()

	return r, nil
}

func (m *StreamManager) forget(id model.StreamID, r *SyncedStreamReader) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing[id] == r {
		delete(m.closing, id)
	}
}

// Close closes every registered stream and returns once all of them have
// released their decoders. Streams tear down in parallel.
func (m *StreamManager) Close() {
	_ = m.CloseContext(context.Background())
}

// CloseContext is Close with a deadline. On ctx expiry the remaining streams
// keep tearing down in the background and the ctx error is returned.
func (m *StreamManager) CloseContext(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]model.StreamID, 0, len(m.readers))
	for id := range m.readers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		var unknown *UnknownStreamError
		if _, err := m.CloseStreamAsync(id); err != nil && !errors.As(err, &unknown) {
			return err
		}
	}

	m.mu.Lock()
	pending := make(map[model.StreamID]*SyncedStreamReader, len(m.closing))
	for id, r := range m.closing {
		pending[id] = r
	}
	m.mu.Unlock()

	m.logger.Info("stream manager is waiting for all streams to close",
		slog.Int("closing", len(pending)),
	)

	g, gctx := errgroup.WithContext(ctx)
	for id, r := range pending {
		id, r := id, r
		g.Go(func() error {
			if err := r.WaitContext(gctx); err != nil {
				return err
			}
			m.forget(id, r)
			return nil
		})
	}

	return g.Wait()
}

func (m *StreamManager) Stats() model.ManagerStats {
	m.mu.Lock()
	active, closing := len(m.readers), len(m.closing)
	m.mu.Unlock()

	stats := model.ManagerStats{
		TotalStartRequests: m.startRequests.Load(),
		TotalOpenedStreams: m.opened.Load(),
		TotalOpenFailures:  m.openFailures.Load(),
		TotalClosedStreams: m.closed.Load(),
		ActiveStreams:      active,
		ClosingStreams:     closing,
		Uptime:             int64(time.Since(m.startedAt).Seconds()),
	}
	if minutes := time.Since(m.startedAt).Minutes(); minutes > 0 {
		stats.AvgOpenedStreamsPerM = float64(stats.TotalOpenedStreams) / minutes
	}
	return stats
}
