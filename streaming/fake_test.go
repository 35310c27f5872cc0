package streaming

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khaledhikmat/vs-stream/decoder"
	"github.com/khaledhikmat/vs-stream/model"
)

var (
	errStall     = decoder.Transient(errors.New("network stall"))
	errMalformed = decoder.Fatal(errors.New("malformed bitstream"))
)

// fakeSource hands out scripted decoders. Script entries are consumed in
// order across reopens; a nil entry yields a frame. Once the script runs out
// every read yields a frame after frameDelay.
type fakeSource struct {
	openDelay  time.Duration
	openErr    error
	frameDelay time.Duration
	closeDelay time.Duration

	mu       sync.Mutex
	script   []error
	lastOpts map[string]decoder.Options

	opens  atomic.Int32
	live   atomic.Int32
	closes atomic.Int32
}

func newFakeSource(script ...error) *fakeSource {
	return &fakeSource{
		frameDelay: time.Millisecond,
		script:     script,
		lastOpts:   map[string]decoder.Options{},
	}
}

func (s *fakeSource) Open(opts decoder.Options) (decoder.Decoder, error) {
	if s.openDelay > 0 {
		time.Sleep(s.openDelay)
	}
	if s.openErr != nil {
		return nil, s.openErr
	}

	s.mu.Lock()
	s.lastOpts[opts.URL] = opts
	s.mu.Unlock()

	s.opens.Add(1)
	s.live.Add(1)
	return &fakeDecoder{src: s}, nil
}

func (s *fakeSource) lookup(string) (decoder.Opener, bool) {
	return s.Open, true
}

func (s *fakeSource) options(url string) decoder.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOpts[url]
}

// next pops the next scripted step. scripted is false once the script is used up.
func (s *fakeSource) next() (scripted bool, step error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) == 0 {
		return false, nil
	}
	step = s.script[0]
	s.script = s.script[1:]
	return true, step
}

type fakeDecoder struct {
	src    *fakeSource
	closed bool
}

func (d *fakeDecoder) ReadNext(ctx context.Context) (decoder.Frame, error) {
	if scripted, step := d.src.next(); scripted {
		if step != nil {
			return decoder.Frame{}, step
		}
		return decoder.Frame{Timestamp: time.Now(), Width: 2, Height: 2, Data: make([]byte, 12)}, nil
	}

	timer := time.NewTimer(d.src.frameDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return decoder.Frame{}, ctx.Err()
	case <-timer.C:
	}
	return decoder.Frame{Timestamp: time.Now(), Width: 2, Height: 2, Data: make([]byte, 12)}, nil
}

func (d *fakeDecoder) Close() error {
	if d.closed {
		return errors.New("decoder closed twice")
	}
	d.closed = true
	if d.src.closeDelay > 0 {
		time.Sleep(d.src.closeDelay)
	}
	d.src.live.Add(-1)
	d.src.closes.Add(1)
	return nil
}

type fakePoller struct {
	mu       sync.Mutex
	statuses map[model.StreamID]model.AnalysisStatus
	watched  map[model.StreamID]bool
}

func newFakePoller() *fakePoller {
	return &fakePoller{
		statuses: map[model.StreamID]model.AnalysisStatus{},
		watched:  map[model.StreamID]bool{},
	}
}

func (p *fakePoller) LatestStatus(id model.StreamID) (model.AnalysisStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.statuses[id]
	return s, ok
}

func (p *fakePoller) Watch(id model.StreamID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watched[id] = true
}

func (p *fakePoller) Unwatch(id model.StreamID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watched, id)
}

func (p *fakePoller) isWatched(id model.StreamID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watched[id]
}

func (p *fakePoller) publish(status model.AnalysisStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[status.StreamID] = status
}

func fastRetry() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    5,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
		ReadTimeout:   time.Second,
	}
}

func ipCamera(id model.StreamID, url string) model.StreamConfiguration {
	return model.StreamConfiguration{
		ID:                id,
		ConnType:          model.ConnIPCamera,
		ConnectionOptions: model.ConnectionOptions{URL: url},
	}
}

func webcam(id model.StreamID, device int) model.StreamConfiguration {
	return model.StreamConfiguration{
		ID:                id,
		ConnType:          model.ConnWebcam,
		ConnectionOptions: model.ConnectionOptions{DeviceID: &device},
	}
}

func file(id model.StreamID, path string) model.StreamConfiguration {
	return model.StreamConfiguration{
		ID:                id,
		ConnType:          model.ConnFile,
		ConnectionOptions: model.ConnectionOptions{Filepath: path},
	}
}
