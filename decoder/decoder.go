// Package decoder defines the boundary to the media pipeline that turns a
// url into decoded frames. Implementations live in sub-packages or are
// registered by name.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-stream/service/lgr"
)

// ErrEOF is returned by ReadNext when a finite source has no more frames.
var ErrEOF = errors.New("decoder: end of stream")

type Frame struct {
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// Decoder produces frames from one source. ReadNext and Close are called from
// a single goroutine. ReadNext must return soon after ctx is done.
type Decoder interface {
	ReadNext(ctx context.Context) (Frame, error)
	Close() error
}

type Options struct {
	URL           string
	Pipeline      string
	BufferFrames  int
	TargetDelay   time.Duration
	KeyframesOnly bool
}

type Opener func(opts Options) (Decoder, error)

// OpenError means the pipeline could not be constructed.
type OpenError struct {
	URL string
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("decoder: open %q: %v", e.URL, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// DecodeError is a read failure. Fatal errors (malformed or unsupported media)
// are not retried.
type DecodeError struct {
	Fatal bool
	Err   error
}

func (e *DecodeError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("decoder: %s: %v", kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func Transient(err error) error {
	return &DecodeError{Err: err}
}

func Fatal(err error) error {
	return &DecodeError{Fatal: true, Err: err}
}

// IsFatal reports whether err ends the stream. Unclassified errors are
// treated as transient.
func IsFatal(err error) bool {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Fatal
	}
	return false
}

var (
	openersMu sync.RWMutex
	openers   = map[string]Opener{}
)

func Register(name string, opener Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()

	if _, ok := openers[name]; ok {
		lgr.Logger.Warn("decoder already registered", slog.String("name", name))
		return
	}
	openers[name] = opener
}

func Lookup(name string) (Opener, bool) {
	openersMu.RLock()
	defer openersMu.RUnlock()

	opener, ok := openers[name]
	return opener, ok
}
