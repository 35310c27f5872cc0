package decoder

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const SyntheticName = "random"

func init() {
	Register(SyntheticName, OpenSynthetic)
}

type synthetic struct {
	width    int
	height   int
	interval time.Duration
	limit    int
	frames   int
	next     time.Time
}

// OpenSynthetic opens a decoder that generates blank BGR frames. The url
// may be "random://WIDTHxHEIGHT@FPS" optionally followed by "/FRAMES" to make
// the source finite.
func OpenSynthetic(opts Options) (Decoder, error) {
	d := &synthetic{
		width:    640,
		height:   480,
		interval: time.Second / 30,
	}

	src := strings.TrimPrefix(opts.URL, SyntheticName+"://")
	if src != "" && src != opts.URL {
		var fps int
		n, _ := fmt.Sscanf(src, "%dx%d@%d/%d", &d.width, &d.height, &fps, &d.limit)
		if n < 3 || d.width <= 0 || d.height <= 0 || fps <= 0 {
			return nil, &OpenError{URL: opts.URL, Err: fmt.Errorf("malformed synthetic source")}
		}
		d.interval = time.Second / time.Duration(fps)
	}

	d.next = time.Now()
	return d, nil
}

func (d *synthetic) ReadNext(ctx context.Context) (Frame, error) {
	if d.limit > 0 && d.frames >= d.limit {
		return Frame{}, ErrEOF
	}

	if wait := time.Until(d.next); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-timer.C:
		}
	}
	d.next = d.next.Add(d.interval)
	d.frames++

	return Frame{
		Timestamp: time.Now(),
		Width:     d.width,
		Height:    d.height,
		Data:      make([]byte, d.width*d.height*3),
	}, nil
}

func (d *synthetic) Close() error {
	return nil
}
