// Package cvcapture adapts gocv's VideoCapture to the decoder contract.
package cvcapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-stream/decoder"
	"github.com/khaledhikmat/vs-stream/service/lgr"
)

const Name = "cv"

type readResult struct {
	frame decoder.Frame
	err   error
}

type capture struct {
	url     string
	webcam  *gocv.VideoCapture
	finite  bool
	pending chan readResult
}

// Register makes the gocv decoder available under Name.
func Register() {
	decoder.Register(Name, Open)
}

// Open starts a VideoCapture for opts.URL, or for opts.Pipeline through the
// GStreamer backend when a pipeline is given ("{url}" is substituted).
func Open(opts decoder.Options) (decoder.Decoder, error) {
	var (
		webcam *gocv.VideoCapture
		err    error
	)

	if opts.Pipeline != "" {
		pipeline := strings.ReplaceAll(opts.Pipeline, "{url}", opts.URL)
		webcam, err = gocv.OpenVideoCaptureWithAPI(pipeline, gocv.VideoCaptureGstreamer)
	} else {
		webcam, err = gocv.OpenVideoCapture(opts.URL)
	}
	if err != nil {
		return nil, &decoder.OpenError{URL: opts.URL, Err: err}
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return nil, &decoder.OpenError{URL: opts.URL, Err: errors.New("capture did not open")}
	}

	if opts.BufferFrames > 0 {
		webcam.Set(gocv.VideoCaptureBufferSize, float64(opts.BufferFrames))
	}

	if opts.KeyframesOnly {
		lgr.Logger.Debug("cv capture cannot restrict decoding to keyframes",
			slog.String("url", opts.URL),
		)
	}

	return &capture{
		url:    opts.URL,
		webcam: webcam,
		finite: webcam.Get(gocv.VideoCaptureFrameCount) > 0,
	}, nil
}

// ReadNext runs the blocking read on a helper goroutine so that a cancelled
// ctx is observed even while OpenCV is stuck on the network. An abandoned
// read is collected by the next ReadNext or by Close.
func (c *capture) ReadNext(ctx context.Context) (decoder.Frame, error) {
	if c.pending == nil {
		ch := make(chan readResult, 1)
		c.pending = ch
		go func() {
			ch <- c.read()
		}()
	}

	select {
	case <-ctx.Done():
		return decoder.Frame{}, ctx.Err()
	case res := <-c.pending:
		c.pending = nil
		return res.frame, res.err
	}
}

func (c *capture) read() readResult {
	img := gocv.NewMat()
	defer img.Close() // Crucial to close the image to avoid memory leaks

	if ok := c.webcam.Read(&img); !ok || img.Empty() {
		if c.finite && c.webcam.Get(gocv.VideoCapturePosFrames) >= c.webcam.Get(gocv.VideoCaptureFrameCount) {
			return readResult{err: decoder.ErrEOF}
		}
		return readResult{err: decoder.Transient(errors.New("empty frame read"))}
	}

	if img.Type() != gocv.MatTypeCV8UC3 {
		return readResult{err: decoder.Fatal(fmt.Errorf("unsupported pixel format %d", img.Type()))}
	}

	return readResult{
		frame: decoder.Frame{
			Timestamp: time.Now(),
			Width:     img.Cols(),
			Height:    img.Rows(),
			Data:      img.ToBytes(),
		},
	}
}

// Close waits for an in-flight read before releasing the capture.
func (c *capture) Close() error {
	if c.pending != nil {
		<-c.pending
		c.pending = nil
	}
	return c.webcam.Close()
}
