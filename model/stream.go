package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"
)

var ErrInvalidConfiguration = errors.New("invalid stream configuration")

// StreamID is assigned by the server when a configuration is first created.
// Zero means unset.
type StreamID int64

func (id StreamID) String() string {
	return fmt.Sprintf("%d", int64(id))
}

type ConnType string

const (
	ConnWebcam   ConnType = "webcam"
	ConnFile     ConnType = "file"
	ConnIPCamera ConnType = "ip_camera"
)

// IsRehosted reports whether the server re-encodes and republishes the source.
func (c ConnType) IsRehosted() bool {
	return c == ConnWebcam || c == ConnFile
}

func (c ConnType) Valid() bool {
	switch c {
	case ConnWebcam, ConnFile, ConnIPCamera:
		return true
	}
	return false
}

// ConnectionOptions holds the recognised connection keys. Which keys are
// allowed depends on the ConnType, see StreamConfiguration.Validate.
type ConnectionOptions struct {
	URL       string `json:"url,omitempty"`
	DeviceID  *int   `json:"device_id,omitempty"`
	StorageID int64  `json:"storage_id,omitempty"`
	Filepath  string `json:"filepath,omitempty"`
	Pipeline  string `json:"pipeline,omitempty"`
	Transcode bool   `json:"transcode,omitempty"`
}

type RuntimeOptions struct {
	KeyframesOnly bool   `json:"keyframes_only,omitempty"`
	Loop          bool   `json:"loop,omitempty"`
	Decoder       string `json:"decoder,omitempty"`
}

// StreamConfiguration is an immutable snapshot handed to the stream manager.
type StreamConfiguration struct {
	ID                StreamID          `json:"id"`
	Name              string            `json:"name"`
	ConnType          ConnType          `json:"connection_type"`
	ConnectionOptions ConnectionOptions `json:"connection_options"`
	RuntimeOptions    RuntimeOptions    `json:"runtime_options"`
}

func (c StreamConfiguration) Validate() error {
	if !c.ConnType.Valid() {
		return fmt.Errorf("%w: unknown connection type %q", ErrInvalidConfiguration, c.ConnType)
	}

	opts := c.ConnectionOptions
	var problems []string
	switch c.ConnType {
	case ConnIPCamera:
		if opts.URL == "" {
			problems = append(problems, "url is required")
		}
		if opts.DeviceID != nil || opts.StorageID != 0 || opts.Filepath != "" {
			problems = append(problems, "device_id, storage_id and filepath are not allowed")
		}
	case ConnWebcam:
		if opts.DeviceID == nil {
			problems = append(problems, "device_id is required")
		} else if *opts.DeviceID < 0 {
			problems = append(problems, "device_id must not be negative")
		}
		if opts.URL != "" || opts.StorageID != 0 || opts.Filepath != "" {
			problems = append(problems, "url, storage_id and filepath are not allowed")
		}
	case ConnFile:
		if opts.StorageID == 0 && opts.Filepath == "" {
			problems = append(problems, "storage_id or filepath is required")
		}
		if opts.URL != "" || opts.DeviceID != nil {
			problems = append(problems, "url and device_id are not allowed")
		}
	}

	if c.RuntimeOptions.Loop && c.ConnType != ConnFile {
		problems = append(problems, "loop is only allowed for file streams")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s stream %s: %s", ErrInvalidConfiguration, c.ConnType, c.ID, strings.Join(problems, "; "))
	}
	return nil
}

// UnmarshalJSON rejects option keys that are not recognised.
func (c *StreamConfiguration) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID                StreamID        `json:"id"`
		Name              string          `json:"name"`
		ConnType          ConnType        `json:"connection_type"`
		ConnectionOptions json.RawMessage `json:"connection_options"`
		RuntimeOptions    json.RawMessage `json:"runtime_options"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	cfg := StreamConfiguration{ID: raw.ID, Name: raw.Name, ConnType: raw.ConnType}
	if err := strictDecode(raw.ConnectionOptions, &cfg.ConnectionOptions); err != nil {
		return fmt.Errorf("%w: connection_options: %v", ErrInvalidConfiguration, err)
	}
	if err := strictDecode(raw.RuntimeOptions, &cfg.RuntimeOptions); err != nil {
		return fmt.Errorf("%w: runtime_options: %v", ErrInvalidConfiguration, err)
	}

	*c = cfg
	return nil
}

func strictDecode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// DecodedFrame is immutable once published. Consumers share it read-only.
type DecodedFrame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// Clone returns a copy that owns its pixels, for consumers that need to draw.
func (f *DecodedFrame) Clone() *DecodedFrame {
	c := *f
	c.Data = bytes.Clone(f.Data)
	return &c
}

type Detection struct {
	Label      string          `json:"label"`
	Confidence float32         `json:"confidence"`
	Rect       image.Rectangle `json:"rect"`
}

type ZoneStatus struct {
	Zone       string      `json:"zone"`
	Detections []Detection `json:"detections"`
	Alerts     []string    `json:"alerts,omitempty"`
}

// AnalysisStatus is the newest analysis result known for a stream. It is not
// tied to a particular frame.
type AnalysisStatus struct {
	StreamID     StreamID     `json:"streamId"`
	Timestamp    time.Time    `json:"timestamp"`
	ZoneStatuses []ZoneStatus `json:"zoneStatuses"`
}

func (s AnalysisStatus) Detections() []Detection {
	var dets []Detection
	for _, zs := range s.ZoneStatuses {
		dets = append(dets, zs.Detections...)
	}
	return dets
}
