package model

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestStreamConfigurationValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StreamConfiguration
		wantErr bool
	}{
		{
			name: "ip camera",
			cfg:  StreamConfiguration{ID: 1, ConnType: ConnIPCamera, ConnectionOptions: ConnectionOptions{URL: "rtsp://cam"}},
		},
		{
			name:    "ip camera without url",
			cfg:     StreamConfiguration{ID: 1, ConnType: ConnIPCamera},
			wantErr: true,
		},
		{
			name:    "ip camera with device",
			cfg:     StreamConfiguration{ID: 1, ConnType: ConnIPCamera, ConnectionOptions: ConnectionOptions{URL: "rtsp://cam", DeviceID: intPtr(0)}},
			wantErr: true,
		},
		{
			name: "webcam device zero",
			cfg:  StreamConfiguration{ID: 2, ConnType: ConnWebcam, ConnectionOptions: ConnectionOptions{DeviceID: intPtr(0)}},
		},
		{
			name:    "webcam without device",
			cfg:     StreamConfiguration{ID: 2, ConnType: ConnWebcam},
			wantErr: true,
		},
		{
			name:    "webcam negative device",
			cfg:     StreamConfiguration{ID: 2, ConnType: ConnWebcam, ConnectionOptions: ConnectionOptions{DeviceID: intPtr(-1)}},
			wantErr: true,
		},
		{
			name: "webcam with pipeline",
			cfg:  StreamConfiguration{ID: 2, ConnType: ConnWebcam, ConnectionOptions: ConnectionOptions{DeviceID: intPtr(1), Pipeline: "v4l2src device=/dev/video1 ! videoconvert ! appsink"}},
		},
		{
			name:    "webcam with url",
			cfg:     StreamConfiguration{ID: 2, ConnType: ConnWebcam, ConnectionOptions: ConnectionOptions{DeviceID: intPtr(1), URL: "rtsp://cam"}},
			wantErr: true,
		},
		{
			name: "file with pipeline",
			cfg:  StreamConfiguration{ID: 3, ConnType: ConnFile, ConnectionOptions: ConnectionOptions{Filepath: "/videos/lobby.mp4", Pipeline: "filesrc location={url} ! decodebin ! appsink"}},
		},
		{
			name: "file by storage id",
			cfg:  StreamConfiguration{ID: 3, ConnType: ConnFile, ConnectionOptions: ConnectionOptions{StorageID: 42}},
		},
		{
			name: "looping file",
			cfg: StreamConfiguration{ID: 3, ConnType: ConnFile,
				ConnectionOptions: ConnectionOptions{Filepath: "/videos/lobby.mp4"},
				RuntimeOptions:    RuntimeOptions{Loop: true}},
		},
		{
			name:    "file without source",
			cfg:     StreamConfiguration{ID: 3, ConnType: ConnFile},
			wantErr: true,
		},
		{
			name: "looping camera",
			cfg: StreamConfiguration{ID: 4, ConnType: ConnIPCamera,
				ConnectionOptions: ConnectionOptions{URL: "rtsp://cam"},
				RuntimeOptions:    RuntimeOptions{Loop: true}},
			wantErr: true,
		},
		{
			name:    "unknown connection type",
			cfg:     StreamConfiguration{ID: 5, ConnType: "satellite"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestStreamConfigurationUnmarshal(t *testing.T) {
	t.Run("recognised options", func(t *testing.T) {
		var cfg StreamConfiguration
		err := json.Unmarshal([]byte(`{
			"id": 12,
			"name": "lobby",
			"connection_type": "webcam",
			"connection_options": {"device_id": 0},
			"runtime_options": {"keyframes_only": true},
			"owner": "ignored"
		}`), &cfg)
		require.NoError(t, err)

		assert.Equal(t, StreamID(12), cfg.ID)
		assert.Equal(t, "lobby", cfg.Name)
		assert.Equal(t, ConnWebcam, cfg.ConnType)
		require.NotNil(t, cfg.ConnectionOptions.DeviceID)
		assert.Equal(t, 0, *cfg.ConnectionOptions.DeviceID)
		assert.True(t, cfg.RuntimeOptions.KeyframesOnly)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown connection option", func(t *testing.T) {
		var cfg StreamConfiguration
		err := json.Unmarshal([]byte(`{"id": 1, "connection_type": "ip_camera", "connection_options": {"url": "rtsp://cam", "fps": 30}}`), &cfg)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("unknown runtime option", func(t *testing.T) {
		var cfg StreamConfiguration
		err := json.Unmarshal([]byte(`{"id": 1, "connection_type": "file", "connection_options": {"filepath": "a.mp4"}, "runtime_options": {"speed": 2}}`), &cfg)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("missing options", func(t *testing.T) {
		var cfg StreamConfiguration
		require.NoError(t, json.Unmarshal([]byte(`{"id": 1, "connection_type": "ip_camera"}`), &cfg))
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)
	})
}

func TestConnTypeIsRehosted(t *testing.T) {
	assert.True(t, ConnWebcam.IsRehosted())
	assert.True(t, ConnFile.IsRehosted())
	assert.False(t, ConnIPCamera.IsRehosted())
}

func TestAnalysisStatusDetections(t *testing.T) {
	s := AnalysisStatus{ZoneStatuses: []ZoneStatus{
		{Zone: "a", Detections: []Detection{{Label: "person"}}},
		{Zone: "b"},
		{Zone: "c", Detections: []Detection{{Label: "car"}, {Label: "dog"}}},
	}}
	assert.Len(t, s.Detections(), 3)
	assert.Empty(t, AnalysisStatus{}.Detections())
}

func TestDecodedFrameCloneOwnsPixels(t *testing.T) {
	published := &DecodedFrame{Seq: 4, Timestamp: time.Now(), Width: 2, Height: 1, Data: []byte{1, 2, 3, 4, 5, 6}}
	want := bytes.Clone(published.Data)

	canvas := published.Clone()
	for i := range canvas.Data {
		canvas.Data[i] = 0xff
	}

	assert.Equal(t, want, published.Data)
	assert.Equal(t, published.Seq, canvas.Seq)
	assert.Equal(t, published.Timestamp, canvas.Timestamp)
	assert.Equal(t, published.Width, canvas.Width)
	assert.Equal(t, published.Height, canvas.Height)
	assert.Nil(t, (&DecodedFrame{}).Clone().Data)
}
