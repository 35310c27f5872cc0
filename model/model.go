package model

import (
	"fmt"
	"runtime/debug"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Processor, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

type ReaderStats struct {
	ReaderID        string  `json:"readerId"`
	StreamID        int64   `json:"streamId"`
	State           string  `json:"state"`
	FPS             int     `json:"fps"`
	Frames          uint64  `json:"frames"`
	LastSeq         uint64  `json:"lastSeq"`
	TransientErrors uint64  `json:"transientErrors"`
	Reconnects      uint64  `json:"reconnects"`
	Uptime          int64   `json:"uptime"`
	LastError       string  `json:"lastError,omitempty"`
	AvgReadTime     float64 `json:"avgReadTime"`
	Timestamp       int64   `json:"timestamp"`
}

type ConsumerStats struct {
	Name      string `json:"name"`
	StreamID  int64  `json:"streamId"`
	Polls     int    `json:"polls"`
	Fresh     int    `json:"fresh"`
	Repeated  int    `json:"repeated"`
	Skipped   uint64 `json:"skipped"`
	Errors    int    `json:"errors"`
	Uptime    int64  `json:"uptime"`
	Timestamp int64  `json:"timestamp"`
}

type ManagerStats struct {
	TotalStartRequests   int64   `json:"startRequests"`
	TotalOpenedStreams   int64   `json:"openedStreams"`
	TotalOpenFailures    int64   `json:"openFailures"`
	TotalClosedStreams   int64   `json:"closedStreams"`
	ActiveStreams        int     `json:"activeStreams"`
	ClosingStreams       int     `json:"closingStreams"`
	Uptime               int64   `json:"uptime"`
	AvgOpenedStreamsPerM float64 `json:"avgOpenedStreamsPerMin"`
	Timestamp            int64   `json:"timestamp"`
}
