package streaming

import (
	"errors"
	"fmt"

	"github.com/khaledhikmat/vs-stream/model"
)

var (
	ErrRetriesExhausted = errors.New("streaming: transient decode errors exceeded retry budget")
	ErrTooManyStreams   = errors.New("streaming: maximum number of streams reached")
)

// UnknownStreamError is returned for operations on an id that is not registered.
type UnknownStreamError struct {
	ID model.StreamID
}

func (e *UnknownStreamError) Error() string {
	return fmt.Sprintf("streaming: unknown stream %s", e.ID)
}
