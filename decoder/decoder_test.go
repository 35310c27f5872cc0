package decoder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsFatal(Fatal(errors.New("unsupported codec"))))
	assert.False(t, IsFatal(Transient(errors.New("stall"))))
	assert.False(t, IsFatal(errors.New("unclassified")))
	assert.False(t, IsFatal(context.DeadlineExceeded))

	wrapped := fmt.Errorf("reading: %w", Fatal(errors.New("malformed")))
	assert.True(t, IsFatal(wrapped))

	openErr := &OpenError{URL: "rtsp://x", Err: errors.New("refused")}
	var target *OpenError
	assert.True(t, errors.As(fmt.Errorf("start: %w", openErr), &target))
	assert.Contains(t, openErr.Error(), "rtsp://x")
}

func TestSyntheticIsRegistered(t *testing.T) {
	opener, ok := Lookup(SyntheticName)
	require.True(t, ok)
	require.NotNil(t, opener)

	_, ok = Lookup("missing")
	assert.False(t, ok)
}

func TestSyntheticFiniteSource(t *testing.T) {
	d, err := OpenSynthetic(Options{URL: "random://4x2@1000/3"})
	require.NoError(t, err)
	defer d.Close()

	for i := 0; i < 3; i++ {
		f, err := d.ReadNext(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 4, f.Width)
		assert.Equal(t, 2, f.Height)
		assert.Len(t, f.Data, 4*2*3)
	}

	_, err = d.ReadNext(context.Background())
	assert.True(t, errors.Is(err, ErrEOF))
}

func TestSyntheticHonoursContext(t *testing.T) {
	d, err := OpenSynthetic(Options{URL: "random://4x2@1"})
	require.NoError(t, err)

	_, err = d.ReadNext(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = d.ReadNext(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSyntheticMalformedURL(t *testing.T) {
	_, err := OpenSynthetic(Options{URL: "random://garbage"})
	var openErr *OpenError
	assert.True(t, errors.As(err, &openErr))
}
