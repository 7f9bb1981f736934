package bodytee

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTee_LiveConsumerGetsFullStream covers §4.D property 1/2: the live
// branch never lags and never loses bytes.
func TestTee_LiveConsumerGetsFullStream(t *testing.T) {
	src := strings.NewReader("the quick brown fox")
	live, _ := New(src, 16)

	got, err := io.ReadAll(live)
	require.NoError(t, err)
	assert.Equal(t, "the quick brown fox", string(got))
}

// TestTee_CaptureConsumerGetsFullStreamWhenNotLagging covers the common
// case: a capture consumer that keeps up sees every byte and is not lossy.
func TestTee_CaptureConsumerGetsFullStreamWhenNotLagging(t *testing.T) {
	src := strings.NewReader("hello world")
	live, capture := New(src, 16)

	liveBuf := make([]byte, 0, 64)
	buf := make([]byte, 4)
	for {
		n, err := live.Read(buf)
		liveBuf = append(liveBuf, buf[:n]...)
		if err != nil {
			break
		}
	}

	got, err := io.ReadAll(capture)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
	assert.False(t, capture.Lossy())
}

// TestTee_CaptureDropsOldestWhenRingFull covers §4.D's "capture loses the
// oldest chunks" contract: a capture consumer that never reads must not
// block or slow the live consumer, and is marked lossy.
func TestTee_CaptureDropsOldestWhenRingFull(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1024)
	src := bytes.NewReader(data)
	live, capture := New(src, 2)

	buf := make([]byte, 1) // force many small chunks to overflow the ring
	for {
		_, err := live.Read(buf)
		if err != nil {
			break
		}
	}

	assert.True(t, capture.Lossy())
}

func TestTee_PropagatesEOFToCapture(t *testing.T) {
	src := strings.NewReader("")
	live, capture := New(src, 4)

	_, err := io.ReadAll(live)
	require.NoError(t, err)
	_, err = io.ReadAll(capture)
	assert.NoError(t, err)
}

type errReader struct{ err error }

func (e errReader) Read(p []byte) (int, error) { return 0, e.err }

func TestTee_PropagatesErrorToCapture(t *testing.T) {
	sentinel := io.ErrUnexpectedEOF
	live, capture := New(errReader{err: sentinel}, 4)

	buf := make([]byte, 8)
	_, err := live.Read(buf)
	assert.Equal(t, sentinel, err)

	_, cerr := capture.Read(buf)
	assert.Equal(t, sentinel, cerr)
}

func TestNew_DefaultsRingSizeWhenNonPositive(t *testing.T) {
	_, capture := New(strings.NewReader("x"), 0)
	require.NotNil(t, capture)
	assert.Equal(t, DefaultRingChunks, cap(capture.ch))
}
