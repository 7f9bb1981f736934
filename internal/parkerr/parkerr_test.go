package parkerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_UnwrapsTaggedError(t *testing.T) {
	err := Wrap(UpstreamTimeout, "round trip exceeded", errors.New("deadline exceeded"))
	assert.Equal(t, UpstreamTimeout, KindOf(err))
}

func TestKindOf_DefaultsToInternalForPlainError(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
}

func TestHTTPStatus_MapsPropagationTable(t *testing.T) {
	cases := map[Kind]int{
		UpstreamTimeout:       504,
		UpstreamConnectFailed: 502,
		UpstreamIo:            502,
		DownstreamIo:          502,
		MalformedCapture:      400,
		Internal:              500,
		BadConfig:             0,
		StoreUnavailable:      0,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), "kind %s", kind)
	}
}

func TestError_UnwrapReturnsCause(t *testing.T) {
	cause := errors.New("dial failed")
	err := Wrap(UpstreamConnectFailed, "could not reach upstream", cause)
	assert.ErrorIs(t, err, cause)
}
