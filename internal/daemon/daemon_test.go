package daemon

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrame_RoundTrips(t *testing.T) {
	payload := []byte(`{"id":"abc","call":"search","params":["q1"]}`)
	frame := encodeFrame(payload)

	r := bufio.NewReader(bytes.NewReader(frame))
	got, err := readFrame(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrame_MissingContentLengthErrors(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("Foo: bar\r\n\r\n")))
	_, err := readFrame(r)
	assert.Error(t, err)
}

func TestReadFrame_TruncatedPayloadErrors(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("Content-Length: 10\r\n\r\nshort")))
	_, err := readFrame(r)
	assert.Error(t, err)
}
