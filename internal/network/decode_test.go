package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeBodyUTF8Passthrough(t *testing.T) {
	text, mediaType := decodeBody([]byte(`{"ok":true}`), "application/json; charset=utf-8")
	assert.Equal(t, `{"ok":true}`, text)
	assert.Equal(t, "application/json", mediaType)
}

func TestDecodeBodySniffsMissingContentType(t *testing.T) {
	_, mediaType := decodeBody([]byte("<html><body>hi</body></html>"), "")
	assert.Equal(t, "text/html", mediaType)

	_, mediaType = decodeBody([]byte("plain words"), "")
	assert.Equal(t, "text/plain", mediaType)
}

func TestTranscodeUnknownLabelKeepsBytes(t *testing.T) {
	assert.Equal(t, "abc", transcode([]byte("abc"), "no-such-charset"))
}

func TestTranscodeLatin1(t *testing.T) {
	assert.Equal(t, "naïve", transcode([]byte("na\xefve"), "latin1"))
}
