package network

import (
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// decodeBody converts a response body to UTF-8 text and returns it with the
// media type. The charset comes from the Content-Type header, or is
// detected when the body is not valid UTF-8. A missing or malformed
// Content-Type is sniffed from the body.
func decodeBody(body []byte, contentType string) (string, string) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if contentType == "" || err != nil {
		mediaType, params, _ = mime.ParseMediaType(mimetype.Detect(body).String())
	}

	label := params["charset"]
	if label == "" && !utf8.Valid(body) {
		if result, err := chardet.NewTextDetector().DetectBest(body); err == nil {
			label = result.Charset
		}
	}

	return transcode(body, label), mediaType
}

func transcode(body []byte, label string) string {
	switch strings.ToLower(label) {
	case "", "utf-8", "utf8", "us-ascii":
		return string(body)
	}

	enc, _ := charset.Lookup(label)
	if enc == nil {
		return string(body)
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(out)
}
