package message

import (
	"mime"

	"github.com/emersion/go-message/charset"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// DecodeText decodes RFC 2047 encoded-words in a header-derived string.
// Adjacent encoded words are joined, plain text is returned unchanged and
// input that fails to decode is returned as-is.
func DecodeText(s string) string {
	if s == "" {
		return ""
	}
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
