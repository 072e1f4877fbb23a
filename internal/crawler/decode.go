package crawler

import (
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

// minCharsetConfidence is the chardet score below which a guess is ignored.
const minCharsetConfidence = 30

// DecodeBody converts a response body to UTF-8. The charset declared in the
// Content-Type header wins; otherwise it is detected from the bytes. Anything
// that cannot be decoded falls back to UTF-8 with invalid sequences replaced.
func DecodeBody(body []byte, contentType string) string {
	if len(body) == 0 {
		return ""
	}
	label := charsetFromContentType(contentType)
	if label == "" {
		if utf8.Valid(body) {
			return string(body)
		}
		label = detectCharset(body)
	}
	if label != "" {
		if enc, err := htmlindex.Get(label); err == nil {
			if out, err := enc.NewDecoder().Bytes(body); err == nil {
				return string(out)
			}
		}
	}
	return strings.ToValidUTF8(string(body), "\uFFFD")
}

func charsetFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}

func detectCharset(body []byte) string {
	res, err := chardet.NewHtmlDetector().DetectBest(body)
	if err != nil || res == nil || res.Confidence < minCharsetConfidence {
		return ""
	}
	return res.Charset
}
