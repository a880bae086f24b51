package core

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// decodeText converts raw file bytes to UTF-8 and reports the detected
// encoding. Invalid UTF-8 without a BOM is decoded with legacyCharset when
// one is configured, otherwise it fails with ErrMalformedEncoding.
func decodeText(data []byte, legacyCharset string) ([]byte, string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		data = data[len(bomUTF8):]
		if !utf8.Valid(data) {
			return nil, "", &ParseError{Kind: ParseMalformedEncoding, Detail: "invalid UTF-8 after byte order mark"}
		}
		return data, "utf-8-bom", nil

	case bytes.HasPrefix(data, bomUTF16LE):
		out, err := decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), data)
		if err != nil {
			return nil, "", &ParseError{Kind: ParseMalformedEncoding, Detail: "utf-16le", Err: err}
		}
		return out, "utf-16le", nil

	case bytes.HasPrefix(data, bomUTF16BE):
		out, err := decodeWith(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), data)
		if err != nil {
			return nil, "", &ParseError{Kind: ParseMalformedEncoding, Detail: "utf-16be", Err: err}
		}
		return out, "utf-16be", nil
	}

	if utf8.Valid(data) {
		return data, "utf-8", nil
	}

	if legacyCharset == "" {
		return nil, "", &ParseError{Kind: ParseMalformedEncoding, Detail: "file is not valid UTF-8"}
	}

	enc, err := htmlindex.Get(legacyCharset)
	if err != nil {
		return nil, "", &ParseError{Kind: ParseMalformedEncoding, Detail: fmt.Sprintf("unknown charset %q", legacyCharset), Err: err}
	}
	out, err := decodeWith(enc, data)
	if err != nil {
		return nil, "", &ParseError{Kind: ParseMalformedEncoding, Detail: legacyCharset, Err: err}
	}
	name, _ := htmlindex.Name(enc)
	if name == "" {
		name = legacyCharset
	}
	return out, name, nil
}

func decodeWith(enc encoding.Encoding, data []byte) ([]byte, error) {
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	return out, err
}
