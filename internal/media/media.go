// Package media materializes and decodes the image and audio payloads that
// accompany multimodal prompts.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

// MaxPayloadBytes bounds a single materialized media object.
const MaxPayloadBytes = 64 << 20

var (
	ErrEmpty         = errors.New("media: empty payload")
	ErrTooLarge      = errors.New("media: payload too large")
	ErrUnknownFormat = errors.New("media: unrecognized format")
)

// Source names where a media payload comes from. Exactly one field is set.
type Source struct {
	Path   string
	Data   []byte
	Base64 string
}

// Load returns the raw bytes of src.
func Load(src Source) ([]byte, error) {
	set := 0
	for _, ok := range []bool{src.Path != "", len(src.Data) > 0, src.Base64 != ""} {
		if ok {
			set++
		}
	}
	switch {
	case set == 0:
		return nil, ErrEmpty
	case set > 1:
		return nil, errors.New("media: more than one payload source set")
	}
	var (
		b   []byte
		err error
	)
	switch {
	case src.Path != "":
		fi, statErr := os.Stat(src.Path)
		if statErr != nil {
			return nil, fmt.Errorf("media: %w", statErr)
		}
		if fi.IsDir() {
			return nil, fmt.Errorf("media: %s is a directory", src.Path)
		}
		if fi.Size() > MaxPayloadBytes {
			return nil, ErrTooLarge
		}
		b, err = os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("media: %w", err)
		}
	case len(src.Data) > 0:
		b = src.Data
	default:
		b, err = DecodeBase64(src.Base64)
		if err != nil {
			return nil, err
		}
	}
	if len(b) == 0 {
		return nil, ErrEmpty
	}
	if len(b) > MaxPayloadBytes {
		return nil, ErrTooLarge
	}
	return b, nil
}

// DecodeBase64 accepts the standard or URL alphabet, padded or not, with an
// optional "data:<mime>;base64," prefix. Embedded whitespace is ignored.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.IndexByte(s, ',')
		if i < 0 || !strings.HasSuffix(s[:i], ";base64") {
			return nil, errors.New("media: malformed data URI")
		}
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, ErrEmpty
	}
	enc := base64.RawStdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.RawURLEncoding
	}
	b, err := enc.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("media: invalid base64: %w", err)
	}
	return b, nil
}
