// Package bundle reads and writes Oracle request and output bundles as JSON
// or msgpack, and builds strategy tables from CSV exports.
package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// Request is one run: the input bundle plus the settings of each strategy, keyed by label.
type Request struct {
	Input    domain.Input               `json:"input"`
	Settings map[string]domain.Settings `json:"settings"`
}

// Format is a wire encoding of a bundle.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"
)

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatMsgpack {
		return ContentTypeMsgpack
	}
	return ContentTypeJSON
}

// FormatFromContentType maps a Content-Type or Accept value to a format.
// Anything other than msgpack is treated as JSON.
func FormatFromContentType(contentType string) Format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(contentType)
	}
	switch strings.ToLower(mediaType) {
	case ContentTypeMsgpack, "application/x-msgpack", "application/vnd.msgpack":
		return FormatMsgpack
	default:
		return FormatJSON
	}
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mpk", ".msgp":
		return FormatMsgpack
	default:
		return FormatJSON
	}
}

// Encode writes v to w. msgpack uses the json struct tags so both encodings
// share field names.
func Encode(w io.Writer, f Format, v interface{}) error {
	switch f {
	case FormatMsgpack:
		enc := msgpack.NewEncoder(w)
		enc.SetCustomStructTag("json")
		enc.UseCompactInts(true)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode msgpack: %w", err)
		}
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
	}
	return nil
}

// Decode reads v from r.
func Decode(r io.Reader, f Format, v interface{}) error {
	switch f {
	case FormatMsgpack:
		dec := msgpack.NewDecoder(r)
		dec.SetCustomStructTag("json")
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("failed to decode msgpack: %w", err)
		}
	default:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("failed to decode json: %w", err)
		}
	}
	return nil
}

// Marshal encodes v into a byte slice.
func Marshal(f Format, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, f, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v.
func Unmarshal(f Format, data []byte, v interface{}) error {
	return Decode(bytes.NewReader(data), f, v)
}
