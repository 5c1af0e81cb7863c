package contour

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
)

// DecodeObservations decodes an observation payload in any of the formats
// sources publish:
// - raw JSON (array or GeoJSON)
// - gzip-compressed JSON
// - zlib-compressed JSON
func DecodeObservations(data []byte) ([]Observation, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}

	var jsonBytes []byte
	var err error

	switch {
	case isJSON(data):
		jsonBytes = data
	case IsGzip(data):
		jsonBytes, err = inflateGzip(data)
		if err != nil {
			return nil, fmt.Errorf("decompressing gzip payload: %w", err)
		}
	default:
		jsonBytes, err = inflateZlib(data)
		if err != nil {
			return nil, fmt.Errorf("unknown format: not JSON, gzip, or zlib-compressed")
		}
	}

	if len(bytes.TrimSpace(jsonBytes)) == 0 {
		return nil, fmt.Errorf("decoded JSON payload is empty")
	}
	return ParseObservations(jsonBytes)
}

// IsGzip checks for the gzip magic bytes
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func isJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// inflateZlib decompresses zlib-compressed data
func inflateZlib(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing zlib data: %w", err)
	}
	return decompressed, nil
}

func inflateGzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer reader.Close()

	return io.ReadAll(reader)
}
