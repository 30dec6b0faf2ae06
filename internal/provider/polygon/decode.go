package polygon

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// decodeJSON reads a response body and unmarshals it, decompressing first
// when either the Content-Encoding header or the leading magic bytes signal
// gzip/zlib. Some providers compress bodies without setting the header, so
// the sniff is not optional.
func decodeJSON(resp *http.Response, dst interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	body, err := decompress(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

const maxBodyBytes = 64 << 20

func decompress(raw []byte, encoding string) ([]byte, error) {
	encoding = strings.ToLower(encoding)

	switch {
	case strings.Contains(encoding, "gzip") || hasGzipMagic(raw):
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)

	case hasZlibMagic(raw):
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("zlib reader: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)

	case strings.Contains(encoding, "deflate"):
		// Raw deflate stream with no zlib wrapper.
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		return io.ReadAll(fr)
	}

	return raw, nil
}

func hasGzipMagic(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

func hasZlibMagic(b []byte) bool {
	if len(b) < 2 || b[0] != 0x78 {
		return false
	}
	switch b[1] {
	case 0x01, 0x9c, 0xda:
		return true
	}
	return false
}
