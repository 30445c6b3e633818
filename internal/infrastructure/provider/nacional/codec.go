package nacional

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// gzipB64 comprime con GZip y codifica en Base64 (formato de los campos *GZipB64 de la API).
func gzipB64(data []byte) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", fmt.Errorf("nacional: gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("nacional: gzip: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// unGzipB64 operación inversa de gzipB64.
func unGzipB64(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("nacional: base64: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("nacional: gzip: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
