package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ulikunitz/xz"
)

// Workbooks are a few megabytes at most.
const maxRestoreSize = 256 << 20

func compress(w io.Writer, data []byte) error {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("xz writer: %w", err)
	}
	if _, err := xw.Write(data); err != nil {
		_ = xw.Close()
		return fmt.Errorf("compress: %w", err)
	}
	return xw.Close()
}

func decompress(r io.Reader) ([]byte, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("xz reader: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(xr, maxRestoreSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if len(data) > maxRestoreSize {
		return nil, errors.New("backup exceeds the restore size limit")
	}
	return data, nil
}

func writeBackupFile(path string, data []byte) (int, error) {
	var buf bytes.Buffer
	if err := compress(&buf, data); err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return 0, fmt.Errorf("write backup: %w", err)
	}
	return buf.Len(), nil
}

func readBackupFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()
	return decompress(f)
}
