package agent

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// prepareRun creates a fresh directory for request id under the work
// directory and writes code into it. Code that decodes as a base64 tar.gz
// archive is extracted instead. It returns the directory and the entry path.
func (s *Server) prepareRun(id, code string) (dir, entry string, err error) {
	if err := validatePath(s.cfg.WorkDir, id); err != nil {
		return "", "", err
	}
	if err := validatePath(s.cfg.WorkDir, filepath.Join(id, s.cfg.RunEntry)); err != nil {
		return "", "", fmt.Errorf("invalid entry: %w", err)
	}

	dir = filepath.Join(s.cfg.WorkDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create run dir: %w", err)
	}
	entry = filepath.Join(dir, s.cfg.RunEntry)

	if isBase64Archive(code) {
		err = extractArchive(dir, code, int64(s.cfg.Limits.MaxPayload))
	} else {
		err = os.WriteFile(entry, []byte(code), 0o644)
	}
	if err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}
	return dir, entry, nil
}

// runCommand returns the runtime invocation for entry.
func (s *Server) runCommand(entry string) []string {
	cmd := strings.Fields(s.cfg.RunCommand)
	return append(cmd, entry)
}

// validatePath checks that joining baseDir with relPath stays within baseDir.
func validatePath(baseDir, relPath string) error {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolve base dir: %w", err)
	}
	cleaned := filepath.Clean(filepath.Join(absBase, relPath))
	if !strings.HasPrefix(cleaned, absBase+string(filepath.Separator)) && cleaned != absBase {
		return fmt.Errorf("path %q escapes work directory", relPath)
	}
	return nil
}

// isBase64Archive reports whether s looks like a base64-encoded gzip stream.
func isBase64Archive(s string) bool {
	if len(s) < 4 {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(s[:4])
	if err != nil {
		return false
	}
	return len(decoded) >= 2 && decoded[0] == 0x1f && decoded[1] == 0x8b
}

// extractArchive decodes a base64-encoded tar.gz and extracts it to dir.
// Entries that would land outside dir are rejected, and each file is capped
// at maxFile bytes.
func extractArchive(dir, encoded string, maxFile int64) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode base64: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve dir: %w", err)
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		target := filepath.Join(absDir, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, absDir+string(filepath.Separator)) && target != absDir {
			return fmt.Errorf("archive entry %q escapes extraction directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, os.FileMode(hdr.Mode)&0o755, maxFile); err != nil {
				return err
			}
		}
	}
}

func writeEntry(target string, r io.Reader, mode os.FileMode, maxFile int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o400)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}
	if _, err := io.Copy(f, io.LimitReader(r, maxFile)); err != nil {
		f.Close()
		return fmt.Errorf("write file %s: %w", target, err)
	}
	return f.Close()
}
