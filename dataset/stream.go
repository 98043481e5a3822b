// Package dataset streams a text corpus into tokenized, padded training
// batches. Tokenization runs in parallel workers and can be memoized in a
// SQLite cache.
package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// TextStream yields non-empty lines from a corpus file, one document per
// line. It reads lazily so corpora larger than memory stream fine.
type TextStream struct {
	file    *os.File
	scanner *bufio.Scanner
}

// OpenTextStream opens a corpus file for streaming.
func OpenTextStream(path string) (*TextStream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	s := &TextStream{file: file}
	s.scanner = bufio.NewScanner(file)
	s.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return s, nil
}

// Next returns the next non-empty line, or io.EOF when the corpus is
// exhausted.
func (s *TextStream) Next() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line != "" {
			return line, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Reset rewinds the stream to the start of the corpus for the next epoch.
func (s *TextStream) Reset() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	s.scanner = bufio.NewScanner(s.file)
	s.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return nil
}

// Close closes the underlying file.
func (s *TextStream) Close() error {
	return s.file.Close()
}
