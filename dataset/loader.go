package dataset

import (
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// Encoder turns text into token ids, truncated to maxLen.
// *tokenizer.Tokenizer satisfies it.
type Encoder interface {
	Encode(text string, maxLen int) []int
}

// LoaderConfig configures batch assembly.
type LoaderConfig struct {
	BatchSize int
	MaxLength int // fixed sequence length; shorter lines are left-padded
	PadID     int
	Workers   int // parallel tokenization workers; <=0 means 4
}

// Batch is one training batch of equal-length token sequences.
type Batch struct {
	Tokens [][]int
}

// Loader streams a corpus into batches. Not safe for concurrent use; one
// loader serves one training loop.
type Loader struct {
	stream *TextStream
	enc    Encoder
	cache  *TokenCache // optional
	cfg    LoaderConfig
}

// NewLoader wires a stream, an encoder and an optional token cache.
func NewLoader(stream *TextStream, enc Encoder, cache *TokenCache, cfg LoaderConfig) (*Loader, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MaxLength <= 0 {
		return nil, fmt.Errorf("dataset: max length must be positive, got %d", cfg.MaxLength)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Loader{stream: stream, enc: enc, cache: cache, cfg: cfg}, nil
}

// Next assembles the next batch. Returns io.EOF once the corpus is
// exhausted; a final partial batch is returned before that.
func (l *Loader) Next() (*Batch, error) {
	batch := &Batch{}
	for len(batch.Tokens) < l.cfg.BatchSize {
		lines, err := l.readLines(l.cfg.BatchSize - len(batch.Tokens))
		if len(lines) > 0 {
			encoded, encErr := l.encodeAll(lines)
			if encErr != nil {
				return nil, encErr
			}
			for _, ids := range encoded {
				if len(ids) < 2 {
					continue // nothing to predict from a single token
				}
				batch.Tokens = append(batch.Tokens, padLeft(ids, l.cfg.MaxLength, l.cfg.PadID))
			}
		}
		if err == io.EOF {
			if len(batch.Tokens) == 0 {
				return nil, io.EOF
			}
			return batch, nil
		}
		if err != nil {
			return nil, err
		}
	}
	return batch, nil
}

// Reset rewinds the underlying stream for the next epoch.
func (l *Loader) Reset() error {
	return l.stream.Reset()
}

// Close closes the underlying corpus stream. The token cache has its own
// lifecycle and is not touched.
func (l *Loader) Close() error {
	return l.stream.Close()
}

func (l *Loader) readLines(n int) ([]string, error) {
	lines := make([]string, 0, n)
	for len(lines) < n {
		line, err := l.stream.Next()
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// encodeAll tokenizes lines in parallel, preserving order. Cache hits skip
// the encoder entirely; cache write failures are ignored (the cache is an
// optimization, not a source of truth).
func (l *Loader) encodeAll(lines []string) ([][]int, error) {
	encoded := make([][]int, len(lines))

	var g errgroup.Group
	g.SetLimit(l.cfg.Workers)
	for i, line := range lines {
		g.Go(func() error {
			if l.cache != nil {
				if ids, ok := l.cache.Get(line); ok {
					encoded[i] = ids
					return nil
				}
			}
			ids := l.enc.Encode(line, l.cfg.MaxLength)
			encoded[i] = ids
			if l.cache != nil {
				l.cache.Put(line, ids)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return encoded, nil
}

func padLeft(ids []int, length, padID int) []int {
	if len(ids) >= length {
		return ids[:length]
	}
	out := make([]int, length)
	pad := length - len(ids)
	for i := 0; i < pad; i++ {
		out[i] = padID
	}
	copy(out[pad:], ids)
	return out
}
