// Package tokenizer implements a BPE tokenizer compatible with the
// HuggingFace tokenizer.json format, covering what the fine-tuning driver
// needs: encode with truncation, decode, and left padding.
package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

// GPT-2 style byte-level BPE stores every vocab entry in a printable
// alphabet: printable bytes map to themselves and the rest are shifted into
// U+0100..U+0142 in byte order, so "Ġ" stands for a space and "Ċ" for a
// newline. Encoding rewrites text into that alphabet before any vocab or
// merge lookup; decoding reverses it.
var (
	gpt2ByteToRune [256]rune
	gpt2RuneToByte map[rune]byte
)

func init() {
	gpt2RuneToByte = make(map[rune]byte, 256)
	shifted := 0
	for b := 0; b < 256; b++ {
		r := rune(b)
		printable := (b >= 0x21 && b <= 0x7E) || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
		if !printable {
			r = rune(0x100 + shifted)
			shifted++
		}
		gpt2ByteToRune[b] = r
		gpt2RuneToByte[r] = byte(b)
	}
}

// encodeToGPT2Chars converts raw text into the byte-level alphabet the
// vocab is keyed by (" the" becomes "Ġthe").
func encodeToGPT2Chars(text string) string {
	var sb strings.Builder
	for _, b := range []byte(text) {
		sb.WriteRune(gpt2ByteToRune[b])
	}
	return sb.String()
}

// decodeGPT2Bytes converts byte-level alphabet text back to raw text.
// Runes outside the mapping pass through unchanged.
func decodeGPT2Bytes(text string) string {
	buf := make([]byte, 0, len(text))
	for _, r := range text {
		if b, ok := gpt2RuneToByte[r]; ok {
			buf = append(buf, b)
			continue
		}
		buf = utf8.AppendRune(buf, r)
	}
	return string(buf)
}

// Tokenizer is a byte-pair-encoding tokenizer.
type Tokenizer struct {
	Vocab        map[string]int // token -> id
	ReverseVocab map[int]string // id -> token
	Special      map[string]int // special token -> id

	merges  map[[2]string]int // pair -> merge rank
	pattern *regexp.Regexp
	unkID   int
	padID   int
	eosID   int
}

// tokenizerJSON mirrors the HuggingFace tokenizer.json layout.
type tokenizerJSON struct {
	Model struct {
		Type   string         `json:"type"`
		Vocab  map[string]int `json:"vocab"`
		Merges []string       `json:"merges"`
	} `json:"model"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// Pre-tokenization split: contractions, letter runs, digit runs,
// punctuation runs, whitespace. Go regexp has no lookahead, so this is the
// simplified GPT-2 pattern.
var splitPattern = regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)

// LoadFromFile loads a tokenizer from a tokenizer.json file.
func LoadFromFile(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads a tokenizer from tokenizer.json data.
func LoadFromBytes(data []byte) (*Tokenizer, error) {
	var raw tokenizerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer JSON: %w", err)
	}
	if len(raw.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer has an empty vocab")
	}

	t := &Tokenizer{
		Vocab:        raw.Model.Vocab,
		ReverseVocab: make(map[int]string, len(raw.Model.Vocab)),
		Special:      make(map[string]int),
		merges:       make(map[[2]string]int, len(raw.Model.Merges)),
		pattern:      splitPattern,
		unkID:        -1,
		padID:        -1,
		eosID:        -1,
	}
	for token, id := range t.Vocab {
		t.ReverseVocab[id] = token
	}
	for rank, merge := range raw.Model.Merges {
		parts := strings.SplitN(merge, " ", 2)
		if len(parts) != 2 {
			continue
		}
		t.merges[[2]string{parts[0], parts[1]}] = rank
	}
	for _, added := range raw.AddedTokens {
		t.Vocab[added.Content] = added.ID
		t.ReverseVocab[added.ID] = added.Content
		if added.Special {
			t.Special[added.Content] = added.ID
		}
	}

	if id, ok := t.Vocab["<unk>"]; ok {
		t.unkID = id
	}
	if id, ok := t.Vocab["<pad>"]; ok {
		t.padID = id
	}
	if id, ok := t.Vocab["</s>"]; ok {
		t.eosID = id
	}
	return t, nil
}

// VocabSize returns the number of distinct token ids.
func (t *Tokenizer) VocabSize() int {
	max := -1
	for id := range t.ReverseVocab {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// PadID returns the padding token id, or -1 if the vocab has none.
func (t *Tokenizer) PadID() int { return t.padID }

// EOSID returns the end-of-sequence token id, or -1 if the vocab has none.
func (t *Tokenizer) EOSID() int { return t.eosID }

// Encode converts text to token ids, truncated to maxLen (0 = no limit).
func (t *Tokenizer) Encode(text string, maxLen int) []int {
	var ids []int
	for _, word := range t.pattern.FindAllString(text, -1) {
		ids = append(ids, t.bpeEncode(encodeToGPT2Chars(word))...)
		if maxLen > 0 && len(ids) >= maxLen {
			return ids[:maxLen]
		}
	}
	return ids
}

// bpeEncode splits a byte-level-alphabet word into characters and greedily
// applies the lowest-rank merge until none applies.
func (t *Tokenizer) bpeEncode(word string) []int {
	if id, ok := t.Vocab[word]; ok {
		return []int{id}
	}

	var tokens []string
	for _, r := range word {
		tokens = append(tokens, string(r))
	}

	for len(tokens) > 1 {
		bestRank := -1
		bestIdx := -1
		for i := 0; i < len(tokens)-1; i++ {
			rank, ok := t.merges[[2]string{tokens[i], tokens[i+1]}]
			if !ok {
				continue
			}
			if bestRank == -1 || rank < bestRank {
				bestRank = rank
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		merged := tokens[bestIdx] + tokens[bestIdx+1]
		tokens = append(tokens[:bestIdx+1], tokens[bestIdx+2:]...)
		tokens[bestIdx] = merged
	}

	ids := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		if id, ok := t.Vocab[tok]; ok {
			ids = append(ids, id)
			continue
		}
		// Byte fallback for tokens outside the vocab, keyed on the raw
		// bytes rather than their shifted alphabet.
		fell := false
		for _, b := range []byte(decodeGPT2Bytes(tok)) {
			if id, ok := t.Vocab[fmt.Sprintf("<0x%02X>", b)]; ok {
				ids = append(ids, id)
				fell = true
			}
		}
		if !fell && t.unkID >= 0 {
			ids = append(ids, t.unkID)
		}
	}
	return ids
}

// Decode converts token ids back to text, skipping special tokens and
// restoring spaces and other shifted bytes.
func (t *Tokenizer) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		token, ok := t.ReverseVocab[id]
		if !ok {
			continue
		}
		if _, special := t.Special[token]; special {
			continue
		}
		sb.WriteString(token)
	}
	return decodeGPT2Bytes(sb.String())
}

// PadLeft left-pads ids to length with padID, matching the padding side the
// pruned checkpoints were fine-tuned with. Sequences at or above length are
// returned unchanged.
func PadLeft(ids []int, length, padID int) []int {
	if len(ids) >= length {
		return ids
	}
	out := make([]int, length)
	pad := length - len(ids)
	for i := 0; i < pad; i++ {
		out[i] = padID
	}
	copy(out[pad:], ids)
	return out
}
