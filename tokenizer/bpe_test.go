package tokenizer

import "testing"

// testJSON is a minimal tokenizer.json with enough merges to exercise the
// BPE loop.
const testJSON = `{
	"model": {
		"type": "BPE",
		"vocab": {
			"h": 4, "e": 5, "l": 6, "o": 7,
			"he": 8, "ll": 9, "hell": 10, "hello": 11,
			"Ġhello": 12, "!": 13
		},
		"merges": ["h e", "l l", "he ll", "hell o"]
	},
	"added_tokens": [
		{"id": 0, "content": "<pad>", "special": true},
		{"id": 1, "content": "</s>", "special": true},
		{"id": 2, "content": "<unk>", "special": true}
	]
}`

func loadTestTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := LoadFromBytes([]byte(testJSON))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

// TestLoadSpecialTokens verifies pad/eos/unk detection from added_tokens.
func TestLoadSpecialTokens(t *testing.T) {
	tok := loadTestTokenizer(t)
	if tok.PadID() != 0 {
		t.Errorf("PadID = %d, want 0", tok.PadID())
	}
	if tok.EOSID() != 1 {
		t.Errorf("EOSID = %d, want 1", tok.EOSID())
	}
	if tok.VocabSize() != 14 {
		t.Errorf("VocabSize = %d, want 14", tok.VocabSize())
	}
}

// TestEncodeMerges verifies the merge loop assembles the longest known
// token.
func TestEncodeMerges(t *testing.T) {
	tok := loadTestTokenizer(t)

	ids := tok.Encode("hello", 0)
	if len(ids) != 1 || ids[0] != 11 {
		t.Errorf("Encode(hello) = %v, want [11]", ids)
	}

	// "hell" stops after the "he ll" merge.
	ids = tok.Encode("hell", 0)
	if len(ids) != 1 || ids[0] != 10 {
		t.Errorf("Encode(hell) = %v, want [10]", ids)
	}
}

// TestEncodeSpacePrefixedWords verifies words after the first resolve to
// their Ġ-prefixed vocab entries rather than degrading to per-character
// ids, and that Decode restores the spaces.
func TestEncodeSpacePrefixedWords(t *testing.T) {
	const theJSON = `{
		"model": {
			"type": "BPE",
			"vocab": {
				"t": 1, "h": 2, "e": 3,
				"the": 4, "Ġthe": 5,
				"Ġ": 6, "Ġt": 7, "he": 8
			},
			"merges": ["Ġ t", "t h", "th e", "Ġt he", "t he"]
		}
	}`
	tok, err := LoadFromBytes([]byte(theJSON))
	if err != nil {
		t.Fatal(err)
	}

	ids := tok.Encode("the the", 0)
	if len(ids) != 2 || ids[0] != 4 || ids[1] != 5 {
		t.Errorf("Encode(the the) = %v, want [4 5]", ids)
	}

	if got := tok.Decode(ids); got != "the the" {
		t.Errorf("Decode = %q, want %q", got, "the the")
	}
}

// TestEncodeTruncation verifies maxLen cuts the id stream, not the text.
func TestEncodeTruncation(t *testing.T) {
	tok := loadTestTokenizer(t)
	ids := tok.Encode("hello hello hello", 2)
	if len(ids) != 2 {
		t.Errorf("len = %d, want 2", len(ids))
	}
}

// TestEncodeUnknown verifies characters with no vocab entry fall back to
// <unk>.
func TestEncodeUnknown(t *testing.T) {
	tok := loadTestTokenizer(t)
	ids := tok.Encode("z", 0)
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("Encode(z) = %v, want [2]", ids)
	}
}

// TestDecodeSkipsSpecials verifies round trip text drops pad and eos.
func TestDecodeSkipsSpecials(t *testing.T) {
	tok := loadTestTokenizer(t)
	got := tok.Decode([]int{0, 0, 11, 13, 1})
	if got != "hello!" {
		t.Errorf("Decode = %q, want %q", got, "hello!")
	}
}

// TestPadLeft verifies padding side and the no-op path.
func TestPadLeft(t *testing.T) {
	got := PadLeft([]int{5, 6}, 4, 0)
	want := []int{0, 0, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("PadLeft = %v, want %v", got, want)
		}
	}

	same := []int{1, 2, 3}
	if out := PadLeft(same, 3, 0); len(out) != 3 || out[0] != 1 {
		t.Errorf("PadLeft at length changed the slice: %v", out)
	}
}

// TestLoadRejectsEmptyVocab verifies a malformed file errors.
func TestLoadRejectsEmptyVocab(t *testing.T) {
	if _, err := LoadFromBytes([]byte(`{"model":{"type":"BPE"}}`)); err == nil {
		t.Error("expected error for empty vocab")
	}
}
