package train

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfluke/warp/nn"
)

// stubEncoder tokenizes by whitespace with a fixed word table, enough to
// drive the loader without a real BPE vocabulary.
type stubEncoder struct {
	vocab map[string]int
}

func newStubEncoder(words ...string) *stubEncoder {
	vocab := make(map[string]int, len(words))
	for i, w := range words {
		vocab[w] = i + 1 // 0 is reserved for padding
	}
	return &stubEncoder{vocab: vocab}
}

func (e *stubEncoder) Encode(text string, maxLen int) []int {
	var ids []int
	for _, w := range strings.Fields(text) {
		if id, ok := e.vocab[w]; ok {
			ids = append(ids, id)
		}
		if len(ids) == maxLen {
			break
		}
	}
	return ids
}

func writeCorpus(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestFinetunerPreservesSparsity drives the whole pipeline on a tiny
// model: prune, save, fine-tune over a real corpus, and check the saved
// artifact still has zeros exactly where the pruned checkpoint did.
func TestFinetunerPreservesSparsity(t *testing.T) {
	modelDir := t.TempDir()
	cfg := Config{
		ModelName:  "toy",
		Sparsity:   "0.5",
		ModelDir:   modelDir,
		OutputDir:  t.TempDir(),
		Epochs:     1,
		BatchSize:  2,
		MaxSeqLen:  6,
		MaxSteps:   4,
		TrainSteps: 4,
		CorpusPath: writeCorpus(t,
			"the cat sat on the mat",
			"the dog sat on the cat",
			"a cat and a dog",
			"the mat sat on a dog",
		),
	}

	decoderCfg := nn.DecoderConfig{
		VocabSize:    10,
		MaxPositions: 8,
		HiddenSize:   4,
		FFNSize:      8,
		NumLayers:    1,
		NumHeads:     2,
	}
	src, err := nn.NewDecoder(decoderCfg, 7)
	if err != nil {
		t.Fatal(err)
	}

	pruned := map[string][]int{}
	for _, p := range src.NamedParameters() {
		if !strings.Contains(p.Name, "weight") || !nn.DefaultWhitelist().Matches(p.Name) {
			continue
		}
		for i := 0; i < len(p.Data); i += 2 {
			p.Data[i] = 0
			pruned[p.Name] = append(pruned[p.Name], i)
		}
	}
	if err := nn.SaveSafetensors(cfg.PrunedCheckpointPath(), src.ExportWeights()); err != nil {
		t.Fatal(err)
	}

	model, err := LoadPrunedModel(cfg, decoderCfg)
	if err != nil {
		t.Fatal(err)
	}

	enc := newStubEncoder("the", "cat", "sat", "on", "mat", "dog", "a", "and")
	ft, err := NewFinetuner(cfg, model, enc, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := ft.Run(); err != nil {
		t.Fatal(err)
	}

	// Hooks are gone after the run.
	if ft.Registry().Len() != 0 {
		t.Errorf("registry still holds %d hooks after Run", ft.Registry().Len())
	}
	for _, p := range model.NamedParameters() {
		if p.HookCount() != 0 {
			t.Errorf("%s still carries %d hooks", p.Name, p.HookCount())
		}
	}

	// The saved artifact preserves the pruned pattern exactly.
	out, err := nn.LoadSafetensors(cfg.FinetunedPath())
	if err != nil {
		t.Fatal(err)
	}
	for name, idxs := range pruned {
		tensor, ok := out[name]
		if !ok {
			t.Fatalf("artifact missing %s", name)
		}
		for _, i := range idxs {
			if tensor.Data[i] != 0 {
				t.Errorf("%s[%d] = %g in saved artifact, want 0", name, i, tensor.Data[i])
			}
		}
	}
}

// TestFinetunerRejectsBadInterval verifies an invalid checkpointing_steps
// value fails at construction, before any training work.
func TestFinetunerRejectsBadInterval(t *testing.T) {
	cfg := Config{
		CorpusPath:         writeCorpus(t, "the cat"),
		CheckpointInterval: "often",
	}
	d, err := nn.NewDecoder(nn.DecoderConfig{
		VocabSize: 4, MaxPositions: 4, HiddenSize: 2, FFNSize: 4, NumLayers: 1, NumHeads: 1,
	}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewFinetuner(cfg, d, newStubEncoder("the", "cat"), 0); err == nil {
		t.Error("expected error for invalid checkpoint interval")
	}
}

// TestFinetunerStepCheckpoints verifies step-interval state dirs appear
// with the step_<n> naming.
func TestFinetunerStepCheckpoints(t *testing.T) {
	modelDir := t.TempDir()
	outDir := t.TempDir()
	cfg := Config{
		ModelName:          "toy",
		Sparsity:           "0.5",
		ModelDir:           modelDir,
		OutputDir:          outDir,
		Epochs:             1,
		BatchSize:          1,
		MaxSeqLen:          6,
		MaxSteps:           2,
		TrainSteps:         2,
		CheckpointInterval: "1",
		CorpusPath: writeCorpus(t,
			"the cat sat",
			"the dog sat",
		),
	}

	decoderCfg := nn.DecoderConfig{
		VocabSize: 10, MaxPositions: 8, HiddenSize: 4, FFNSize: 8, NumLayers: 1, NumHeads: 2,
	}
	src, err := nn.NewDecoder(decoderCfg, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := nn.SaveSafetensors(cfg.PrunedCheckpointPath(), src.ExportWeights()); err != nil {
		t.Fatal(err)
	}
	model, err := LoadPrunedModel(cfg, decoderCfg)
	if err != nil {
		t.Fatal(err)
	}

	ft, err := NewFinetuner(cfg, model, newStubEncoder("the", "cat", "sat", "dog"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := ft.Run(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"step_1", "step_2"} {
		dir := filepath.Join(outDir, name)
		if _, err := os.Stat(filepath.Join(dir, "training_state.json")); err != nil {
			t.Errorf("missing checkpoint %s: %v", name, err)
		}
		if _, err := os.Stat(filepath.Join(dir, "model.safetensors")); err != nil {
			t.Errorf("missing weights in %s: %v", name, err)
		}
	}
}
