package train

import (
	"path/filepath"
	"testing"

	"github.com/openfluke/warp/nn"
)

func testDecoder(t *testing.T, seed int64) *nn.Decoder {
	t.Helper()
	d, err := nn.NewDecoder(nn.DecoderConfig{
		VocabSize:    11,
		MaxPositions: 8,
		HiddenSize:   4,
		FFNSize:      8,
		NumLayers:    1,
		NumHeads:     2,
	}, seed)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// TestSaveLoadState verifies a state dir round trip restores weights and
// driver state exactly.
func TestSaveLoadState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "step_40")

	src := testDecoder(t, 1)
	opt := nn.NewAdamWOptimizerDefault()
	for _, p := range src.NamedParameters() {
		for i := range p.Grad {
			p.Grad[i] = 0.01
		}
	}
	opt.Step(src.NamedParameters(), 1e-3)

	saved := TrainingState{Epoch: 2, OverallStep: 40, RunID: "run-1", Optimizer: opt.State()}
	if err := SaveState(dir, src, saved); err != nil {
		t.Fatal(err)
	}

	dst := testDecoder(t, 99) // different init, fully overwritten by load
	state, err := LoadState(dir, dst)
	if err != nil {
		t.Fatal(err)
	}
	if state.Epoch != 2 || state.OverallStep != 40 || state.RunID != "run-1" {
		t.Errorf("state = %+v", state)
	}
	if state.Optimizer.Step != 1 {
		t.Errorf("optimizer step = %d, want 1", state.Optimizer.Step)
	}

	for _, p := range src.NamedParameters() {
		q, ok := dst.Param(p.Name)
		if !ok {
			t.Fatalf("restored model missing %s", p.Name)
		}
		for i := range p.Data {
			if p.Data[i] != q.Data[i] {
				t.Fatalf("%s[%d]: %g != %g", p.Name, i, q.Data[i], p.Data[i])
			}
		}
	}
}

// TestLoadStateMissingDir verifies a bad resume path errors rather than
// silently training from scratch.
func TestLoadStateMissingDir(t *testing.T) {
	d := testDecoder(t, 1)
	if _, err := LoadState(filepath.Join(t.TempDir(), "step_absent"), d); err == nil {
		t.Error("expected error for missing state dir")
	}
}

// TestParseResumePoint covers both directory naming schemes and rejects
// anything else.
func TestParseResumePoint(t *testing.T) {
	p, err := ParseResumePoint("/out/epoch_3")
	if err != nil || p.Epoch != 3 || p.Step != 0 {
		t.Errorf("epoch_3: %+v, %v", p, err)
	}

	p, err = ParseResumePoint("out/step_1500/")
	if err != nil || p.Step != 1500 || p.Epoch != 0 {
		t.Errorf("step_1500: %+v, %v", p, err)
	}

	for _, bad := range []string{"out/latest", "out/step_x", "out/epoch_-1"} {
		if _, err := ParseResumePoint(bad); err == nil {
			t.Errorf("ParseResumePoint(%q) accepted, want error", bad)
		}
	}
}
