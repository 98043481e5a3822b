package train

import "testing"

// TestParseCheckpointInterval covers the accepted forms and the fatal ones.
func TestParseCheckpointInterval(t *testing.T) {
	e, err := ParseCheckpointInterval("")
	if err != nil || e.Enabled() {
		t.Errorf("empty interval: got %+v, %v; want disabled", e, err)
	}

	e, err = ParseCheckpointInterval("epoch")
	if err != nil || !e.EveryEpoch || e.Steps != 0 {
		t.Errorf("epoch interval: got %+v, %v", e, err)
	}

	e, err = ParseCheckpointInterval("500")
	if err != nil || e.Steps != 500 || e.EveryEpoch {
		t.Errorf("step interval: got %+v, %v", e, err)
	}

	for _, bad := range []string{"often", "0", "-3", "1.5"} {
		if _, err := ParseCheckpointInterval(bad); err == nil {
			t.Errorf("ParseCheckpointInterval(%q) accepted, want error", bad)
		}
	}
}

// TestConfigDefaults verifies ApplyDefaults fills the training
// hyperparameters without touching explicit values.
func TestConfigDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	if c.LearningRate != 2e-5 || c.WeightDecay != 2e-4 {
		t.Errorf("rates: lr=%g wd=%g", c.LearningRate, c.WeightDecay)
	}
	if c.Epochs != 3 || c.BatchSize != 8 || c.MaxDeviceBatch != 1 {
		t.Errorf("batching: epochs=%d batch=%d device=%d", c.Epochs, c.BatchSize, c.MaxDeviceBatch)
	}
	if c.WarmupSteps != 2 || c.Seed != 42 {
		t.Errorf("warmup=%d seed=%d", c.WarmupSteps, c.Seed)
	}

	explicit := Config{Epochs: 7}
	explicit.ApplyDefaults()
	if explicit.Epochs != 7 {
		t.Errorf("explicit Epochs overridden to %d", explicit.Epochs)
	}
}

// TestCheckpointPaths verifies the naming convention tying pruned inputs to
// fine-tuned outputs.
func TestCheckpointPaths(t *testing.T) {
	c := Config{ModelName: "opt-125m", Sparsity: "0.5", ModelDir: "pruned_models"}
	if got, want := c.PrunedCheckpointPath(), "pruned_models/opt-125m-0.5.safetensors"; got != want {
		t.Errorf("PrunedCheckpointPath = %q, want %q", got, want)
	}
	if got, want := c.FinetunedPath(), "pruned_models/opt-125m-0.5-finetuned.safetensors"; got != want {
		t.Errorf("FinetunedPath = %q, want %q", got, want)
	}
}
