// Package train drives sparsity-preserving fine-tuning: it loads a pruned
// checkpoint, installs gradient mask hooks, runs the training loop with
// checkpointing and resume, and saves the fine-tuned artifact once the hooks
// are removed.
package train

import (
	"fmt"
	"strconv"

	"github.com/openfluke/warp/nn"
)

// Config is the full fine-tuning configuration. Zero values fall back to
// the documented defaults via ApplyDefaults.
type Config struct {
	// Model identity; the pruned checkpoint is expected at
	// <ModelDir>/<ModelName>-<Sparsity>.safetensors and the fine-tuned
	// artifact is written next to it with a -finetuned suffix.
	ModelName string
	Sparsity  string // e.g. "0.5"
	ModelDir  string // default "pruned_models"

	// Optimization.
	LearningRate float32 // default 2e-5
	WeightDecay  float32 // default 2e-4
	Epochs       int     // default 3
	BatchSize    int     // default 8
	MaxSeqLen    int     // default 512
	MaxSteps     int     // per-epoch step cap; 0 = no cap
	WarmupSteps  int     // default 2
	TrainSteps   int     // schedule horizon per epoch; default 1000
	Seed         int64   // default 42

	// MaxDeviceBatch caps the per-forward batch; a larger BatchSize is
	// served through gradient accumulation.
	MaxDeviceBatch int // default 1

	// Masking. Empty whitelist selects nn.DefaultWhitelist.
	Whitelist nn.Whitelist

	// Checkpointing. Interval accepts a step count or "epoch"; empty
	// disables periodic state saves.
	CheckpointInterval string
	OutputDir          string // default "."
	ResumeFrom         string // state dir to resume from; empty = fresh run

	// Tracking.
	WithTracking bool
	LoggingDir   string // default "logs"

	// Data.
	CorpusPath    string
	TokenizerPath string
	CachePath     string // optional sqlite token cache

	// UseGPU offloads the mask product to the WebGPU backend.
	UseGPU bool
}

// ApplyDefaults fills unset fields with the defaults the driver trains with.
func (c *Config) ApplyDefaults() {
	if c.ModelDir == "" {
		c.ModelDir = "pruned_models"
	}
	if c.LearningRate == 0 {
		c.LearningRate = 2e-5
	}
	if c.WeightDecay == 0 {
		c.WeightDecay = 2e-4
	}
	if c.Epochs == 0 {
		c.Epochs = 3
	}
	if c.BatchSize == 0 {
		c.BatchSize = 8
	}
	if c.MaxSeqLen == 0 {
		c.MaxSeqLen = 512
	}
	if c.WarmupSteps == 0 {
		c.WarmupSteps = 2
	}
	if c.TrainSteps == 0 {
		c.TrainSteps = 1000
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.MaxDeviceBatch == 0 {
		c.MaxDeviceBatch = 1
	}
	if len(c.Whitelist) == 0 {
		c.Whitelist = nn.DefaultWhitelist()
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.LoggingDir == "" {
		c.LoggingDir = "logs"
	}
}

// PrunedCheckpointPath returns where the pruned model is loaded from.
func (c *Config) PrunedCheckpointPath() string {
	return fmt.Sprintf("%s/%s-%s.safetensors", c.ModelDir, c.ModelName, c.Sparsity)
}

// FinetunedPath returns where the final artifact is saved.
func (c *Config) FinetunedPath() string {
	return fmt.Sprintf("%s/%s-%s-finetuned.safetensors", c.ModelDir, c.ModelName, c.Sparsity)
}

// CheckpointEvery is a parsed checkpoint interval: either every N optimizer
// steps or at the end of every epoch.
type CheckpointEvery struct {
	Steps      int  // >0 when step-based
	EveryEpoch bool // true when epoch-based
}

// Enabled reports whether periodic state saving is on at all.
func (e CheckpointEvery) Enabled() bool {
	return e.Steps > 0 || e.EveryEpoch
}

// ParseCheckpointInterval validates the interval argument at setup time.
// Accepts a positive integer (steps) or the literal "epoch"; an empty string
// disables checkpointing. Anything else is a fatal configuration error.
func ParseCheckpointInterval(s string) (CheckpointEvery, error) {
	if s == "" {
		return CheckpointEvery{}, nil
	}
	if s == "epoch" {
		return CheckpointEvery{EveryEpoch: true}, nil
	}
	steps, err := strconv.Atoi(s)
	if err != nil || steps <= 0 {
		return CheckpointEvery{}, fmt.Errorf(
			"checkpoint interval must be a positive step count or \"epoch\", got %q", s)
	}
	return CheckpointEvery{Steps: steps}, nil
}
