package train

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openfluke/warp/nn"
)

// TrainingState is the resumable driver state saved alongside the weights.
type TrainingState struct {
	Epoch       int               `json:"epoch"`
	OverallStep int               `json:"overall_step"`
	RunID       string            `json:"run_id,omitempty"`
	Optimizer   nn.OptimizerState `json:"optimizer"`
}

const (
	stateWeightsFile = "model.safetensors"
	stateJSONFile    = "training_state.json"
)

// SaveState writes model weights and driver state into dir, creating it if
// needed. Masking hooks live outside the parameters, so a state dir never
// embeds hook or mask data; the resumed run reinstalls hooks from the saved
// sparsity pattern itself.
func SaveState(dir string, model *nn.Decoder, state TrainingState) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	if err := nn.SaveSafetensors(filepath.Join(dir, stateWeightsFile), model.ExportWeights()); err != nil {
		return fmt.Errorf("failed to save weights: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal training state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, stateJSONFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write training state: %w", err)
	}
	return nil
}

// LoadState restores model weights in place and returns the driver state.
func LoadState(dir string, model *nn.Decoder) (TrainingState, error) {
	var state TrainingState

	tensors, err := nn.LoadSafetensors(filepath.Join(dir, stateWeightsFile))
	if err != nil {
		return state, fmt.Errorf("failed to load weights: %w", err)
	}
	if err := model.LoadWeights(tensors); err != nil {
		return state, err
	}

	data, err := os.ReadFile(filepath.Join(dir, stateJSONFile))
	if err != nil {
		return state, fmt.Errorf("failed to read training state: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("failed to parse training state: %w", err)
	}
	return state, nil
}

// ResumePoint is where a resumed run picks up, derived from the checkpoint
// directory name (step_<n> or epoch_<n>).
type ResumePoint struct {
	Epoch int // completed epochs
	Step  int // completed optimizer steps (step-based checkpoints)
}

// ParseResumePoint extracts the resume position from a checkpoint dir name.
func ParseResumePoint(dir string) (ResumePoint, error) {
	base := filepath.Base(filepath.Clean(dir))
	switch {
	case strings.HasPrefix(base, "epoch_"):
		n, err := strconv.Atoi(strings.TrimPrefix(base, "epoch_"))
		if err != nil || n < 0 {
			return ResumePoint{}, fmt.Errorf("bad epoch checkpoint name %q", base)
		}
		return ResumePoint{Epoch: n}, nil
	case strings.HasPrefix(base, "step_"):
		n, err := strconv.Atoi(strings.TrimPrefix(base, "step_"))
		if err != nil || n < 0 {
			return ResumePoint{}, fmt.Errorf("bad step checkpoint name %q", base)
		}
		return ResumePoint{Step: n}, nil
	default:
		return ResumePoint{}, fmt.Errorf("checkpoint dir %q is neither step_<n> nor epoch_<n>", base)
	}
}
