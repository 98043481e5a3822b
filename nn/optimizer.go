package nn

import (
	"fmt"
	"math"
)

// Optimizer applies accumulated gradients to parameters.
type Optimizer interface {
	// Step updates every parameter in place from its Grad.
	Step(params []*Param, learningRate float32)

	// Reset clears optimizer state (moments, step counter).
	Reset()

	// State snapshots the optimizer for checkpointing.
	State() OptimizerState

	// LoadState restores a snapshot taken by State.
	LoadState(state OptimizerState) error

	// Name returns the optimizer name for logging.
	Name() string
}

// OptimizerState is the serializable snapshot of an optimizer. Moment
// buffers are keyed by parameter name so a resumed run reattaches them
// regardless of parameter ordering.
type OptimizerState struct {
	Type        string               `json:"type"`
	Step        int                  `json:"step"`
	Beta1       float32              `json:"beta1,omitempty"`
	Beta2       float32              `json:"beta2,omitempty"`
	Epsilon     float32              `json:"epsilon,omitempty"`
	WeightDecay float32              `json:"weight_decay,omitempty"`
	Momentum    float32              `json:"momentum,omitempty"`
	Moments     map[string][]float32 `json:"m,omitempty"`
	Variances   map[string][]float32 `json:"v,omitempty"`
}

// ============================================================================
// AdamW (Adam with decoupled weight decay)
// ============================================================================

type AdamWOptimizer struct {
	beta1       float32
	beta2       float32
	epsilon     float32
	weightDecay float32
	step        int

	m map[string][]float32 // first moment estimates
	v map[string][]float32 // second moment estimates
}

func NewAdamWOptimizer(beta1, beta2, epsilon, weightDecay float32) *AdamWOptimizer {
	return &AdamWOptimizer{
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		m:           make(map[string][]float32),
		v:           make(map[string][]float32),
	}
}

// NewAdamWOptimizerDefault uses the hyperparameters the fine-tuning driver
// trains with: betas 0.9/0.999, eps 1e-8, weight decay 2e-4.
func NewAdamWOptimizerDefault() *AdamWOptimizer {
	return NewAdamWOptimizer(0.9, 0.999, 1e-8, 2e-4)
}

func (opt *AdamWOptimizer) Step(params []*Param, learningRate float32) {
	opt.step++

	biasCorrection1 := 1.0 - float32(math.Pow(float64(opt.beta1), float64(opt.step)))
	biasCorrection2 := 1.0 - float32(math.Pow(float64(opt.beta2), float64(opt.step)))

	for _, p := range params {
		if opt.m[p.Name] == nil {
			opt.m[p.Name] = make([]float32, p.Size())
			opt.v[p.Name] = make([]float32, p.Size())
		}
		m, v := opt.m[p.Name], opt.v[p.Name]

		for j := range p.Data {
			grad := p.Grad[j]

			m[j] = opt.beta1*m[j] + (1-opt.beta1)*grad
			v[j] = opt.beta2*v[j] + (1-opt.beta2)*grad*grad

			mHat := m[j] / biasCorrection1
			vHat := v[j] / biasCorrection2

			// Decoupled weight decay: a zero weight with a masked (zero)
			// gradient stays exactly zero through this update.
			p.Data[j] -= learningRate * (mHat/(float32(math.Sqrt(float64(vHat)))+opt.epsilon) + opt.weightDecay*p.Data[j])
		}
	}
}

func (opt *AdamWOptimizer) Reset() {
	opt.step = 0
	opt.m = make(map[string][]float32)
	opt.v = make(map[string][]float32)
}

func (opt *AdamWOptimizer) State() OptimizerState {
	return OptimizerState{
		Type:        "adamw",
		Step:        opt.step,
		Beta1:       opt.beta1,
		Beta2:       opt.beta2,
		Epsilon:     opt.epsilon,
		WeightDecay: opt.weightDecay,
		Moments:     copyStateMap(opt.m),
		Variances:   copyStateMap(opt.v),
	}
}

// copyStateMap deep-copies moment buffers so a snapshot never aliases the
// optimizer's live state.
func copyStateMap(src map[string][]float32) map[string][]float32 {
	dst := make(map[string][]float32, len(src))
	for name, buf := range src {
		c := make([]float32, len(buf))
		copy(c, buf)
		dst[name] = c
	}
	return dst
}

func (opt *AdamWOptimizer) LoadState(state OptimizerState) error {
	if state.Type != "adamw" {
		return fmt.Errorf("nn: invalid optimizer state type: expected adamw, got %q", state.Type)
	}
	opt.step = state.Step
	opt.beta1 = state.Beta1
	opt.beta2 = state.Beta2
	opt.epsilon = state.Epsilon
	opt.weightDecay = state.WeightDecay
	opt.m = copyStateMap(state.Moments)
	opt.v = copyStateMap(state.Variances)
	return nil
}

func (opt *AdamWOptimizer) Name() string {
	return "AdamW"
}

// ============================================================================
// SGD with optional momentum
// ============================================================================

type SGDOptimizer struct {
	momentum   float32
	velocities map[string][]float32
}

func NewSGDOptimizer(momentum float32) *SGDOptimizer {
	return &SGDOptimizer{
		momentum:   momentum,
		velocities: make(map[string][]float32),
	}
}

func (opt *SGDOptimizer) Step(params []*Param, learningRate float32) {
	for _, p := range params {
		if opt.momentum == 0 {
			for j := range p.Data {
				p.Data[j] -= learningRate * p.Grad[j]
			}
			continue
		}

		if opt.velocities[p.Name] == nil {
			opt.velocities[p.Name] = make([]float32, p.Size())
		}
		vel := opt.velocities[p.Name]
		for j := range p.Data {
			vel[j] = opt.momentum*vel[j] + p.Grad[j]
			p.Data[j] -= learningRate * vel[j]
		}
	}
}

func (opt *SGDOptimizer) Reset() {
	opt.velocities = make(map[string][]float32)
}

func (opt *SGDOptimizer) State() OptimizerState {
	return OptimizerState{
		Type:     "sgd",
		Momentum: opt.momentum,
		Moments:  copyStateMap(opt.velocities),
	}
}

func (opt *SGDOptimizer) LoadState(state OptimizerState) error {
	if state.Type != "sgd" {
		return fmt.Errorf("nn: invalid optimizer state type: expected sgd, got %q", state.Type)
	}
	opt.momentum = state.Momentum
	opt.velocities = copyStateMap(state.Moments)
	return nil
}

func (opt *SGDOptimizer) Name() string {
	if opt.momentum > 0 {
		return "SGD (momentum)"
	}
	return "SGD"
}
