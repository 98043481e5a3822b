package nn

import "math"

// LRScheduler maps an optimizer step number to a learning rate.
type LRScheduler interface {
	// GetLR returns the learning rate for the given step (0-based).
	GetLR(step int) float32

	// Name returns the scheduler name for logging.
	Name() string
}

// ============================================================================
// Constant - fixed learning rate
// ============================================================================

type ConstantScheduler struct {
	baseLR float32
}

func NewConstantScheduler(baseLR float32) *ConstantScheduler {
	return &ConstantScheduler{baseLR: baseLR}
}

func (s *ConstantScheduler) GetLR(step int) float32 {
	return s.baseLR
}

func (s *ConstantScheduler) Name() string {
	return "Constant"
}

// ============================================================================
// Linear warmup then linear decay to zero
// ============================================================================

// LinearWarmupScheduler ramps the learning rate linearly from 0 to baseLR
// over warmupSteps, then decays it linearly to 0 at totalSteps. Past
// totalSteps the rate stays 0.
type LinearWarmupScheduler struct {
	baseLR      float32
	warmupSteps int
	totalSteps  int
}

func NewLinearWarmupScheduler(baseLR float32, warmupSteps, totalSteps int) *LinearWarmupScheduler {
	if warmupSteps < 0 {
		warmupSteps = 0
	}
	if totalSteps < warmupSteps {
		totalSteps = warmupSteps
	}
	return &LinearWarmupScheduler{
		baseLR:      baseLR,
		warmupSteps: warmupSteps,
		totalSteps:  totalSteps,
	}
}

func (s *LinearWarmupScheduler) GetLR(step int) float32 {
	if step < s.warmupSteps {
		return s.baseLR * float32(step) / float32(s.warmupSteps)
	}
	remaining := s.totalSteps - step
	if remaining <= 0 {
		return 0
	}
	return s.baseLR * float32(remaining) / float32(s.totalSteps-s.warmupSteps)
}

func (s *LinearWarmupScheduler) Name() string {
	return "LinearWarmup"
}

// ============================================================================
// Cosine annealing
// ============================================================================

type CosineAnnealingScheduler struct {
	initialLR  float32
	minLR      float32
	totalSteps int
}

func NewCosineAnnealingScheduler(initialLR, minLR float32, totalSteps int) *CosineAnnealingScheduler {
	return &CosineAnnealingScheduler{
		initialLR:  initialLR,
		minLR:      minLR,
		totalSteps: totalSteps,
	}
}

func (s *CosineAnnealingScheduler) GetLR(step int) float32 {
	if step >= s.totalSteps {
		return s.minLR
	}
	progress := float64(step) / float64(s.totalSteps)
	cosineDecay := (1.0 + math.Cos(math.Pi*progress)) / 2.0
	return s.minLR + (s.initialLR-s.minLR)*float32(cosineDecay)
}

func (s *CosineAnnealingScheduler) Name() string {
	return "CosineAnnealing"
}
