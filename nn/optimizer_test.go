package nn

import (
	"math"
	"testing"
)

// TestAdamWSingleStep checks one update against the hand-computed AdamW
// formula with bias correction and decoupled weight decay.
func TestAdamWSingleStep(t *testing.T) {
	p := NewParam("w", 1)
	p.Data[0] = 1.0
	p.Grad[0] = 0.5

	opt := NewAdamWOptimizer(0.9, 0.999, 1e-8, 0.01)
	opt.Step([]*Param{p}, 0.1)

	// After step 1 the bias corrections cancel the (1-beta) factors, so
	// mHat = grad and vHat = grad^2.
	mHat := 0.5
	vHat := 0.25
	want := 1.0 - 0.1*(mHat/(math.Sqrt(vHat)+1e-8)+0.01*1.0)
	if math.Abs(float64(p.Data[0])-want) > 1e-6 {
		t.Errorf("Data[0] = %g, want %g", p.Data[0], want)
	}
}

// TestAdamWZeroWeightZeroGradStaysZero verifies the property gradient
// masking relies on: a pruned weight with a masked gradient takes no update
// from moments or weight decay across many steps.
func TestAdamWZeroWeightZeroGradStaysZero(t *testing.T) {
	p := NewParam("w", 2)
	p.Data[0] = 0   // pruned
	p.Data[1] = 1.5 // live

	opt := NewAdamWOptimizerDefault()
	for i := 0; i < 20; i++ {
		p.Grad[0] = 0   // masked
		p.Grad[1] = 0.3 // flowing
		opt.Step([]*Param{p}, 1e-2)
	}

	if p.Data[0] != 0 {
		t.Errorf("pruned weight moved to %g", p.Data[0])
	}
	if p.Data[1] == 1.5 {
		t.Error("live weight never moved")
	}
}

// TestAdamWStateRoundTrip verifies a restored optimizer continues exactly
// where the snapshot left off.
func TestAdamWStateRoundTrip(t *testing.T) {
	mkParam := func() *Param {
		p := NewParam("w", 1)
		p.Data[0] = 2.0
		return p
	}

	a := NewAdamWOptimizerDefault()
	pa := mkParam()
	pa.Grad[0] = 0.1
	a.Step([]*Param{pa}, 1e-3)

	b := NewAdamWOptimizerDefault()
	if err := b.LoadState(a.State()); err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	pb := mkParam()
	pb.Data[0] = pa.Data[0]
	pa.Grad[0], pb.Grad[0] = 0.2, 0.2
	a.Step([]*Param{pa}, 1e-3)
	b.Step([]*Param{pb}, 1e-3)

	if pa.Data[0] != pb.Data[0] {
		t.Errorf("restored optimizer diverged: %g vs %g", pb.Data[0], pa.Data[0])
	}
}

// TestLoadStateTypeMismatch verifies an SGD snapshot cannot be loaded into
// AdamW.
func TestLoadStateTypeMismatch(t *testing.T) {
	opt := NewAdamWOptimizerDefault()
	if err := opt.LoadState(OptimizerState{Type: "sgd"}); err == nil {
		t.Error("expected error loading sgd state into AdamW")
	}
}

// TestSGDMomentumStep verifies two momentum updates by hand.
func TestSGDMomentumStep(t *testing.T) {
	p := NewParam("w", 1)
	p.Data[0] = 1.0

	opt := NewSGDOptimizer(0.9)
	p.Grad[0] = 1.0
	opt.Step([]*Param{p}, 0.1)
	// vel = 1, w = 1 - 0.1
	if math.Abs(float64(p.Data[0])-0.9) > 1e-6 {
		t.Fatalf("after step 1: %g, want 0.9", p.Data[0])
	}

	p.Grad[0] = 1.0
	opt.Step([]*Param{p}, 0.1)
	// vel = 0.9 + 1 = 1.9, w = 0.9 - 0.19
	if math.Abs(float64(p.Data[0])-0.71) > 1e-6 {
		t.Fatalf("after step 2: %g, want 0.71", p.Data[0])
	}
}
