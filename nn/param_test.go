package nn

import "testing"

// TestRegisterGradHookOrder verifies hooks run in registration order and
// each sees the previous hook's output.
func TestRegisterGradHookOrder(t *testing.T) {
	p := NewParam("w", 2)
	p.RegisterGradHook(func(g []float32) []float32 {
		for i := range g {
			g[i] += 1
		}
		return g
	})
	p.RegisterGradHook(func(g []float32) []float32 {
		for i := range g {
			g[i] *= 2
		}
		return g
	})

	p.Grad = []float32{1, 2}
	p.runGradHooks()
	if p.Grad[0] != 4 || p.Grad[1] != 6 {
		t.Errorf("got grad %v, want [4 6]", p.Grad)
	}
}

// TestHookHandleRemoveTwice verifies a handle's Remove is a no-op after the
// first call and does not disturb other hooks.
func TestHookHandleRemoveTwice(t *testing.T) {
	p := NewParam("w", 1)
	h1 := p.RegisterGradHook(func(g []float32) []float32 { return g })
	p.RegisterGradHook(func(g []float32) []float32 { return g })

	h1.Remove()
	h1.Remove()
	if p.HookCount() != 1 {
		t.Errorf("HookCount = %d, want 1", p.HookCount())
	}
}

// TestRegisterNilHookPanics verifies nil hooks are rejected outright.
func TestRegisterNilHookPanics(t *testing.T) {
	p := NewParam("w", 1)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on nil hook")
		}
	}()
	p.RegisterGradHook(nil)
}

// TestHookWrongLengthPanics verifies a hook that changes the gradient's
// length trips the shape invariant.
func TestHookWrongLengthPanics(t *testing.T) {
	p := NewParam("w", 2)
	p.RegisterGradHook(func(g []float32) []float32 { return g[:1] })
	defer func() {
		if recover() == nil {
			t.Error("expected panic on short hook output")
		}
	}()
	p.runGradHooks()
}

// TestZeroGrad verifies gradients can be cleared between accumulation
// windows without reallocating.
func TestZeroGrad(t *testing.T) {
	p := NewParam("w", 3)
	p.Grad = []float32{1, 2, 3}
	p.ZeroGrad()
	for i, g := range p.Grad {
		if g != 0 {
			t.Errorf("Grad[%d] = %g, want 0", i, g)
		}
	}
}
