package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// GradHook transforms a parameter's gradient immediately after the backward
// pass has finished accumulating it. The returned slice replaces the gradient
// the optimizer will consume.
type GradHook func(grad []float32) []float32

type hookEntry struct {
	id int
	fn GradHook
}

// Param is a named, mutable tensor parameter owned by the model.
// Data is row-major; Grad always has the same length as Data.
type Param struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32

	hooks      []hookEntry
	nextHookID int
}

// NewParam creates a zero-initialized parameter.
func NewParam(name string, shape ...int) *Param {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return &Param{
		Name:  name,
		Shape: shape,
		Data:  make([]float32, size),
		Grad:  make([]float32, size),
	}
}

// NewParamRandom creates a parameter with normal-distributed values (std scaled
// by fan-in), matching the init the pruned checkpoints were trained from.
func NewParamRandom(rng *rand.Rand, name string, shape ...int) *Param {
	p := NewParam(name, shape...)
	fanIn := shape[len(shape)-1]
	std := float32(1.0 / math.Sqrt(float64(fanIn)))
	for i := range p.Data {
		p.Data[i] = float32(rng.NormFloat64()) * std
	}
	return p
}

// Size returns the number of elements in the parameter.
func (p *Param) Size() int {
	return len(p.Data)
}

// ZeroGrad resets the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// HookHandle is the token returned by RegisterGradHook. Its only operation is
// Remove, which detaches the hook from the parameter. Remove is safe to call
// more than once; calls after the first are no-ops.
type HookHandle struct {
	param   *Param
	id      int
	removed bool
}

// Remove detaches the hook from its parameter.
func (h *HookHandle) Remove() {
	if h == nil || h.removed {
		return
	}
	h.removed = true
	h.param.removeHook(h.id)
}

// RegisterGradHook attaches a gradient hook to the parameter. Hooks run in
// registration order inside runGradHooks, once per backward pass.
func (p *Param) RegisterGradHook(fn GradHook) *HookHandle {
	if fn == nil {
		panic(fmt.Sprintf("nn: nil gradient hook registered on %s", p.Name))
	}
	id := p.nextHookID
	p.nextHookID++
	p.hooks = append(p.hooks, hookEntry{id: id, fn: fn})
	return &HookHandle{param: p, id: id}
}

// HookCount returns the number of active gradient hooks on the parameter.
func (p *Param) HookCount() int {
	return len(p.hooks)
}

func (p *Param) removeHook(id int) {
	for i, h := range p.hooks {
		if h.id == id {
			p.hooks = append(p.hooks[:i], p.hooks[i+1:]...)
			return
		}
	}
}

// runGradHooks applies every active hook to the accumulated gradient.
// Called exactly once per parameter at the end of a backward pass.
func (p *Param) runGradHooks() {
	for _, h := range p.hooks {
		out := h.fn(p.Grad)
		if len(out) != len(p.Grad) {
			panic(fmt.Sprintf("nn: hook on %s returned gradient of length %d, want %d",
				p.Name, len(out), len(p.Grad)))
		}
		p.Grad = out
	}
}
