package nn

import (
	"fmt"
	"strings"
)

// Whitelist is the set of parameter-name substrings eligible for gradient
// masking. Its contents are configuration, not code: callers supply whatever
// the pruning run targeted.
type Whitelist []string

// DefaultWhitelist covers the projection weights the reference pruning runs
// zero out: attention projections and the MLP linears.
func DefaultWhitelist() Whitelist {
	return Whitelist{"q_proj", "k_proj", "v_proj", "out_proj", "fc1", "fc2"}
}

// Matches reports whether any whitelist entry is a substring of name.
func (wl Whitelist) Matches(name string) bool {
	for _, pattern := range wl {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}

// SparsityMask captures the parameter's current sparsity pattern as a 0/1
// mask: mask[i] = 1 iff Data[i] != 0. Multiplying a gradient by this mask
// zeroes its contribution exactly where the weight is already pruned. The
// mask reflects the pattern at capture time and is never recomputed.
func SparsityMask(p *Param) []uint8 {
	mask := make([]uint8, len(p.Data))
	for i, v := range p.Data {
		if v != 0 {
			mask[i] = 1
		}
	}
	return mask
}

// SelectMask decides whether a parameter is eligible for sparsity-preserving
// masking and, if so, returns its mask. Eligibility requires the name to
// match the whitelist and to contain "weight" (biases and norm parameters
// are never masked). Returns nil for ineligible parameters.
//
// An all-zero parameter yields an all-zero mask, which permanently freezes
// that parameter. That is a reachable, intended state, not an error.
func SelectMask(p *Param, wl Whitelist) []uint8 {
	if !strings.Contains(p.Name, "weight") || !wl.Matches(p.Name) {
		return nil
	}
	return SparsityMask(p)
}

// NonzeroFraction returns the proportion of unmasked (nonzero) elements.
// Diagnostic only.
func NonzeroFraction(mask []uint8) float64 {
	if len(mask) == 0 {
		return 0
	}
	count := 0
	for _, m := range mask {
		if m != 0 {
			count++
		}
	}
	return float64(count) / float64(len(mask))
}

// MaskApplier performs the elementwise gradient × mask product. The mask
// arrives already converted to the gradient's precision. Implementations
// must not mutate mask; they may mutate grad in place and return it.
// The compute backend is injected here so the hook itself stays free of any
// ambient device state.
type MaskApplier interface {
	Apply(grad []float32, mask []float32) []float32
}

// cpuMaskApplier is the default backend: a plain elementwise multiply.
type cpuMaskApplier struct{}

func (cpuMaskApplier) Apply(grad []float32, mask []float32) []float32 {
	for i := range grad {
		grad[i] *= mask[i]
	}
	return grad
}

// NewMaskHook builds a gradient hook closed over one immutable mask. The
// mask is stored as uint8 and converted to the gradient's float precision at
// every application, so a lower-precision gradient representation would see
// a matching mask. A length mismatch between gradient and mask is a
// programming-invariant violation and panics immediately.
func NewMaskHook(name string, mask []uint8, applier MaskApplier) GradHook {
	if applier == nil {
		applier = cpuMaskApplier{}
	}
	return func(grad []float32) []float32 {
		if len(grad) != len(mask) {
			panic(fmt.Sprintf("nn: gradient/mask shape mismatch on %s: %d vs %d",
				name, len(grad), len(mask)))
		}
		fmask := make([]float32, len(mask))
		for i, m := range mask {
			fmask[i] = float32(m)
		}
		return applier.Apply(grad, fmask)
	}
}

// MaskStat records per-parameter observability data captured at install time.
type MaskStat struct {
	Name    string
	Size    int
	Nonzero float64 // fraction of elements left trainable
}

// HookRegistry owns every mask hook installed on a model for one training
// run. It is created empty, populated by InstallMaskHooks, and drained by
// RemoveAll. It performs no locking: one registry belongs to one training
// loop.
type HookRegistry struct {
	applier   MaskApplier
	handles   []*HookHandle
	installed map[string]bool
	stats     []MaskStat
}

// NewHookRegistry creates an empty registry. A nil applier selects the CPU
// backend.
func NewHookRegistry(applier MaskApplier) *HookRegistry {
	return &HookRegistry{
		applier:   applier,
		installed: make(map[string]bool),
	}
}

// InstallMaskHooks iterates the given parameters exactly once, selects a
// mask for each eligible one, and registers a mask hook closed over it.
// An empty whitelist falls back to DefaultWhitelist. Parameters this
// registry already hooked are skipped, so a second call cannot
// double-register. Returns the number of hooks installed by this call.
func (r *HookRegistry) InstallMaskHooks(params []*Param, wl Whitelist) int {
	if len(wl) == 0 {
		wl = DefaultWhitelist()
	}
	installed := 0
	for _, p := range params {
		if r.installed[p.Name] {
			continue
		}
		mask := SelectMask(p, wl)
		if mask == nil {
			continue
		}
		handle := p.RegisterGradHook(NewMaskHook(p.Name, mask, r.applier))
		r.handles = append(r.handles, handle)
		r.installed[p.Name] = true
		r.stats = append(r.stats, MaskStat{
			Name:    p.Name,
			Size:    len(mask),
			Nonzero: NonzeroFraction(mask),
		})
		installed++
	}
	return installed
}

// RemoveAll detaches every hook this registry installed and empties it.
// Calling it on an empty or already-drained registry is a no-op, so it is
// safe as a deferred cleanup on error paths. After it returns the model
// carries no masking hooks and can be serialized.
func (r *HookRegistry) RemoveAll() {
	for _, h := range r.handles {
		h.Remove()
	}
	r.handles = nil
	r.installed = make(map[string]bool)
	r.stats = nil
}

// Len returns the number of currently active hooks.
func (r *HookRegistry) Len() int {
	return len(r.handles)
}

// Stats returns the per-parameter mask statistics captured at install time.
func (r *HookRegistry) Stats() []MaskStat {
	return r.stats
}
