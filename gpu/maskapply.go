package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"
)

const maskApplyShader = `
@group(0) @binding(0) var<storage, read_write> grad : array<f32>;
@group(0) @binding(1) var<storage, read> mask : array<f32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let i = gid.x;
	if (i < arrayLength(&grad)) {
		grad[i] = grad[i] * mask[i];
	}
}
`

// MaskApplier multiplies gradients by 0/1 masks on the GPU. It satisfies the
// masking backend interface of the nn package. If the device fails at any
// point the applier falls back to a CPU multiply permanently, so a flaky
// adapter degrades to correct-but-slower rather than failing training.
type MaskApplier struct {
	ctx      *Context
	pipeline *wgpu.ComputePipeline
	broken   bool
}

// NewMaskApplier initializes the GPU context and compiles the mask kernel.
func NewMaskApplier() (*MaskApplier, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "MaskApply_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: maskApplyShader},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compile mask shader: %w", err)
	}

	pipeline, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   "MaskApply_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mask pipeline: %w", err)
	}

	return &MaskApplier{ctx: c, pipeline: pipeline}, nil
}

// Apply returns grad multiplied elementwise by mask. grad and mask must have
// equal length; the nn side guarantees that before calling.
func (a *MaskApplier) Apply(grad []float32, mask []float32) []float32 {
	if a.broken || len(grad) == 0 {
		return applyCPU(grad, mask)
	}
	out, err := a.applyGPU(grad, mask)
	if err != nil {
		fmt.Printf("GPU mask apply failed, falling back to CPU: %v\n", err)
		a.broken = true
		return applyCPU(grad, mask)
	}
	return out
}

func applyCPU(grad []float32, mask []float32) []float32 {
	for i := range grad {
		grad[i] *= mask[i]
	}
	return grad
}

func (a *MaskApplier) applyGPU(grad []float32, mask []float32) ([]float32, error) {
	gradBuf, err := NewFloatBuffer(a.ctx, grad, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	defer gradBuf.Destroy()

	maskBuf, err := NewFloatBuffer(a.ctx, mask, wgpu.BufferUsageStorage)
	if err != nil {
		return nil, err
	}
	defer maskBuf.Destroy()

	bindGroup, err := a.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "MaskApply_Bind",
		Layout: a.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: gradBuf, Size: gradBuf.GetSize()},
			{Binding: 1, Buffer: maskBuf, Size: maskBuf.GetSize()},
		},
	})
	if err != nil {
		return nil, err
	}

	encoder, err := a.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(a.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	workgroups := uint32((len(grad) + 255) / 256)
	pass.DispatchWorkgroups(workgroups, 1, 1)
	pass.End()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, err
	}
	a.ctx.Queue.Submit(cmd)

	return ReadFloatBuffer(a.ctx, gradBuf, len(grad))
}
