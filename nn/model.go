package nn

import (
	"fmt"
	"math/rand"
)

// DecoderConfig describes an OPT-style decoder-only transformer.
type DecoderConfig struct {
	VocabSize    int     `json:"vocab_size"`
	MaxPositions int     `json:"max_position_embeddings"`
	HiddenSize   int     `json:"hidden_size"`
	FFNSize      int     `json:"ffn_dim"`
	NumLayers    int     `json:"num_hidden_layers"`
	NumHeads     int     `json:"num_attention_heads"`
	LayerNormEps float64 `json:"layer_norm_eps"`
}

// Validate checks the dimensional constraints a decoder is built from.
func (c DecoderConfig) Validate() error {
	if c.VocabSize <= 0 || c.HiddenSize <= 0 || c.NumLayers <= 0 {
		return fmt.Errorf("nn: decoder config must have positive vocab/hidden/layers, got %d/%d/%d",
			c.VocabSize, c.HiddenSize, c.NumLayers)
	}
	if c.NumHeads <= 0 || c.HiddenSize%c.NumHeads != 0 {
		return fmt.Errorf("nn: hidden size %d not divisible by %d heads", c.HiddenSize, c.NumHeads)
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("nn: max positions must be positive, got %d", c.MaxPositions)
	}
	if c.FFNSize <= 0 {
		return fmt.Errorf("nn: ffn size must be positive, got %d", c.FFNSize)
	}
	return nil
}

// decoderLayer groups the parameters of one transformer block.
type decoderLayer struct {
	attnNormW, attnNormB *Param
	qProjW, qProjB       *Param
	kProjW, kProjB       *Param
	vProjW, vProjB       *Param
	outProjW, outProjB   *Param
	ffnNormW, ffnNormB   *Param
	fc1W, fc1B           *Param
	fc2W, fc2B           *Param
}

// Decoder is a pre-LN causal transformer with learned positional embeddings,
// ReLU MLPs and an unembedding tied to the token embedding. Parameter names
// follow the checkpoint convention of the pruned models it fine-tunes
// (decoder.layers.N.self_attn.q_proj.weight and friends).
type Decoder struct {
	Config DecoderConfig

	embedTokens    *Param // [vocab, hidden]; also the unembedding
	embedPositions *Param // [maxPositions, hidden]
	layers         []decoderLayer
	finalNormW     *Param
	finalNormB     *Param

	params []*Param
	byName map[string]*Param
}

// NewDecoder builds a decoder with randomly initialized parameters.
func NewDecoder(cfg DecoderConfig, seed int64) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LayerNormEps == 0 {
		cfg.LayerNormEps = 1e-5
	}

	rng := rand.New(rand.NewSource(seed))
	d := &Decoder{
		Config: cfg,
		byName: make(map[string]*Param),
	}

	h, f := cfg.HiddenSize, cfg.FFNSize

	d.embedTokens = d.register(NewParamRandom(rng, "decoder.embed_tokens.weight", cfg.VocabSize, h))
	d.embedPositions = d.register(NewParamRandom(rng, "decoder.embed_positions.weight", cfg.MaxPositions, h))

	d.layers = make([]decoderLayer, cfg.NumLayers)
	for i := range d.layers {
		prefix := fmt.Sprintf("decoder.layers.%d", i)
		l := &d.layers[i]

		l.attnNormW = d.register(onesParam(fmt.Sprintf("%s.self_attn_layer_norm.weight", prefix), h))
		l.attnNormB = d.register(NewParam(fmt.Sprintf("%s.self_attn_layer_norm.bias", prefix), h))
		l.qProjW = d.register(NewParamRandom(rng, fmt.Sprintf("%s.self_attn.q_proj.weight", prefix), h, h))
		l.qProjB = d.register(NewParam(fmt.Sprintf("%s.self_attn.q_proj.bias", prefix), h))
		l.kProjW = d.register(NewParamRandom(rng, fmt.Sprintf("%s.self_attn.k_proj.weight", prefix), h, h))
		l.kProjB = d.register(NewParam(fmt.Sprintf("%s.self_attn.k_proj.bias", prefix), h))
		l.vProjW = d.register(NewParamRandom(rng, fmt.Sprintf("%s.self_attn.v_proj.weight", prefix), h, h))
		l.vProjB = d.register(NewParam(fmt.Sprintf("%s.self_attn.v_proj.bias", prefix), h))
		l.outProjW = d.register(NewParamRandom(rng, fmt.Sprintf("%s.self_attn.out_proj.weight", prefix), h, h))
		l.outProjB = d.register(NewParam(fmt.Sprintf("%s.self_attn.out_proj.bias", prefix), h))

		l.ffnNormW = d.register(onesParam(fmt.Sprintf("%s.final_layer_norm.weight", prefix), h))
		l.ffnNormB = d.register(NewParam(fmt.Sprintf("%s.final_layer_norm.bias", prefix), h))
		l.fc1W = d.register(NewParamRandom(rng, fmt.Sprintf("%s.fc1.weight", prefix), f, h))
		l.fc1B = d.register(NewParam(fmt.Sprintf("%s.fc1.bias", prefix), f))
		l.fc2W = d.register(NewParamRandom(rng, fmt.Sprintf("%s.fc2.weight", prefix), h, f))
		l.fc2B = d.register(NewParam(fmt.Sprintf("%s.fc2.bias", prefix), h))
	}

	d.finalNormW = d.register(onesParam("decoder.final_layer_norm.weight", h))
	d.finalNormB = d.register(NewParam("decoder.final_layer_norm.bias", h))

	return d, nil
}

func onesParam(name string, size int) *Param {
	p := NewParam(name, size)
	for i := range p.Data {
		p.Data[i] = 1
	}
	return p
}

func (d *Decoder) register(p *Param) *Param {
	d.params = append(d.params, p)
	d.byName[p.Name] = p
	return p
}

// NamedParameters returns every parameter in registration order.
func (d *Decoder) NamedParameters() []*Param {
	return d.params
}

// Param looks a parameter up by its dotted name.
func (d *Decoder) Param(name string) (*Param, bool) {
	p, ok := d.byName[name]
	return p, ok
}

// NumParameters returns the total element count across all parameters.
func (d *Decoder) NumParameters() int {
	total := 0
	for _, p := range d.params {
		total += p.Size()
	}
	return total
}

// ZeroGrads clears every parameter gradient.
func (d *Decoder) ZeroGrads() {
	for _, p := range d.params {
		p.ZeroGrad()
	}
}

// LoadWeights copies checkpoint tensors into the matching parameters.
// Every parameter must be present with the exact shape; extra tensors in the
// checkpoint are rejected so a wrong file fails loudly.
func (d *Decoder) LoadWeights(tensors map[string]Tensor) error {
	for name := range tensors {
		if _, ok := d.byName[name]; !ok {
			return fmt.Errorf("nn: checkpoint tensor %q has no matching parameter", name)
		}
	}
	for _, p := range d.params {
		t, ok := tensors[p.Name]
		if !ok {
			return fmt.Errorf("nn: checkpoint is missing tensor %q", p.Name)
		}
		if !shapeEqual(t.Shape, p.Shape) {
			return fmt.Errorf("nn: tensor %q shape %v does not match parameter shape %v",
				p.Name, t.Shape, p.Shape)
		}
		copy(p.Data, t.Data)
	}
	return nil
}

// ExportWeights snapshots every parameter as a named tensor map, ready for
// safetensors serialization. Data is copied so later training steps do not
// mutate the snapshot.
func (d *Decoder) ExportWeights() map[string]Tensor {
	out := make(map[string]Tensor, len(d.params))
	for _, p := range d.params {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		shape := make([]int, len(p.Shape))
		copy(shape, p.Shape)
		out[p.Name] = Tensor{DType: "F32", Shape: shape, Data: data}
	}
	return out
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
