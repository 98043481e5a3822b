package nn

import "fmt"

// layerState caches one block's activations for the backward pass.
type layerState struct {
	x        []float32 // block input
	normOut1 []float32
	means1   []float64
	invStds1 []float64
	q, k, v  []float32
	probs    []float32
	ctx      []float32
	res1     []float32 // x + attention output, input to the ffn norm
	normOut2 []float32
	means2   []float64
	invStds2 []float64
	fc1Pre   []float32
	fc1Act   []float32
}

// ForwardState holds everything Backward needs: the token batch, the padding
// mask and every intermediate activation.
type ForwardState struct {
	Batch  int
	SeqLen int
	Tokens [][]int
	Logits []float32 // Batch*SeqLen*Vocab

	padMask      []bool
	embedded     []float32
	layers       []layerState
	finalX       []float32
	finalNormOut []float32
	finalMeans   []float64
	finalInvStds []float64
}

// Forward runs the decoder over a batch of equal-length, left-padded token
// sequences. padID marks padding positions; they are excluded from attention
// keys and should be excluded from the loss by the caller.
func (d *Decoder) Forward(tokens [][]int, padID int) (*ForwardState, error) {
	batch := len(tokens)
	if batch == 0 {
		return nil, fmt.Errorf("nn: empty batch")
	}
	seqLen := len(tokens[0])
	if seqLen == 0 {
		return nil, fmt.Errorf("nn: empty sequence")
	}
	if seqLen > d.Config.MaxPositions {
		return nil, fmt.Errorf("nn: sequence length %d exceeds max positions %d", seqLen, d.Config.MaxPositions)
	}

	h := d.Config.HiddenSize
	rows := batch * seqLen

	state := &ForwardState{
		Batch:   batch,
		SeqLen:  seqLen,
		Tokens:  tokens,
		padMask: make([]bool, rows),
	}

	// Token + learned positional embeddings.
	x := make([]float32, rows*h)
	for b, seq := range tokens {
		if len(seq) != seqLen {
			return nil, fmt.Errorf("nn: ragged batch: sequence %d has length %d, want %d", b, len(seq), seqLen)
		}
		for t, tok := range seq {
			if tok < 0 || tok >= d.Config.VocabSize {
				return nil, fmt.Errorf("nn: token id %d out of vocab range [0,%d)", tok, d.Config.VocabSize)
			}
			state.padMask[b*seqLen+t] = tok != padID
			base := (b*seqLen + t) * h
			tokBase := tok * h
			posBase := t * h
			for j := 0; j < h; j++ {
				x[base+j] = d.embedTokens.Data[tokBase+j] + d.embedPositions.Data[posBase+j]
			}
		}
	}
	state.embedded = x

	state.layers = make([]layerState, len(d.layers))
	for i := range d.layers {
		l := &d.layers[i]
		ls := &state.layers[i]
		ls.x = x

		ls.normOut1, ls.means1, ls.invStds1 = layerNormForward(x, rows, h, l.attnNormW, l.attnNormB, d.Config.LayerNormEps)

		ls.q = linearForward(ls.normOut1, rows, h, l.qProjW, l.qProjB, h)
		ls.k = linearForward(ls.normOut1, rows, h, l.kProjW, l.kProjB, h)
		ls.v = linearForward(ls.normOut1, rows, h, l.vProjW, l.vProjB, h)

		ls.ctx, ls.probs = causalAttentionForward(ls.q, ls.k, ls.v, batch, seqLen, h, d.Config.NumHeads, state.padMask)
		attnOut := linearForward(ls.ctx, rows, h, l.outProjW, l.outProjB, h)

		ls.res1 = make([]float32, len(x))
		for j := range x {
			ls.res1[j] = x[j] + attnOut[j]
		}

		ls.normOut2, ls.means2, ls.invStds2 = layerNormForward(ls.res1, rows, h, l.ffnNormW, l.ffnNormB, d.Config.LayerNormEps)

		ls.fc1Pre = linearForward(ls.normOut2, rows, h, l.fc1W, l.fc1B, d.Config.FFNSize)
		ls.fc1Act = make([]float32, len(ls.fc1Pre))
		for j, v := range ls.fc1Pre {
			if v > 0 {
				ls.fc1Act[j] = v
			}
		}
		fc2Out := linearForward(ls.fc1Act, rows, d.Config.FFNSize, l.fc2W, l.fc2B, h)

		next := make([]float32, len(x))
		for j := range next {
			next[j] = ls.res1[j] + fc2Out[j]
		}
		x = next
	}

	state.finalX = x
	state.finalNormOut, state.finalMeans, state.finalInvStds = layerNormForward(x, rows, h, d.finalNormW, d.finalNormB, d.Config.LayerNormEps)

	// Unembedding tied to the token embedding: logits = normOut · Eᵀ.
	vocab := d.Config.VocabSize
	state.Logits = make([]float32, rows*vocab)
	gemm(noTrans, trans, rows, h, state.finalNormOut, vocab, h, d.embedTokens.Data, 0, state.Logits, rows, vocab)

	return state, nil
}
