package nn

// Backward backpropagates dLogits (Batch*SeqLen*Vocab) through the decoder,
// accumulating into every parameter's Grad. When all gradients are in place
// it runs each parameter's gradient hooks exactly once; ordering across
// parameters is an implementation detail callers must not rely on.
//
// Grads accumulate across calls; pair with ZeroGrads after each optimizer
// step (or keep accumulating for micro-batches).
func (d *Decoder) Backward(state *ForwardState, dLogits []float32) {
	batch, seqLen := state.Batch, state.SeqLen
	h := d.Config.HiddenSize
	vocab := d.Config.VocabSize
	rows := batch * seqLen

	// Unembedding (tied weights): dE += dLogitsᵀ · normOut, dNorm = dLogits · E.
	gemm(trans, noTrans, rows, vocab, dLogits, rows, h, state.finalNormOut, 1, d.embedTokens.Grad, vocab, h)
	dNorm := make([]float32, rows*h)
	gemm(noTrans, noTrans, rows, vocab, dLogits, vocab, h, d.embedTokens.Data, 0, dNorm, rows, h)

	grad := layerNormBackward(dNorm, state.finalX, rows, h, d.finalNormW, d.finalNormB, state.finalMeans, state.finalInvStds)

	for i := len(d.layers) - 1; i >= 0; i-- {
		l := &d.layers[i]
		ls := &state.layers[i]

		// FFN branch: out = res1 + fc2(relu(fc1(norm2(res1))))
		dFc1Act := linearBackward(grad, ls.fc1Act, rows, d.Config.FFNSize, h, l.fc2W, l.fc2B)
		for j, pre := range ls.fc1Pre {
			if pre <= 0 {
				dFc1Act[j] = 0
			}
		}
		dNorm2 := linearBackward(dFc1Act, ls.normOut2, rows, h, d.Config.FFNSize, l.fc1W, l.fc1B)
		dRes1 := layerNormBackward(dNorm2, ls.res1, rows, h, l.ffnNormW, l.ffnNormB, ls.means2, ls.invStds2)
		for j := range dRes1 {
			dRes1[j] += grad[j] // residual path around the FFN
		}

		// Attention branch: res1 = x + out_proj(attn(q,k,v))
		dCtx := linearBackward(dRes1, ls.ctx, rows, h, h, l.outProjW, l.outProjB)
		dq, dk, dv := causalAttentionBackward(dCtx, ls.q, ls.k, ls.v, ls.probs, batch, seqLen, h, d.Config.NumHeads)

		dNorm1 := linearBackward(dq, ls.normOut1, rows, h, h, l.qProjW, l.qProjB)
		dnk := linearBackward(dk, ls.normOut1, rows, h, h, l.kProjW, l.kProjB)
		dnv := linearBackward(dv, ls.normOut1, rows, h, h, l.vProjW, l.vProjB)
		for j := range dNorm1 {
			dNorm1[j] += dnk[j] + dnv[j]
		}

		dx := layerNormBackward(dNorm1, ls.x, rows, h, l.attnNormW, l.attnNormB, ls.means1, ls.invStds1)
		for j := range dx {
			dx[j] += dRes1[j] // residual path around attention
		}
		grad = dx
	}

	// Embedding backward.
	for b, seq := range state.Tokens {
		for t, tok := range seq {
			base := (b*seqLen + t) * h
			tokBase := tok * h
			posBase := t * h
			for j := 0; j < h; j++ {
				g := grad[base+j]
				d.embedTokens.Grad[tokBase+j] += g
				d.embedPositions.Grad[posBase+j] += g
			}
		}
	}

	for _, p := range d.params {
		p.runGradHooks()
	}
}
