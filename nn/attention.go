package nn

import "math"

// causalAttentionForward runs scaled dot-product attention per head with a
// causal mask, additionally excluding padding key positions. q, k, v are
// B*T*H; padMask is B*T (true = real token). Returns the context vectors
// (B*T*H) and the attention probabilities (B*heads*T*T) for backward.
func causalAttentionForward(q, k, v []float32, batch, seqLen, hidden, numHeads int, padMask []bool) (ctx, probs []float32) {
	headDim := hidden / numHeads
	scale := 1.0 / math.Sqrt(float64(headDim))

	ctx = make([]float32, batch*seqLen*hidden)
	probs = make([]float32, batch*numHeads*seqLen*seqLen)

	scores := make([]float64, seqLen)
	for b := 0; b < batch; b++ {
		for h := 0; h < numHeads; h++ {
			hOff := h * headDim
			for t := 0; t < seqLen; t++ {
				qBase := (b*seqLen+t)*hidden + hOff

				// Scores over visible keys (causal + padding).
				maxScore := math.Inf(-1)
				for s := 0; s <= t; s++ {
					if !padMask[b*seqLen+s] {
						scores[s] = math.Inf(-1)
						continue
					}
					kBase := (b*seqLen+s)*hidden + hOff
					var dot float64
					for j := 0; j < headDim; j++ {
						dot += float64(q[qBase+j]) * float64(k[kBase+j])
					}
					scores[s] = dot * scale
					if scores[s] > maxScore {
						maxScore = scores[s]
					}
				}

				pBase := ((b*numHeads+h)*seqLen + t) * seqLen
				if math.IsInf(maxScore, -1) {
					// Every visible key is padding; the row stays zero.
					continue
				}

				var sum float64
				for s := 0; s <= t; s++ {
					if math.IsInf(scores[s], -1) {
						continue
					}
					e := math.Exp(scores[s] - maxScore)
					probs[pBase+s] = float32(e)
					sum += e
				}
				inv := 1.0 / sum
				cBase := (b*seqLen+t)*hidden + hOff
				for s := 0; s <= t; s++ {
					p := float64(probs[pBase+s]) * inv
					probs[pBase+s] = float32(p)
					if p == 0 {
						continue
					}
					vBase := (b*seqLen+s)*hidden + hOff
					for j := 0; j < headDim; j++ {
						ctx[cBase+j] += float32(p * float64(v[vBase+j]))
					}
				}
			}
		}
	}
	return ctx, probs
}

// causalAttentionBackward propagates gradCtx (B*T*H) back through the
// attention weights to dq, dk, dv using the cached probabilities.
func causalAttentionBackward(gradCtx, q, k, v, probs []float32, batch, seqLen, hidden, numHeads int) (dq, dk, dv []float32) {
	headDim := hidden / numHeads
	scale := 1.0 / math.Sqrt(float64(headDim))

	dq = make([]float32, len(q))
	dk = make([]float32, len(k))
	dv = make([]float32, len(v))

	dprobs := make([]float64, seqLen)
	for b := 0; b < batch; b++ {
		for h := 0; h < numHeads; h++ {
			hOff := h * headDim
			for t := 0; t < seqLen; t++ {
				cBase := (b*seqLen+t)*hidden + hOff
				pBase := ((b*numHeads+h)*seqLen + t) * seqLen

				// dprobs[s] = gradCtx · v_s ; dv_s += p · gradCtx
				for s := 0; s <= t; s++ {
					p := float64(probs[pBase+s])
					vBase := (b*seqLen+s)*hidden + hOff
					var dot float64
					for j := 0; j < headDim; j++ {
						g := float64(gradCtx[cBase+j])
						dot += g * float64(v[vBase+j])
						dv[vBase+j] += float32(p * g)
					}
					dprobs[s] = dot
				}

				// Softmax backward: dscore = p * (dprob - Σ p·dprob)
				var inner float64
				for s := 0; s <= t; s++ {
					inner += float64(probs[pBase+s]) * dprobs[s]
				}

				qBase := (b*seqLen+t)*hidden + hOff
				for s := 0; s <= t; s++ {
					p := float64(probs[pBase+s])
					if p == 0 {
						continue
					}
					dscore := p * (dprobs[s] - inner) * scale
					kBase := (b*seqLen+s)*hidden + hOff
					for j := 0; j < headDim; j++ {
						dq[qBase+j] += float32(dscore * float64(k[kBase+j]))
						dk[kBase+j] += float32(dscore * float64(q[qBase+j]))
					}
				}
			}
		}
	}
	return dq, dk, dv
}
