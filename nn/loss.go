package nn

import "math"

// CausalLMLoss computes the mean next-token cross-entropy over a batch and
// the gradient with respect to the logits. Labels are the input ids shifted
// left by one, so logits at position t are scored against token t+1.
// Padding targets are ignored.
//
// Returns the scalar loss and dLogits with the same length as logits. When
// no position contributes (all padding), the loss is 0 and the gradient is
// all zeros.
func CausalLMLoss(logits []float32, tokens [][]int, padID, vocab int) (float64, []float32) {
	batch := len(tokens)
	seqLen := len(tokens[0])

	dLogits := make([]float32, len(logits))
	probs := make([]float64, vocab)

	var total float64
	count := 0
	for b := 0; b < batch; b++ {
		for t := 0; t < seqLen-1; t++ {
			target := tokens[b][t+1]
			if target == padID || tokens[b][t] == padID {
				continue
			}
			base := (b*seqLen + t) * vocab

			maxLogit := float64(logits[base])
			for v := 1; v < vocab; v++ {
				if l := float64(logits[base+v]); l > maxLogit {
					maxLogit = l
				}
			}
			var sum float64
			for v := 0; v < vocab; v++ {
				probs[v] = math.Exp(float64(logits[base+v]) - maxLogit)
				sum += probs[v]
			}
			for v := 0; v < vocab; v++ {
				probs[v] /= sum
			}

			total += -math.Log(math.Max(probs[target], 1e-12))
			count++

			for v := 0; v < vocab; v++ {
				dLogits[base+v] = float32(probs[v])
			}
			dLogits[base+target] -= 1
		}
	}

	if count == 0 {
		return 0, dLogits
	}

	inv := 1.0 / float64(count)
	for i := range dLogits {
		dLogits[i] *= float32(inv)
	}
	return total * inv, dLogits
}
