package nn

import "math"

// layerNormForward normalizes each row of x (rows × size) and applies the
// affine gamma/beta parameters. Means and inverse stds are returned for the
// backward pass.
func layerNormForward(x []float32, rows, size int, gamma, beta *Param, eps float64) (out []float32, means, invStds []float64) {
	out = make([]float32, len(x))
	means = make([]float64, rows)
	invStds = make([]float64, rows)

	for r := 0; r < rows; r++ {
		start := r * size

		var sum float64
		for i := start; i < start+size; i++ {
			sum += float64(x[i])
		}
		mean := sum / float64(size)

		var variance float64
		for i := start; i < start+size; i++ {
			diff := float64(x[i]) - mean
			variance += diff * diff
		}
		variance /= float64(size)
		invStd := 1.0 / math.Sqrt(variance+eps)

		means[r] = mean
		invStds[r] = invStd

		for i := start; i < start+size; i++ {
			xhat := (float64(x[i]) - mean) * invStd
			out[i] = float32(xhat*float64(gamma.Data[i-start]) + float64(beta.Data[i-start]))
		}
	}
	return out, means, invStds
}

// layerNormBackward accumulates gamma/beta gradients and returns dx.
// dL/dx_i = invStd * (dxhat_i - mean(dxhat) - xhat_i * mean(dxhat * xhat))
func layerNormBackward(gradOut, x []float32, rows, size int, gamma, beta *Param, means, invStds []float64) []float32 {
	dx := make([]float32, len(x))

	for r := 0; r < rows; r++ {
		start := r * size
		mean := means[r]
		invStd := invStds[r]

		var sumDxhat, sumDxhatXhat float64
		for i := start; i < start+size; i++ {
			local := i - start
			dy := float64(gradOut[i])
			xhat := (float64(x[i]) - mean) * invStd

			beta.Grad[local] += float32(dy)
			gamma.Grad[local] += float32(dy * xhat)

			dxhat := dy * float64(gamma.Data[local])
			sumDxhat += dxhat
			sumDxhatXhat += dxhat * xhat
		}

		meanDxhat := sumDxhat / float64(size)
		meanDxhatXhat := sumDxhatXhat / float64(size)

		for i := start; i < start+size; i++ {
			local := i - start
			xhat := (float64(x[i]) - mean) * invStd
			dxhat := float64(gradOut[i]) * float64(gamma.Data[local])
			dx[i] = float32(invStd * (dxhat - meanDxhat - xhat*meanDxhatXhat))
		}
	}
	return dx
}
