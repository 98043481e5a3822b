package nn

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

const (
	noTrans = blas.NoTrans
	trans   = blas.Trans
)

// gemm wraps blas32.Gemm over flat row-major slices.
// Dimensions are those of the stored matrices, before any transpose.
func gemm(tA, tB blas.Transpose, m, k int, a []float32, n, l int, b []float32, beta float32, c []float32, cRows, cCols int) {
	ga := blas32.General{Rows: m, Cols: k, Stride: k, Data: a}
	gb := blas32.General{Rows: n, Cols: l, Stride: l, Data: b}
	gc := blas32.General{Rows: cRows, Cols: cCols, Stride: cCols, Data: c}
	blas32.Gemm(tA, tB, 1, ga, gb, beta, gc)
}

// linearForward computes y = x·Wᵀ + b for a weight stored [out, in].
// x is rows×in, y is rows×out. Matches the layout pruned checkpoints use.
func linearForward(x []float32, rows, in int, w *Param, b *Param, out int) []float32 {
	y := make([]float32, rows*out)
	gemm(blas.NoTrans, blas.Trans, rows, in, x, out, in, w.Data, 0, y, rows, out)
	if b != nil {
		for r := 0; r < rows; r++ {
			base := r * out
			for o := 0; o < out; o++ {
				y[base+o] += b.Data[o]
			}
		}
	}
	return y
}

// linearBackward accumulates dW and db into the parameter gradients and
// returns dx. gradOut is rows×out, x is the forward input rows×in.
func linearBackward(gradOut, x []float32, rows, in, out int, w, b *Param) []float32 {
	// dW += gradOutᵀ · x  -> [out, in]
	gemm(blas.Trans, blas.NoTrans, rows, out, gradOut, rows, in, x, 1, w.Grad, out, in)

	if b != nil {
		for r := 0; r < rows; r++ {
			base := r * out
			for o := 0; o < out; o++ {
				b.Grad[o] += gradOut[base+o]
			}
		}
	}

	// dx = gradOut · W  -> [rows, in]
	dx := make([]float32, rows*in)
	gemm(blas.NoTrans, blas.NoTrans, rows, out, gradOut, out, in, w.Data, 0, dx, rows, in)
	return dx
}
