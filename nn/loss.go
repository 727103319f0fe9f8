package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"smoothcert/tensor"
)

// Softmax applies the softmax function to a tensor.
func Softmax(logits *tensor.Tensor) *tensor.Tensor {
	maxLogit := logits.Data[0]
	for _, v := range logits.Data {
		if v > maxLogit {
			maxLogit = v
		}
	}
	expSum := 0.0
	exps := make([]float64, len(logits.Data))
	for i, v := range logits.Data {
		e := math.Exp(v - maxLogit)
		exps[i] = e
		expSum += e
	}
	softmax := tensor.New(len(logits.Data))
	for i, e := range exps {
		softmax.Data[i] = e / expSum
	}
	return softmax
}

// Argmax returns the index of the largest value; the lowest index wins ties.
func Argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// softmaxRows applies a numerically stable softmax to each row of m.
func softmaxRows(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		maxLogit := m.At(i, 0)
		for j := 1; j < c; j++ {
			if v := m.At(i, j); v > maxLogit {
				maxLogit = v
			}
		}
		expSum := 0.0
		for j := 0; j < c; j++ {
			e := math.Exp(m.At(i, j) - maxLogit)
			out.Set(i, j, e)
			expSum += e
		}
		for j := 0; j < c; j++ {
			out.Set(i, j, out.At(i, j)/expSum)
		}
	}
	return out
}
