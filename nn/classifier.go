package nn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"smoothcert/tensor"
	"smoothcert/utils"
)

// MLP is a small feed-forward classifier head: flatten -> hidden (sigmoid)
// -> logits. It consumes ablated batches and is safe for concurrent Forward
// calls; TrainStep mutates the weights and must not race with Forward.
type MLP struct {
	w1, w2 *mat.Dense // (hidden, in), (classes, hidden)
	b1, b2 []float64
	lr     float64

	inDim, hidden, classes int
}

// NewMLP builds an MLP with Uniform(-1/sqrt(in), 1/sqrt(in)) weight
// initialization drawn from the seeded source.
func NewMLP(inDim, hidden, classes int, lr float64, seed int64) (*MLP, error) {
	if inDim <= 0 || hidden <= 0 || classes <= 0 {
		return nil, fmt.Errorf("nn: dims must be positive, got in=%d hidden=%d classes=%d", inDim, hidden, classes)
	}
	if lr <= 0 {
		return nil, fmt.Errorf("nn: learning rate must be positive, got %f", lr)
	}
	src := rand.NewSource(uint64(seed))
	return &MLP{
		w1:      mat.NewDense(hidden, inDim, randomArray(hidden*inDim, float64(inDim), src)),
		w2:      mat.NewDense(classes, hidden, randomArray(classes*hidden, float64(hidden), src)),
		b1:      make([]float64, hidden),
		b2:      make([]float64, classes),
		lr:      lr,
		inDim:   inDim,
		hidden:  hidden,
		classes: classes,
	}, nil
}

// Forward flattens each sample of x and returns (N, classes) logits.
func (m *MLP) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	_, _, logits, err := m.forward(x)
	if err != nil {
		return nil, err
	}
	n, _ := logits.Dims()
	out := tensor.New(n, m.classes)
	copy(out.Data, logits.RawMatrix().Data)
	return out, nil
}

// TrainStep runs one SGD step of softmax cross-entropy on the batch and
// returns the mean loss.
func (m *MLP) TrainStep(x *tensor.Tensor, labels []int) (float64, error) {
	xm, hidden, logits, err := m.forward(x)
	if err != nil {
		return 0, err
	}
	n, _ := logits.Dims()
	if len(labels) != n {
		return 0, fmt.Errorf("nn: %d label(s) for %d sample(s)", len(labels), n)
	}
	for _, l := range labels {
		if l < 0 || l >= m.classes {
			return 0, fmt.Errorf("nn: label %d outside [0, %d)", l, m.classes)
		}
	}

	// dLogits = (softmax - onehot) / n
	probs := softmaxRows(logits)
	loss := 0.0
	dLogits := mat.NewDense(n, m.classes, nil)
	for i := 0; i < n; i++ {
		loss += -math.Log(math.Max(probs.At(i, labels[i]), 1e-12))
		for j := 0; j < m.classes; j++ {
			g := probs.At(i, j)
			if j == labels[i] {
				g -= 1
			}
			dLogits.Set(i, j, g/float64(n))
		}
	}
	loss /= float64(n)

	// Output layer gradients.
	var gradW2 mat.Dense
	gradW2.Mul(dLogits.T(), hidden)
	gradB2 := columnSums(dLogits)

	// Hidden layer gradients through the sigmoid.
	var dHidden mat.Dense
	dHidden.Mul(dLogits, m.w2)
	dHidden.Apply(func(i, j int, v float64) float64 {
		a := hidden.At(i, j)
		return v * a * (1 - a)
	}, &dHidden)
	var gradW1 mat.Dense
	gradW1.Mul(dHidden.T(), xm)
	gradB1 := columnSums(&dHidden)

	applyUpdate(m.w2, &gradW2, m.lr)
	applyUpdate(m.w1, &gradW1, m.lr)
	for j := range m.b2 {
		m.b2[j] -= m.lr * gradB2[j]
	}
	for j := range m.b1 {
		m.b1[j] -= m.lr * gradB1[j]
	}
	return loss, nil
}

// forward returns the flattened input, the hidden activations, and the
// logits, all as dense matrices.
func (m *MLP) forward(x *tensor.Tensor) (xm, hidden, logits *mat.Dense, err error) {
	if len(x.Shape) == 0 {
		return nil, nil, nil, fmt.Errorf("nn: empty input")
	}
	n := x.Shape[0]
	if n == 0 {
		return nil, nil, nil, fmt.Errorf("nn: empty batch")
	}
	if len(x.Data)%n != 0 || len(x.Data)/n != m.inDim {
		return nil, nil, nil, fmt.Errorf("nn: sample size %d does not match input dim %d", len(x.Data)/n, m.inDim)
	}
	xm = mat.NewDense(n, m.inDim, append([]float64(nil), x.Data...))

	hidden = mat.NewDense(n, m.hidden, nil)
	hidden.Mul(xm, m.w1.T())
	hidden.Apply(func(i, j int, v float64) float64 {
		return sigmoid(v + m.b1[j])
	}, hidden)

	logits = mat.NewDense(n, m.classes, nil)
	logits.Mul(hidden, m.w2.T())
	logits.Apply(func(i, j int, v float64) float64 {
		return v + m.b2[j]
	}, logits)
	return xm, hidden, logits, nil
}

// ExportWeights serializes both layers.
func (m *MLP) ExportWeights() *utils.ModelWeights {
	return &utils.ModelWeights{
		Version: "1.0",
		Layers: map[string]utils.LayerWeight{
			"hidden": {
				Weight: denseToWeightData("hidden_weight", m.w1),
				Bias:   &utils.WeightData{Name: "hidden_bias", Shape: []int{m.hidden}, Data: append([]float64(nil), m.b1...)},
			},
			"output": {
				Weight: denseToWeightData("output_weight", m.w2),
				Bias:   &utils.WeightData{Name: "output_bias", Shape: []int{m.classes}, Data: append([]float64(nil), m.b2...)},
			},
		},
	}
}

// ImportWeights replaces both layers from serialized form.
func (m *MLP) ImportWeights(w *utils.ModelWeights) error {
	hiddenLayer, ok := w.Layers["hidden"]
	if !ok || hiddenLayer.Weight == nil || hiddenLayer.Bias == nil {
		return fmt.Errorf("nn: weights missing hidden layer")
	}
	outputLayer, ok := w.Layers["output"]
	if !ok || outputLayer.Weight == nil || outputLayer.Bias == nil {
		return fmt.Errorf("nn: weights missing output layer")
	}
	w1, err := weightDataToDense(hiddenLayer.Weight, m.hidden, m.inDim)
	if err != nil {
		return err
	}
	w2, err := weightDataToDense(outputLayer.Weight, m.classes, m.hidden)
	if err != nil {
		return err
	}
	if len(hiddenLayer.Bias.Data) != m.hidden || len(outputLayer.Bias.Data) != m.classes {
		return fmt.Errorf("nn: bias sizes %d/%d do not match model %d/%d",
			len(hiddenLayer.Bias.Data), len(outputLayer.Bias.Data), m.hidden, m.classes)
	}
	m.w1, m.w2 = w1, w2
	m.b1 = append([]float64(nil), hiddenLayer.Bias.Data...)
	m.b2 = append([]float64(nil), outputLayer.Bias.Data...)
	return nil
}

func denseToWeightData(name string, d *mat.Dense) *utils.WeightData {
	r, c := d.Dims()
	return &utils.WeightData{
		Name:  name,
		Shape: []int{r, c},
		Data:  append([]float64(nil), d.RawMatrix().Data...),
	}
}

func weightDataToDense(wd *utils.WeightData, rows, cols int) (*mat.Dense, error) {
	if len(wd.Shape) != 2 || wd.Shape[0] != rows || wd.Shape[1] != cols {
		return nil, fmt.Errorf("nn: weight %q has shape %v, want [%d %d]", wd.Name, wd.Shape, rows, cols)
	}
	if len(wd.Data) != rows*cols {
		return nil, fmt.Errorf("nn: weight %q has %d values, want %d", wd.Name, len(wd.Data), rows*cols)
	}
	return mat.NewDense(rows, cols, append([]float64(nil), wd.Data...)), nil
}

func randomArray(size int, v float64, src rand.Source) []float64 {
	dist := distuv.Uniform{
		Min: -1 / math.Sqrt(v),
		Max: 1 / math.Sqrt(v),
		Src: src,
	}

	data := make([]float64, size)
	for i := 0; i < size; i++ {
		data[i] = dist.Rand()
	}
	return data
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func columnSums(m *mat.Dense) []float64 {
	r, c := m.Dims()
	sums := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			sums[j] += m.At(i, j)
		}
	}
	return sums
}

func applyUpdate(w, grad *mat.Dense, lr float64) {
	var scaled mat.Dense
	scaled.Scale(lr, grad)
	w.Sub(w, &scaled)
}
