package nn

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smoothcert/tensor"
	"smoothcert/utils"
)

func xorBatch() (*tensor.Tensor, []int) {
	// Two well separated clusters, constant sign per class.
	x := tensor.New(8, 4)
	labels := make([]int, 8)
	for i := 0; i < 8; i++ {
		val := 1.0
		if i%2 == 1 {
			val = -1.0
			labels[i] = 1
		}
		for j := 0; j < 4; j++ {
			x.Data[i*4+j] = val
		}
	}
	return x, labels
}

func TestMLPForwardShape(t *testing.T) {
	m, err := NewMLP(4, 8, 3, 0.1, 42)
	require.NoError(t, err)

	x := tensor.New(5, 4)
	logits, err := m.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 3}, logits.Shape)

	// 4-D inputs flatten per sample
	x4 := tensor.New(5, 1, 2, 2)
	logits, err = m.Forward(x4)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 3}, logits.Shape)
}

func TestMLPDeterministicInit(t *testing.T) {
	a, err := NewMLP(4, 8, 2, 0.1, 7)
	require.NoError(t, err)
	b, err := NewMLP(4, 8, 2, 0.1, 7)
	require.NoError(t, err)

	x, _ := xorBatch()
	la, err := a.Forward(x)
	require.NoError(t, err)
	lb, err := b.Forward(x)
	require.NoError(t, err)
	assert.True(t, la.Equal(lb), "same seed must give identical logits")
}

func TestMLPTrainStepReducesLoss(t *testing.T) {
	m, err := NewMLP(4, 8, 2, 0.1, 42)
	require.NoError(t, err)

	x, labels := xorBatch()
	first, err := m.TrainStep(x, labels)
	require.NoError(t, err)
	var last float64
	for i := 0; i < 50; i++ {
		last, err = m.TrainStep(x, labels)
		require.NoError(t, err)
	}
	assert.Less(t, last, first, "loss should fall on a separable batch")
}

func TestMLPRejectsBadInputs(t *testing.T) {
	m, err := NewMLP(4, 8, 2, 0.1, 42)
	require.NoError(t, err)

	_, err = m.Forward(tensor.New(5, 3))
	assert.Error(t, err)

	x, _ := xorBatch()
	_, err = m.TrainStep(x, []int{0})
	assert.Error(t, err)
	_, err = m.TrainStep(x, []int{0, 1, 0, 1, 0, 1, 0, 5})
	assert.Error(t, err)

	_, err = NewMLP(0, 8, 2, 0.1, 42)
	assert.Error(t, err)
	_, err = NewMLP(4, 8, 2, 0, 42)
	assert.Error(t, err)
}

func TestMLPWeightsRoundTrip(t *testing.T) {
	m, err := NewMLP(4, 8, 2, 0.1, 42)
	require.NoError(t, err)
	x, labels := xorBatch()
	for i := 0; i < 10; i++ {
		_, err = m.TrainStep(x, labels)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "weights.json")
	require.NoError(t, utils.SaveWeights(path, m.ExportWeights()))
	loaded, err := utils.LoadWeights(path)
	require.NoError(t, err)

	restored, err := NewMLP(4, 8, 2, 0.1, 0)
	require.NoError(t, err)
	require.NoError(t, restored.ImportWeights(loaded))

	want, err := m.Forward(x)
	require.NoError(t, err)
	got, err := restored.Forward(x)
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "restored model must reproduce logits")
}

func TestImportWeightsRejectsMismatch(t *testing.T) {
	m, err := NewMLP(4, 8, 2, 0.1, 42)
	require.NoError(t, err)
	other, err := NewMLP(6, 8, 2, 0.1, 42)
	require.NoError(t, err)

	err = m.ImportWeights(other.ExportWeights())
	assert.Error(t, err)
	err = m.ImportWeights(&utils.ModelWeights{Layers: map[string]utils.LayerWeight{}})
	assert.Error(t, err)
}

func TestSoftmax(t *testing.T) {
	probs := Softmax(tensor.NewWithData([]float64{1, 2, 3}))
	sum := 0.0
	for _, p := range probs.Data {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Greater(t, probs.Data[2], probs.Data[1])
	assert.Greater(t, probs.Data[1], probs.Data[0])
}

func TestArgmaxStable(t *testing.T) {
	assert.Equal(t, 1, Argmax([]float64{0, 5, 5, 3}))
	assert.Equal(t, 0, Argmax([]float64{2, 2, 2}))
}
