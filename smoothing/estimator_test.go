package smoothing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smoothcert/nn"
	"smoothcert/smoothing"
	"smoothcert/tensor"
)

// bandClassifier votes for the class matching the leftmost retained column,
// read back from the mask channel. It makes the vote table a pure function
// of the ablation geometry.
type bandClassifier struct {
	classes int
}

func (c bandClassifier) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	n, ch, w := x.Shape[0], x.Shape[1], x.Shape[3]
	out := tensor.New(n, c.classes)
	for b := 0; b < n; b++ {
		cls := 0
		for col := 0; col < w; col++ {
			if x.At(b, ch-1, 0, col) > 0 {
				cls = col % c.classes
				break
			}
		}
		out.Set(1, b, cls)
	}
	return out, nil
}

func smallAblator(t *testing.T) *smoothing.ColumnAblator {
	t.Helper()
	ablator, err := smoothing.NewColumnAblator(smoothing.Config{
		AblationSize:  2,
		ChannelsFirst: true,
		Mode:          smoothing.ModeCNN,
		OriginalShape: smoothing.ImageShape{Channels: 1, Height: 8, Width: 8},
	})
	require.NoError(t, err)
	return ablator
}

func onesBatch(n, c, h, w int) *tensor.Tensor {
	x := tensor.New(n, c, h, w)
	for i := range x.Data {
		x.Data[i] = 1
	}
	return x
}

func TestPredCounts(t *testing.T) {
	ablator := smallAblator(t)
	est, err := smoothing.NewEstimator(ablator, bandClassifier{classes: 8}, smoothing.EstimatorOptions{Workers: 4})
	require.NoError(t, err)

	counts, err := est.PredCounts(context.Background(), onesBatch(3, 1, 8, 8), 8)
	require.NoError(t, err)
	require.Len(t, counts, 3)

	// Positions 0..6 put the leftmost retained column at the position
	// itself; position 7 wraps and its leftmost retained column is 0.
	want := []int{2, 1, 1, 1, 1, 1, 1, 0}
	for i, row := range counts {
		assert.Equal(t, want, row, "sample %d", i)
		total := 0
		for _, v := range row {
			total += v
		}
		assert.Equal(t, 8, total, "votes must sum to the image width")
	}
}

func TestCertifyBatchMatchesCertify(t *testing.T) {
	ablator := smallAblator(t)
	est, err := smoothing.NewEstimator(ablator, bandClassifier{classes: 8}, smoothing.EstimatorOptions{})
	require.NoError(t, err)

	x := onesBatch(2, 1, 8, 8)
	labels := []int{0, 3}

	result, err := est.CertifyBatch(context.Background(), x, labels, 8, 1)
	require.NoError(t, err)

	counts, err := est.PredCounts(context.Background(), x, 8)
	require.NoError(t, err)
	cert, certAndCorrect, top, err := ablator.Certify(counts, 1, labels)
	require.NoError(t, err)

	assert.Equal(t, cert, result.Certified)
	assert.Equal(t, certAndCorrect, result.CertifiedAndCorrect)
	assert.Equal(t, top, result.TopClass)
	assert.Equal(t, 0.0, result.CertifiedAccuracy())
	assert.Equal(t, 0.5, result.Accuracy(labels))
}

func TestPredCountsHonorsContext(t *testing.T) {
	ablator := smallAblator(t)
	est, err := smoothing.NewEstimator(ablator, bandClassifier{classes: 8}, smoothing.EstimatorOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = est.PredCounts(ctx, onesBatch(1, 1, 8, 8), 8)
	assert.Error(t, err)
}

func TestFitTrainsClassifier(t *testing.T) {
	ablator := smallAblator(t)

	// Two classes with opposite sign in every column, so any retained band
	// carries the label.
	n := 16
	x := tensor.New(n, 1, 8, 8)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		val := 1.0
		if i%2 == 1 {
			val = -1.0
			labels[i] = 1
		}
		for j := 0; j < 8*8; j++ {
			x.Data[i*8*8+j] = val
		}
	}

	clf, err := nn.NewMLP(2*8*8, 16, 2, 0.5, 1)
	require.NoError(t, err)
	est, err := smoothing.NewEstimator(ablator, clf, smoothing.EstimatorOptions{Seed: 1})
	require.NoError(t, err)

	err = est.Fit(context.Background(), x, labels, smoothing.FitConfig{Epochs: 5, BatchSize: 4})
	require.NoError(t, err)

	counts, err := est.PredCounts(context.Background(), x, 2)
	require.NoError(t, err)
	for i, row := range counts {
		assert.Equal(t, 8, row[0]+row[1], "sample %d", i)
	}
}

func TestFitRequiresTrainableClassifier(t *testing.T) {
	ablator := smallAblator(t)
	est, err := smoothing.NewEstimator(ablator, bandClassifier{classes: 8}, smoothing.EstimatorOptions{})
	require.NoError(t, err)

	err = est.Fit(context.Background(), onesBatch(2, 1, 8, 8), []int{0, 1}, smoothing.FitConfig{Epochs: 1, BatchSize: 2})
	require.Error(t, err)
	var cfgErr *smoothing.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestNewEstimatorValidates(t *testing.T) {
	ablator := smallAblator(t)
	_, err := smoothing.NewEstimator(nil, bandClassifier{classes: 2}, smoothing.EstimatorOptions{})
	assert.Error(t, err)
	_, err = smoothing.NewEstimator(ablator, nil, smoothing.EstimatorOptions{})
	assert.Error(t, err)
}
