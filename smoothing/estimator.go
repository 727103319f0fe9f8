package smoothing

import (
	"context"
	"math/rand"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"smoothcert/tensor"
	"smoothcert/utils"
)

// Classifier scores a batch of ablated images. Implementations must be safe
// for concurrent Forward calls on disjoint inputs: the vote loop classifies
// several ablation positions in parallel.
type Classifier interface {
	// Forward maps an ablated (N, C+1, H', W') batch to (N, classes) logits.
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// TrainableClassifier additionally supports a single optimization step and
// is required by Fit.
type TrainableClassifier interface {
	Classifier
	// TrainStep runs forward/backward/update on one batch and returns the
	// mean loss.
	TrainStep(x *tensor.Tensor, labels []int) (float64, error)
}

// EstimatorOptions tunes the driver. Zero values select defaults.
type EstimatorOptions struct {
	// Workers bounds the number of ablation positions classified
	// concurrently. Defaults to GOMAXPROCS.
	Workers int
	// Seed drives batch shuffling and ablation-position sampling during Fit.
	Seed int64
	// Logger receives progress events; nil disables logging.
	Logger *zap.Logger
}

// Estimator drives derandomized smoothing end to end: training over random
// ablation positions, vote accumulation over every position, and batch
// certification.
type Estimator struct {
	ablator *ColumnAblator
	clf     Classifier
	workers int
	rng     *rand.Rand
	logger  *zap.Logger
}

// NewEstimator wires an ablator and a classifier together.
func NewEstimator(ablator *ColumnAblator, clf Classifier, opts EstimatorOptions) (*Estimator, error) {
	if ablator == nil {
		return nil, configErrorf("estimator requires an ablator")
	}
	if clf == nil {
		return nil, configErrorf("estimator requires a classifier")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{
		ablator: ablator,
		clf:     clf,
		workers: workers,
		rng:     rand.New(rand.NewSource(opts.Seed)),
		logger:  logger,
	}, nil
}

// FitConfig holds the knobs for a training run.
type FitConfig struct {
	Epochs    int
	BatchSize int
	// Stats, when non-nil, accumulates per-phase timings.
	Stats *utils.TimingStats
}

// Fit trains the wrapped classifier: every mini-batch is ablated at a fresh
// uniform random column position before the training step, so the model
// learns to classify from any retained band. Requires the classifier to be
// a TrainableClassifier.
func (e *Estimator) Fit(ctx context.Context, x *tensor.Tensor, labels []int, cfg FitConfig) error {
	trainable, ok := e.clf.(TrainableClassifier)
	if !ok {
		return configErrorf("classifier %T is not trainable", e.clf)
	}
	if cfg.Epochs <= 0 {
		return domainErrorf("epochs %d, must be positive", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return domainErrorf("batch size %d, must be positive", cfg.BatchSize)
	}
	if len(x.Shape) == 0 || x.Shape[0] != len(labels) {
		return shapeErrorf("%d label(s) for batch shape %v", len(labels), x.Shape)
	}

	n := x.Shape[0]
	width := e.ablator.Config().OriginalShape.Width
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		perm := e.rng.Perm(n)
		epochLoss := 0.0
		batches := 0
		for start := 0; start < n; start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := start + cfg.BatchSize
			if end > n {
				end = n
			}
			idx := perm[start:end]

			dataStart := time.Now()
			batch, err := x.Gather(idx)
			if err != nil {
				return err
			}
			batchLabels := make([]int, len(idx))
			for i, j := range idx {
				batchLabels[i] = labels[j]
			}
			if cfg.Stats != nil {
				cfg.Stats.DataLoadingTime += time.Since(dataStart)
			}

			ablStart := time.Now()
			ablated, err := e.ablator.Forward(batch, e.rng.Intn(width))
			if err != nil {
				return err
			}
			if cfg.Stats != nil {
				cfg.Stats.AblationTime += time.Since(ablStart)
			}

			stepStart := time.Now()
			loss, err := trainable.TrainStep(ablated, batchLabels)
			if err != nil {
				return err
			}
			if cfg.Stats != nil {
				cfg.Stats.TrainStepTime += time.Since(stepStart)
			}
			epochLoss += loss
			batches++
		}
		e.logger.Info("epoch complete",
			zap.Int("epoch", epoch+1),
			zap.Int("epochs", cfg.Epochs),
			zap.Float64("loss", epochLoss/float64(batches)))
	}
	return nil
}

// PredCounts classifies x at every ablation position and tallies, per
// sample, how many positions voted for each class. Rows sum to the image
// width. Positions are classified concurrently; the tally is order-free.
func (e *Estimator) PredCounts(ctx context.Context, x *tensor.Tensor, classes int) ([][]int, error) {
	if classes <= 0 {
		return nil, domainErrorf("classes %d, must be positive", classes)
	}
	if len(x.Shape) != 4 {
		return nil, shapeErrorf("expected 4-D batch, got shape %v", x.Shape)
	}
	n := x.Shape[0]
	width := e.ablator.Config().OriginalShape.Width

	preds := make([][]int, width)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for pos := 0; pos < width; pos++ {
		pos := pos
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ablated, err := e.ablator.Forward(x, pos)
			if err != nil {
				return err
			}
			logits, err := e.clf.Forward(ablated)
			if err != nil {
				return err
			}
			if len(logits.Shape) != 2 || logits.Shape[0] != n || logits.Shape[1] != classes {
				return shapeErrorf("classifier returned shape %v, want [%d %d]", logits.Shape, n, classes)
			}
			rowPreds := make([]int, n)
			for i := 0; i < n; i++ {
				rowPreds[i] = argmaxFloat(logits.Data[i*classes : (i+1)*classes])
			}
			preds[pos] = rowPreds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := make([][]int, n)
	for i := range counts {
		counts[i] = make([]int, classes)
	}
	for _, rowPreds := range preds {
		for i, cls := range rowPreds {
			counts[i][cls]++
		}
	}
	return counts, nil
}

// BatchCertificate is the result of certifying one batch.
type BatchCertificate struct {
	Certified           []bool
	CertifiedAndCorrect []bool
	TopClass            []int
}

// CertifiedAccuracy is the fraction of samples that are certified and
// correctly classified.
func (b *BatchCertificate) CertifiedAccuracy() float64 {
	if len(b.CertifiedAndCorrect) == 0 {
		return 0
	}
	hits := 0
	for _, ok := range b.CertifiedAndCorrect {
		if ok {
			hits++
		}
	}
	return float64(hits) / float64(len(b.CertifiedAndCorrect))
}

// Accuracy is the fraction of samples whose top voted class equals the label.
func (b *BatchCertificate) Accuracy(labels []int) float64 {
	if len(b.TopClass) == 0 {
		return 0
	}
	hits := 0
	for i, cls := range b.TopClass {
		if cls == labels[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(b.TopClass))
}

// CertifyBatch accumulates vote counts for x and applies the certification
// rule against labels for a corruption of sizeToCertify columns.
func (e *Estimator) CertifyBatch(ctx context.Context, x *tensor.Tensor, labels []int, classes, sizeToCertify int) (*BatchCertificate, error) {
	voteStart := time.Now()
	counts, err := e.PredCounts(ctx, x, classes)
	if err != nil {
		return nil, err
	}
	cert, certAndCorrect, top, err := e.ablator.Certify(counts, sizeToCertify, labels)
	if err != nil {
		return nil, err
	}
	result := &BatchCertificate{
		Certified:           cert,
		CertifiedAndCorrect: certAndCorrect,
		TopClass:            top,
	}
	e.logger.Info("batch certified",
		zap.Int("samples", len(cert)),
		zap.Int("size_to_certify", sizeToCertify),
		zap.Float64("certified_accuracy", result.CertifiedAccuracy()),
		zap.Duration("elapsed", time.Since(voteStart)))
	return result, nil
}

// argmaxFloat is a stable argmax: the lowest index wins ties.
func argmaxFloat(row []float64) int {
	best := 0
	for j, v := range row {
		if v > row[best] {
			best = j
		}
	}
	return best
}
