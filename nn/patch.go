package nn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"smoothcert/smoothing"
	"smoothcert/tensor"
)

// PatchClassifier is a patch-token head: the ablated image is cut into a
// grid of patches, the injected TokenSelector picks the patches overlapping
// the retained band, and a linear softmax layer classifies the mean of the
// retained patch embeddings. Patches the selector drops never reach the
// head, mirroring token dropping in a patch-token transformer.
type PatchClassifier struct {
	patchSize int
	selector  smoothing.TokenSelector

	w  *mat.Dense // (classes, featDim)
	b  []float64
	lr float64

	channels, height, width int
	classes                 int
	featDim                 int
}

// NewPatchClassifier builds a head for ablated batches of the given image
// shape (channels excluding the mask plane). A nil selector defaults to
// PatchGridSelector.
func NewPatchClassifier(shape smoothing.ImageShape, patchSize, classes int, selector smoothing.TokenSelector, lr float64, seed int64) (*PatchClassifier, error) {
	if patchSize <= 0 {
		return nil, fmt.Errorf("nn: patch size must be positive, got %d", patchSize)
	}
	if shape.Channels <= 0 || shape.Height <= 0 || shape.Width <= 0 {
		return nil, fmt.Errorf("nn: image shape %+v has non-positive dims", shape)
	}
	if shape.Height%patchSize != 0 || shape.Width%patchSize != 0 {
		return nil, fmt.Errorf("nn: image %dx%d not divisible by patch size %d", shape.Height, shape.Width, patchSize)
	}
	if classes <= 0 {
		return nil, fmt.Errorf("nn: classes must be positive, got %d", classes)
	}
	if lr <= 0 {
		return nil, fmt.Errorf("nn: learning rate must be positive, got %f", lr)
	}
	if selector == nil {
		selector = smoothing.PatchGridSelector{}
	}
	featDim := shape.Channels * patchSize * patchSize
	src := rand.NewSource(uint64(seed))
	return &PatchClassifier{
		patchSize: patchSize,
		selector:  selector,
		w:         mat.NewDense(classes, featDim, randomArray(classes*featDim, float64(featDim), src)),
		b:         make([]float64, classes),
		lr:        lr,
		channels:  shape.Channels,
		height:    shape.Height,
		width:     shape.Width,
		classes:   classes,
		featDim:   featDim,
	}, nil
}

// Forward returns (N, classes) logits for an ablated NCHW batch.
func (p *PatchClassifier) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	feats, err := p.features(x)
	if err != nil {
		return nil, err
	}
	logits := p.logits(feats)
	n, _ := logits.Dims()
	out := tensor.New(n, p.classes)
	copy(out.Data, logits.RawMatrix().Data)
	return out, nil
}

// TrainStep runs one step of softmax regression on the retained-patch
// features and returns the mean loss.
func (p *PatchClassifier) TrainStep(x *tensor.Tensor, labels []int) (float64, error) {
	feats, err := p.features(x)
	if err != nil {
		return 0, err
	}
	n, _ := feats.Dims()
	if len(labels) != n {
		return 0, fmt.Errorf("nn: %d label(s) for %d sample(s)", len(labels), n)
	}
	for _, l := range labels {
		if l < 0 || l >= p.classes {
			return 0, fmt.Errorf("nn: label %d outside [0, %d)", l, p.classes)
		}
	}

	logits := p.logits(feats)
	probs := softmaxRows(logits)
	loss := 0.0
	dLogits := mat.NewDense(n, p.classes, nil)
	for i := 0; i < n; i++ {
		loss += -math.Log(math.Max(probs.At(i, labels[i]), 1e-12))
		for j := 0; j < p.classes; j++ {
			g := probs.At(i, j)
			if j == labels[i] {
				g -= 1
			}
			dLogits.Set(i, j, g/float64(n))
		}
	}
	loss /= float64(n)

	var gradW mat.Dense
	gradW.Mul(dLogits.T(), feats)
	gradB := columnSums(dLogits)
	applyUpdate(p.w, &gradW, p.lr)
	for j := range p.b {
		p.b[j] -= p.lr * gradB[j]
	}
	return loss, nil
}

// features selects the retained patches from the batch mask and returns one
// mean patch embedding per sample.
func (p *PatchClassifier) features(x *tensor.Tensor) (*mat.Dense, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("nn: expected 4-D batch, got shape %v", x.Shape)
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	if c != p.channels+1 || h != p.height || w != p.width {
		return nil, fmt.Errorf("nn: batch shape %v does not match head (%d channels + mask, %dx%d)",
			x.Shape, p.channels, p.height, p.width)
	}

	// All samples in an ablated batch share the column position, so the
	// first sample's mask selects the tokens for the whole batch.
	mask, err := smoothing.MaskPlane(x, 0)
	if err != nil {
		return nil, err
	}
	tokens, err := p.selector.RetainedTokens(mask, p.patchSize)
	if err != nil {
		return nil, err
	}
	if len(tokens) < 2 {
		return nil, fmt.Errorf("nn: selector retained no patch tokens")
	}
	patches := tokens[1:] // drop the class token

	gridW := p.width / p.patchSize
	feats := mat.NewDense(n, p.featDim, nil)
	scale := 1 / float64(len(patches))
	for b := 0; b < n; b++ {
		row := feats.RawRowView(b)
		for _, tok := range patches {
			patch := tok - 1
			py0 := (patch / gridW) * p.patchSize
			px0 := (patch % gridW) * p.patchSize
			f := 0
			for ch := 0; ch < p.channels; ch++ {
				for dy := 0; dy < p.patchSize; dy++ {
					for dx := 0; dx < p.patchSize; dx++ {
						row[f] += x.Data[((b*c+ch)*h+py0+dy)*w+px0+dx] * scale
						f++
					}
				}
			}
		}
	}
	return feats, nil
}

func (p *PatchClassifier) logits(feats *mat.Dense) *mat.Dense {
	n, _ := feats.Dims()
	logits := mat.NewDense(n, p.classes, nil)
	logits.Mul(feats, p.w.T())
	logits.Apply(func(i, j int, v float64) float64 {
		return v + p.b[j]
	}, logits)
	return logits
}
