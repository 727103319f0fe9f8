package smoothing

import (
	"smoothcert/tensor"
)

// Mode selects how downstream models consume the mask channel. The ablation
// geometry itself is identical for both.
type Mode string

const (
	// ModeViT is column ablation for patch-token models: the mask channel is
	// used to drop tokens whose patches fall outside the retained band.
	ModeViT Mode = "vit"
	// ModeCNN is column ablation for convolutional models: the mask channel
	// is consumed as a regular input plane.
	ModeCNN Mode = "cnn"
)

// ImageShape describes a single image as (channels, height, width).
type ImageShape struct {
	Channels int
	Height   int
	Width    int
}

func (s ImageShape) valid() bool {
	return s.Channels > 0 && s.Height > 0 && s.Width > 0
}

// Config is the immutable ablator configuration. OriginalShape describes the
// inputs handed to Forward; OutputShape is only consulted when ToReshape is
// set and describes the spatial size after resampling.
type Config struct {
	AblationSize  int
	ChannelsFirst bool
	ToReshape     bool
	Mode          Mode
	OriginalShape ImageShape
	OutputShape   ImageShape
}

// ColumnAblator zeroes every column of an image outside a contiguous band of
// AblationSize columns, wrapping past the right edge, and appends a {0,1}
// mask channel marking the retained columns. It holds no mutable state.
type ColumnAblator struct {
	cfg Config
}

// NewColumnAblator validates cfg and returns an ablator.
func NewColumnAblator(cfg Config) (*ColumnAblator, error) {
	if cfg.Mode != ModeViT && cfg.Mode != ModeCNN {
		return nil, configErrorf("unknown mode %q", cfg.Mode)
	}
	if !cfg.OriginalShape.valid() {
		return nil, configErrorf("original shape %+v has non-positive dims", cfg.OriginalShape)
	}
	if cfg.AblationSize <= 0 {
		return nil, configErrorf("ablation size %d, must be positive", cfg.AblationSize)
	}
	if cfg.AblationSize > cfg.OriginalShape.Width {
		return nil, configErrorf("ablation size %d exceeds image width %d",
			cfg.AblationSize, cfg.OriginalShape.Width)
	}
	if cfg.ToReshape {
		if !cfg.OutputShape.valid() {
			return nil, configErrorf("output shape %+v has non-positive dims", cfg.OutputShape)
		}
		if cfg.OutputShape.Channels != cfg.OriginalShape.Channels {
			return nil, configErrorf("output channels %d != original channels %d",
				cfg.OutputShape.Channels, cfg.OriginalShape.Channels)
		}
	}
	return &ColumnAblator{cfg: cfg}, nil
}

// Config returns a copy of the ablator configuration.
func (a *ColumnAblator) Config() Config {
	return a.cfg
}

// OutputWidth is the width of tensors produced by Forward.
func (a *ColumnAblator) OutputWidth() int {
	if a.cfg.ToReshape {
		return a.cfg.OutputShape.Width
	}
	return a.cfg.OriginalShape.Width
}

// OutputHeight is the height of tensors produced by Forward.
func (a *ColumnAblator) OutputHeight() int {
	if a.cfg.ToReshape {
		return a.cfg.OutputShape.Height
	}
	return a.cfg.OriginalShape.Height
}

// Forward ablates the batch at columnPos: columns in the span
// [columnPos, columnPos+AblationSize) modulo the width keep their pixel
// values, every other column is zeroed, and a mask channel (1 on retained
// columns, 0 elsewhere) is appended. When ToReshape is set, the result is
// resampled to OutputShape with nearest-neighbor interpolation so the mask
// stays binary. The input is never mutated; the output uses the same
// channel layout as the input.
func (a *ColumnAblator) Forward(x *tensor.Tensor, columnPos int) (*tensor.Tensor, error) {
	shape := a.cfg.OriginalShape
	if columnPos < 0 || columnPos >= shape.Width {
		return nil, domainErrorf("column position %d outside [0, %d)", columnPos, shape.Width)
	}
	if err := a.checkInputShape(x); err != nil {
		return nil, err
	}

	if !a.cfg.ChannelsFirst {
		var err error
		x, err = tensor.NHWCToNCHW(x)
		if err != nil {
			return nil, shapeErrorf("%v", err)
		}
	}

	n := x.Shape[0]
	c, h, w := shape.Channels, shape.Height, shape.Width
	k := a.cfg.AblationSize

	out := tensor.New(n, c+1, h, w)
	for b := 0; b < n; b++ {
		for col := 0; col < w; col++ {
			if (col-columnPos+w)%w >= k {
				continue
			}
			for ch := 0; ch < c; ch++ {
				for row := 0; row < h; row++ {
					out.Data[((b*(c+1)+ch)*h+row)*w+col] = x.Data[((b*c+ch)*h+row)*w+col]
				}
			}
			for row := 0; row < h; row++ {
				out.Data[((b*(c+1)+c)*h+row)*w+col] = 1
			}
		}
	}

	if a.cfg.ToReshape {
		out = resizeNearest(out, a.cfg.OutputShape.Height, a.cfg.OutputShape.Width)
	}

	if !a.cfg.ChannelsFirst {
		var err error
		out, err = tensor.NCHWToNHWC(out)
		if err != nil {
			return nil, shapeErrorf("%v", err)
		}
	}
	return out, nil
}

// Certify applies the vote-margin certification rule using the configured
// ablation size. See Certify for the algorithm.
func (a *ColumnAblator) Certify(predCounts [][]int, sizeToCertify int, labels []int) ([]bool, []bool, []int, error) {
	return Certify(predCounts, a.cfg.AblationSize, sizeToCertify, labels)
}

func (a *ColumnAblator) checkInputShape(x *tensor.Tensor) error {
	shape := a.cfg.OriginalShape
	if len(x.Shape) != 4 {
		return shapeErrorf("expected 4-D batch, got shape %v", x.Shape)
	}
	var c, h, w int
	if a.cfg.ChannelsFirst {
		c, h, w = x.Shape[1], x.Shape[2], x.Shape[3]
	} else {
		h, w, c = x.Shape[1], x.Shape[2], x.Shape[3]
	}
	if c != shape.Channels {
		return shapeErrorf("input has %d channels, configuration expects %d", c, shape.Channels)
	}
	if h != shape.Height || w != shape.Width {
		return shapeErrorf("input is %dx%d, configuration expects %dx%d",
			h, w, shape.Height, shape.Width)
	}
	return nil
}

// resizeNearest resamples an NCHW batch to (outH, outW). Nearest neighbor
// keeps the mask channel in {0,1} and the retained band contiguous.
func resizeNearest(x *tensor.Tensor, outH, outW int) *tensor.Tensor {
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	if outH == h && outW == w {
		return x
	}
	out := tensor.New(n, c, outH, outW)
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for row := 0; row < outH; row++ {
				srcRow := row * h / outH
				for col := 0; col < outW; col++ {
					srcCol := col * w / outW
					out.Data[((b*c+ch)*outH+row)*outW+col] = x.Data[((b*c+ch)*h+srcRow)*w+srcCol]
				}
			}
		}
	}
	return out
}
