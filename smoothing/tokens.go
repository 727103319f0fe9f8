package smoothing

import (
	"smoothcert/tensor"
)

// TokenSelector maps an ablation mask plane to the sequence positions a
// patch-token model should keep. Implementations are injected into the
// consuming model rather than patched in at runtime.
type TokenSelector interface {
	// RetainedTokens takes a 2-D (height, width) mask and the model's patch
	// size and returns the token indices to keep, in ascending order.
	// Index 0 is the class token.
	RetainedTokens(mask *tensor.Tensor, patchSize int) ([]int, error)
}

// PatchGridSelector keeps every patch whose receptive field overlaps the
// retained columns: the mask is average-pooled by the patch size and patches
// with a positive pooled value are kept. Patch tokens are numbered row-major
// starting at 1; the class token (index 0) is always retained.
type PatchGridSelector struct{}

func (PatchGridSelector) RetainedTokens(mask *tensor.Tensor, patchSize int) ([]int, error) {
	if patchSize <= 0 {
		return nil, domainErrorf("patch size %d, must be positive", patchSize)
	}
	if len(mask.Shape) != 2 {
		return nil, shapeErrorf("expected 2-D mask, got shape %v", mask.Shape)
	}
	h, w := mask.Shape[0], mask.Shape[1]
	if h%patchSize != 0 || w%patchSize != 0 {
		return nil, shapeErrorf("mask %dx%d not divisible by patch size %d", h, w, patchSize)
	}

	gridH, gridW := h/patchSize, w/patchSize
	tokens := []int{0}
	for gy := 0; gy < gridH; gy++ {
		for gx := 0; gx < gridW; gx++ {
			sum := 0.0
			for py := 0; py < patchSize; py++ {
				for px := 0; px < patchSize; px++ {
					sum += mask.Data[(gy*patchSize+py)*w+gx*patchSize+px]
				}
			}
			if sum > 0 {
				tokens = append(tokens, gy*gridW+gx+1)
			}
		}
	}
	return tokens, nil
}

// MaskPlane extracts the mask channel of one sample from an ablated NCHW
// batch as a 2-D tensor. The mask is the last channel Forward appends.
func MaskPlane(ablated *tensor.Tensor, sample int) (*tensor.Tensor, error) {
	if len(ablated.Shape) != 4 {
		return nil, shapeErrorf("expected 4-D ablated batch, got shape %v", ablated.Shape)
	}
	n, c, h, w := ablated.Shape[0], ablated.Shape[1], ablated.Shape[2], ablated.Shape[3]
	if sample < 0 || sample >= n {
		return nil, domainErrorf("sample %d outside [0, %d)", sample, n)
	}
	plane := tensor.New(h, w)
	base := ((sample*c + c - 1) * h) * w
	copy(plane.Data, ablated.Data[base:base+h*w])
	return plane, nil
}
