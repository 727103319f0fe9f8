package tensor

import "fmt"

// Tensor is a simple n-D array backed by a flat []float64.
// Image batches use NCHW as the canonical layout.
type Tensor struct {
	Data  []float64
	Shape []int
}

// New allocates a Tensor of given shape (product of dims = len(Data)).
func New(shape ...int) *Tensor {
	// Compute total size
	total := 1
	for _, d := range shape {
		total *= d
	}
	return &Tensor{
		Data:  make([]float64, total),
		Shape: append([]int(nil), shape...),
	}
}

// NewWithData creates a 1-D tensor from existing data slice.
func NewWithData(data []float64) *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), data...),
		Shape: []int{len(data)},
	}
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), t.Data...),
		Shape: append([]int(nil), t.Shape...),
	}
}

// Equal reports whether t and o have identical shape and data.
func (t *Tensor) Equal(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	for i := range t.Data {
		if t.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// At returns the element at the given indices.
// For a 4D tensor [a, b, c, d], At(i, j, k, l) returns the element at position [i][j][k][l].
func (t *Tensor) At(indices ...int) float64 {
	return t.Data[t.index("At", indices)]
}

// Set sets the element at the given indices to the given value.
func (t *Tensor) Set(value float64, indices ...int) {
	t.Data[t.index("Set", indices)] = value
}

func (t *Tensor) index(op string, indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("%s: expected %d indices, got %d", op, len(t.Shape), len(indices)))
	}

	// Compute linear index
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("%s: index %d out of bounds for dimension %d (shape: %v)", op, indices[i], i, t.Shape))
		}
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}

	return idx
}

// Gather returns a new tensor holding the rows of the first axis selected
// by indices, in order. Used to assemble mini-batches from a sample set.
func (t *Tensor) Gather(indices []int) (*Tensor, error) {
	if len(t.Shape) == 0 {
		return nil, fmt.Errorf("Gather: tensor has no axes")
	}
	rowSize := 1
	for _, d := range t.Shape[1:] {
		rowSize *= d
	}
	outShape := append([]int{len(indices)}, t.Shape[1:]...)
	out := New(outShape...)
	for i, src := range indices {
		if src < 0 || src >= t.Shape[0] {
			return nil, fmt.Errorf("Gather: index %d out of bounds for axis 0 (size %d)", src, t.Shape[0])
		}
		copy(out.Data[i*rowSize:(i+1)*rowSize], t.Data[src*rowSize:(src+1)*rowSize])
	}
	return out, nil
}

// NHWCToNCHW converts a 4-D channels-last batch to the canonical
// channels-first layout.
func NHWCToNCHW(x *Tensor) (*Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("NHWCToNCHW: expected 4-D tensor, got shape %v", x.Shape)
	}
	n, h, w, c := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	out := New(n, c, h, w)
	for b := 0; b < n; b++ {
		for i := 0; i < h; i++ {
			for j := 0; j < w; j++ {
				for ch := 0; ch < c; ch++ {
					out.Data[((b*c+ch)*h+i)*w+j] = x.Data[((b*h+i)*w+j)*c+ch]
				}
			}
		}
	}
	return out, nil
}

// NCHWToNHWC converts a 4-D channels-first batch to channels-last.
func NCHWToNHWC(x *Tensor) (*Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("NCHWToNHWC: expected 4-D tensor, got shape %v", x.Shape)
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	out := New(n, h, w, c)
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for i := 0; i < h; i++ {
				for j := 0; j < w; j++ {
					out.Data[((b*h+i)*w+j)*c+ch] = x.Data[((b*c+ch)*h+i)*w+j]
				}
			}
		}
	}
	return out, nil
}
