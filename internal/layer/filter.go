package layer

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/FlavioCFOliveira/goconv/internal/tensor"
)

var (
	// ErrZeroFilter is returned when normalizing a filter whose weights are all zero.
	ErrZeroFilter = errors.New("filter weights sum to zero")
	// ErrNonFiniteFilter is returned when normalizing a filter holding NaN or Inf weights.
	ErrNonFiniteFilter = errors.New("filter weights are not finite")
)

// Filter is a window x window x depth weight kernel plus a scalar bias.
// Convolving it over an input volume produces one output channel.
type Filter struct {
	Weights *tensor.Volume
	Bias    float64

	window int
	depth  int
}

// NewFilter creates a filter with zero weights and zero bias.
func NewFilter(window, depth int) *Filter {
	return &Filter{
		Weights: tensor.New(window, window, depth),
		window:  window,
		depth:   depth,
	}
}

// NewFilterFromWeights wraps an existing weight volume. The volume must be
// square in its first two axes.
func NewFilterFromWeights(w *tensor.Volume, bias float64) (*Filter, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: nil weights", ErrShapeMismatch)
	}
	if w.Width() != w.Height() || w.Width() < 1 || w.Depth() < 1 {
		return nil, fmt.Errorf("%w: filter weights %dx%dx%d are not a non-empty square window",
			ErrShapeMismatch, w.Width(), w.Height(), w.Depth())
	}
	return &Filter{
		Weights: w,
		Bias:    bias,
		window:  w.Width(),
		depth:   w.Depth(),
	}, nil
}

func (f *Filter) Window() int { return f.window }
func (f *Filter) Depth() int  { return f.depth }

// Normalize divides every weight by the sum of the absolute values of all
// weights, so that afterwards that sum is 1. The bias is not touched.
//
// The sum is fully reduced before any weight is rescaled. A filter whose
// weights are all zero, or whose sum is not finite, is left unchanged and an
// error is returned.
func (f *Filter) Normalize() error {
	s := f.Weights.SumAbs()
	if err := checkNorm(s); err != nil {
		return err
	}
	f.scale(s)
	return nil
}

func checkNorm(s float64) error {
	switch {
	case s == 0:
		return ErrZeroFilter
	case math.IsNaN(s) || math.IsInf(s, 0):
		return ErrNonFiniteFilter
	}
	return nil
}

func (f *Filter) scale(s float64) {
	f.Weights.Apply(func(w float64) float64 { return w / s })
}

// Clone returns a deep copy of the filter.
func (f *Filter) Clone() *Filter {
	return &Filter{
		Weights: f.Weights.Clone(),
		Bias:    f.Bias,
		window:  f.window,
		depth:   f.depth,
	}
}

// Validate checks the filter matches the given window and depth.
func (f *Filter) Validate(window, depth int) error {
	if f == nil || f.Weights == nil {
		return fmt.Errorf("%w: nil filter", ErrShapeMismatch)
	}
	if w, h, d := f.Weights.Dims(); w != f.window || h != f.window || d != f.depth {
		return fmt.Errorf("%w: filter records %dx%dx%d but holds %dx%dx%d weights",
			ErrShapeMismatch, f.window, f.window, f.depth, w, h, d)
	}
	if f.window != window {
		return fmt.Errorf("%w: filter window %d, want %d", ErrShapeMismatch, f.window, window)
	}
	if f.depth != depth {
		return fmt.Errorf("%w: filter depth %d, want %d", ErrShapeMismatch, f.depth, depth)
	}
	return nil
}

// FilterBank is an ordered set of filters. Filter k produces output channel k.
type FilterBank []*Filter

// NewFilterBank creates n zero filters.
func NewFilterBank(n, window, depth int) FilterBank {
	bank := make(FilterBank, n)
	for k := range bank {
		bank[k] = NewFilter(window, depth)
	}
	return bank
}

// NewRandomBank creates n filters with He-uniform weights and small biases.
// The same seed always produces the same bank.
func NewRandomBank(n, window, depth int, seed uint64) FilterBank {
	src := rand.NewSource(seed)

	// He initialization (better for ReLU)
	scale := math.Sqrt(2.0 / float64(window*window*depth))
	weights := distuv.Uniform{Min: -scale, Max: scale, Src: src}
	biases := distuv.Uniform{Min: -0.1, Max: 0.1, Src: src}

	bank := NewFilterBank(n, window, depth)
	for _, f := range bank {
		data := f.Weights.Data()
		for i := range data {
			data[i] = weights.Rand()
		}
		f.Bias = biases.Rand()
	}
	return bank
}

// Validate checks the bank against cfg: one filter per output channel, each
// with the configured window and the input depth.
func (b FilterBank) Validate(cfg Config) error {
	if len(b) != cfg.NFilters() {
		return fmt.Errorf("%w: %d filters, want %d", ErrShapeMismatch, len(b), cfg.NFilters())
	}
	for k, f := range b {
		if err := f.Validate(cfg.Window(), cfg.InDepth()); err != nil {
			return fmt.Errorf("filter %d: %w", k, err)
		}
	}
	return nil
}

// Normalize normalizes every filter in the bank. If any filter cannot be
// normalized no filter is modified.
func (b FilterBank) Normalize() error {
	sums := make([]float64, len(b))
	for k, f := range b {
		sums[k] = f.Weights.SumAbs()
		if err := checkNorm(sums[k]); err != nil {
			return fmt.Errorf("filter %d: %w", k, err)
		}
	}
	for k, f := range b {
		f.scale(sums[k])
	}
	return nil
}

// Clone returns a deep copy of the bank.
func (b FilterBank) Clone() FilterBank {
	c := make(FilterBank, len(b))
	for k, f := range b {
		c[k] = f.Clone()
	}
	return c
}
