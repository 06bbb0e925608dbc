// Package tensor provides the dense 3D volume used for convolution inputs,
// outputs and filter weights.
package tensor

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/goconv/internal/parallel"
)

// ErrShape is returned when a buffer does not match the requested extents.
var ErrShape = errors.New("tensor: shape mismatch")

// parallelThreshold is the element count below which batch operations run
// on the calling goroutine.
const parallelThreshold = 1 << 14

// Volume is a dense width x height x depth grid of float64 values indexed
// [x][y][z]. Values are stored in a single flat slice, z varying fastest.
// The extents never change after construction.
type Volume struct {
	width  int
	height int
	depth  int
	data   []float64
}

// New allocates a zero-initialized volume.
func New(width, height, depth int) *Volume {
	if width < 0 || height < 0 || depth < 0 {
		panic(fmt.Sprintf("tensor: negative extents %dx%dx%d", width, height, depth))
	}
	return &Volume{
		width:  width,
		height: height,
		depth:  depth,
		data:   make([]float64, width*height*depth),
	}
}

// FromData wraps data as a width x height x depth volume without copying.
func FromData(width, height, depth int, data []float64) (*Volume, error) {
	if width < 0 || height < 0 || depth < 0 {
		return nil, fmt.Errorf("%w: negative extents %dx%dx%d", ErrShape, width, height, depth)
	}
	if len(data) != width*height*depth {
		return nil, fmt.Errorf("%w: %d values for %dx%dx%d", ErrShape, len(data), width, height, depth)
	}
	return &Volume{width: width, height: height, depth: depth, data: data}, nil
}

func (v *Volume) Width() int  { return v.width }
func (v *Volume) Height() int { return v.height }
func (v *Volume) Depth() int  { return v.depth }

// Dims returns the extents of the volume.
func (v *Volume) Dims() (width, height, depth int) {
	return v.width, v.height, v.depth
}

// Len returns the number of elements.
func (v *Volume) Len() int { return len(v.data) }

// Data returns the backing slice. Element (x, y, z) is at Index(x, y, z).
func (v *Volume) Data() []float64 { return v.data }

// Index returns the flat offset of element (x, y, z).
func (v *Volume) Index(x, y, z int) int {
	return ((x*v.height)+y)*v.depth + z
}

func (v *Volume) At(x, y, z int) float64 {
	return v.data[v.Index(x, y, z)]
}

func (v *Volume) Set(x, y, z int, val float64) {
	v.data[v.Index(x, y, z)] = val
}

func (v *Volume) Add(x, y, z int, val float64) {
	v.data[v.Index(x, y, z)] += val
}

// SameShape reports whether v and o have equal extents.
func (v *Volume) SameShape(o *Volume) bool {
	return v.width == o.width && v.height == o.height && v.depth == o.depth
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	c := New(v.width, v.height, v.depth)
	copy(c.data, v.data)
	return c
}

// Fill sets every element to val.
func (v *Volume) Fill(val float64) {
	for i := range v.data {
		v.data[i] = val
	}
}

// Apply replaces every element with f(element). f must not depend on the
// order in which elements are visited.
func (v *Volume) Apply(f func(float64) float64) {
	_ = v.chunks(func(lo, hi int) error {
		d := v.data[lo:hi]
		for i, x := range d {
			d[i] = f(x)
		}
		return nil
	})
}

// Map returns a new volume holding f applied to every element of v.
func (v *Volume) Map(f func(float64) float64) *Volume {
	out := New(v.width, v.height, v.depth)
	_ = v.chunks(func(lo, hi int) error {
		src, dst := v.data[lo:hi], out.data[lo:hi]
		for i, x := range src {
			dst[i] = f(x)
		}
		return nil
	})
	return out
}

// SumAbs returns the sum of the absolute values of all elements.
// Partial sums are reduced after every chunk has completed, so the result
// may differ from a sequential sum in the last bits.
func (v *Volume) SumAbs() float64 {
	n := v.workers()
	if n == 1 {
		return floats.Norm(v.data, 1)
	}

	chunkSize := (len(v.data) + n - 1) / n
	partials := make([]float64, n)
	_ = v.chunks(func(lo, hi int) error {
		partials[lo/chunkSize] = floats.Norm(v.data[lo:hi], 1)
		return nil
	})
	return floats.Sum(partials)
}

// EqualApprox reports whether v and o have the same shape and all elements
// are within tol, absolutely or relatively.
func (v *Volume) EqualApprox(o *Volume, tol float64) bool {
	return v.SameShape(o) && floats.EqualApprox(v.data, o.data, tol)
}

// Channel returns a width x height copy of channel z.
func (v *Volume) Channel(z int) *mat.Dense {
	if z < 0 || z >= v.depth {
		panic(fmt.Sprintf("tensor: channel %d out of range [0, %d)", z, v.depth))
	}
	m := mat.NewDense(v.width, v.height, nil)
	for x := 0; x < v.width; x++ {
		for y := 0; y < v.height; y++ {
			m.Set(x, y, v.At(x, y, z))
		}
	}
	return m
}

func (v *Volume) String() string {
	return fmt.Sprintf("Volume(%dx%dx%d)", v.width, v.height, v.depth)
}

func (v *Volume) workers() int {
	if len(v.data) < parallelThreshold {
		return 1
	}
	return min(parallel.Workers(0), len(v.data))
}

func (v *Volume) chunks(fn func(lo, hi int) error) error {
	return parallel.For(context.Background(), len(v.data), v.workers(), fn)
}
