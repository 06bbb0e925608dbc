package goconv

import (
	"context"

	"github.com/FlavioCFOliveira/goconv/internal/layer"
	"github.com/FlavioCFOliveira/goconv/internal/tensor"
)

// Re-export common types and functions for easier access
type (
	Volume     = tensor.Volume
	Filter     = layer.Filter
	FilterBank = layer.FilterBank
	Config     = layer.Config
	Option     = layer.Option
	Conv2D     = layer.Conv2D
	ConvOption = layer.ConvOption
	Result     = layer.Result
	Device     = layer.Device
	CPUDevice  = layer.CPUDevice
	BLASDevice = layer.BLASDevice
)

// Errors
var (
	ErrShape           = tensor.ErrShape
	ErrShapeMismatch   = layer.ErrShapeMismatch
	ErrInvalidConfig   = layer.ErrInvalidConfig
	ErrZeroFilter      = layer.ErrZeroFilter
	ErrNonFiniteFilter = layer.ErrNonFiniteFilter
)

// Volumes
func NewVolume(width, height, depth int) *Volume {
	return tensor.New(width, height, depth)
}

func VolumeFromData(width, height, depth int, data []float64) (*Volume, error) {
	return tensor.FromData(width, height, depth, data)
}

// Filters
func NewFilter(window, depth int) *Filter {
	return layer.NewFilter(window, depth)
}

func NewFilterFromWeights(w *Volume, bias float64) (*Filter, error) {
	return layer.NewFilterFromWeights(w, bias)
}

func NewFilterBank(n, window, depth int) FilterBank {
	return layer.NewFilterBank(n, window, depth)
}

func NewRandomBank(n, window, depth int, seed uint64) FilterBank {
	return layer.NewRandomBank(n, window, depth, seed)
}

// Layer configuration
func NewConfig(width, height, depth, window int, opts ...Option) (Config, error) {
	return layer.NewConfig(width, height, depth, window, opts...)
}

var (
	WithStride  = layer.WithStride
	WithPadding = layer.WithPadding
	WithFilters = layer.WithFilters
	WithDevice  = layer.WithDevice
	WithLogger  = layer.WithLogger
)

func NewConv2D(cfg Config, opts ...ConvOption) *Conv2D {
	return layer.NewConv2D(cfg, opts...)
}

// Forward runs a single forward pass of a layer configured by cfg and returns
// the output geometry and volume.
func Forward(ctx context.Context, input *Volume, cfg Config, filters FilterBank) (outWidth, outHeight, outDepth int, out *Volume, err error) {
	res, err := layer.NewConv2D(cfg).Forward(ctx, input, filters)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	return res.OutWidth, res.OutHeight, res.OutDepth, res.Output, nil
}
