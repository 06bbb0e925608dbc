package layer

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by NewConfig for impossible geometries.
var ErrInvalidConfig = errors.New("invalid convolution config")

// Config is the immutable geometry of a convolutional layer.
// The output extents are derived once, at construction.
type Config struct {
	inWidth  int
	inHeight int
	inDepth  int
	window   int
	stride   int
	padding  int
	nFilters int

	outWidth  int
	outHeight int
}

// Option customizes a Config.
type Option func(*Config)

// WithStride sets the step between successive windows. Default 1.
func WithStride(stride int) Option {
	return func(c *Config) { c.stride = stride }
}

// WithPadding sets the implicit zero border on each side. Default 0.
func WithPadding(padding int) Option {
	return func(c *Config) { c.padding = padding }
}

// WithFilters sets the number of filters, which is the output depth. Default 1.
func WithFilters(n int) Option {
	return func(c *Config) { c.nFilters = n }
}

// NewConfig creates the geometry for a width x height x depth input convolved
// with square window x window filters.
//
// The output extent along each axis is (in + 2*padding - window)/stride + 1,
// truncated. When stride does not divide in + 2*padding - window the
// trailing input rows and columns are dropped; that is not an error.
func NewConfig(width, height, depth, window int, opts ...Option) (Config, error) {
	c := Config{
		inWidth:  width,
		inHeight: height,
		inDepth:  depth,
		window:   window,
		stride:   1,
		padding:  0,
		nFilters: 1,
	}
	for _, opt := range opts {
		opt(&c)
	}

	switch {
	case c.inWidth < 1 || c.inHeight < 1 || c.inDepth < 1:
		return Config{}, fmt.Errorf("%w: input %dx%dx%d", ErrInvalidConfig, c.inWidth, c.inHeight, c.inDepth)
	case c.window < 1:
		return Config{}, fmt.Errorf("%w: window %d", ErrInvalidConfig, c.window)
	case c.stride < 1:
		return Config{}, fmt.Errorf("%w: stride %d", ErrInvalidConfig, c.stride)
	case c.padding < 0:
		return Config{}, fmt.Errorf("%w: padding %d", ErrInvalidConfig, c.padding)
	case c.nFilters < 1:
		return Config{}, fmt.Errorf("%w: %d filters", ErrInvalidConfig, c.nFilters)
	case c.inWidth+2*c.padding < c.window || c.inHeight+2*c.padding < c.window:
		return Config{}, fmt.Errorf("%w: window %d larger than padded input %dx%d",
			ErrInvalidConfig, c.window, c.inWidth+2*c.padding, c.inHeight+2*c.padding)
	}

	c.outWidth = outputSize(c.inWidth, c.window, c.stride, c.padding)
	c.outHeight = outputSize(c.inHeight, c.window, c.stride, c.padding)
	return c, nil
}

// outputSize computes (in + 2*padding - window)/stride + 1.
// The numerator is non-negative, so integer division floors.
func outputSize(in, window, stride, padding int) int {
	return (in+2*padding-window)/stride + 1
}

func (c Config) InWidth() int   { return c.inWidth }
func (c Config) InHeight() int  { return c.inHeight }
func (c Config) InDepth() int   { return c.inDepth }
func (c Config) Window() int    { return c.window }
func (c Config) Stride() int    { return c.stride }
func (c Config) Padding() int   { return c.padding }
func (c Config) NFilters() int  { return c.nFilters }
func (c Config) OutWidth() int  { return c.outWidth }
func (c Config) OutHeight() int { return c.outHeight }

// OutDepth is always the number of filters.
func (c Config) OutDepth() int { return c.nFilters }

// Exact reports whether the stride tiles the padded input with no leftover
// rows or columns.
func (c Config) Exact() bool {
	return (c.inWidth+2*c.padding-c.window)%c.stride == 0 &&
		(c.inHeight+2*c.padding-c.window)%c.stride == 0
}

// MACs returns the number of multiply-accumulates a dense forward pass
// performs before boundary clipping.
func (c Config) MACs() int {
	return c.outWidth * c.outHeight * c.nFilters * c.window * c.window * c.inDepth
}

func (c Config) String() string {
	return fmt.Sprintf("in=%dx%dx%d window=%d stride=%d padding=%d filters=%d out=%dx%dx%d",
		c.inWidth, c.inHeight, c.inDepth, c.window, c.stride, c.padding, c.nFilters,
		c.outWidth, c.outHeight, c.nFilters)
}
