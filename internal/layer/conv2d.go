// Package layer provides the 2D convolutional layer: its geometry, its
// filters and the forward pass.
package layer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/FlavioCFOliveira/goconv/internal/logutil"
	"github.com/FlavioCFOliveira/goconv/internal/parallel"
	"github.com/FlavioCFOliveira/goconv/internal/tensor"
)

// ErrShapeMismatch is returned when an input volume or filter bank does not
// match the layer configuration.
var ErrShapeMismatch = errors.New("shape mismatch")

// minParallelMACs is the amount of work below which a forward pass runs on a
// single goroutine.
const minParallelMACs = 1 << 15

// Conv2D implements the forward pass of a 2D convolutional layer over a
// width x height x depth input volume.
type Conv2D struct {
	cfg    Config
	device Device
	logger *slog.Logger
}

// ConvOption customizes a Conv2D.
type ConvOption func(*Conv2D)

// WithDevice selects the device used by Forward.
func WithDevice(d Device) ConvOption {
	return func(c *Conv2D) { c.device = d }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) ConvOption {
	return func(c *Conv2D) { c.logger = l }
}

// NewConv2D creates a convolutional layer for cfg. Without WithDevice the
// device comes from GetDefaultDevice.
func NewConv2D(cfg Config, opts ...ConvOption) *Conv2D {
	c := &Conv2D{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.device == nil {
		c.device = GetDefaultDevice()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// SetDevice sets the computation device for the convolutional layer.
func (c *Conv2D) SetDevice(device Device) {
	c.device = device
}

// Device returns the computation device.
func (c *Conv2D) Device() Device { return c.device }

// Config returns the layer geometry.
func (c *Conv2D) Config() Config { return c.cfg }

// Result is the output of a forward pass.
type Result struct {
	OutWidth  int
	OutHeight int
	OutDepth  int
	Output    *tensor.Volume
}

// Forward convolves input with filters. For every output cell (i, j, k) it
// sums input[ip][jp][kp] * filters[k].Weights[ip-is][jp-js][kp] over the
// receptive field starting at (is, js) = (i*stride-padding, j*stride-padding),
// clipped to the input extents, then adds filters[k].Bias. Positions in the
// padding are skipped, which is the same as reading zeros.
//
// The input and filters are not modified. The output volume is newly
// allocated and owned by the caller. Shapes are validated before any work is
// done; mismatches return an error wrapping ErrShapeMismatch.
func (c *Conv2D) Forward(ctx context.Context, input *tensor.Volume, filters FilterBank) (Result, error) {
	if err := c.validate(input, filters); err != nil {
		return Result{}, err
	}

	cfg := c.cfg
	if !cfg.Exact() {
		c.logger.Debug("stride does not tile the padded input, trailing positions dropped", "config", cfg)
	}

	out := tensor.New(cfg.OutWidth(), cfg.OutHeight(), cfg.OutDepth())

	start := time.Now()
	if err := c.device.Convolve(ctx, cfg, input, filters, out); err != nil {
		return Result{}, fmt.Errorf("conv2d forward on %s: %w", c.device.Type(), err)
	}
	c.logger.Debug("conv2d forward", "device", c.device.Type(), "config", cfg, "elapsed", time.Since(start))

	return Result{
		OutWidth:  cfg.OutWidth(),
		OutHeight: cfg.OutHeight(),
		OutDepth:  cfg.OutDepth(),
		Output:    out,
	}, nil
}

func (c *Conv2D) validate(input *tensor.Volume, filters FilterBank) error {
	if input == nil {
		return fmt.Errorf("%w: nil input", ErrShapeMismatch)
	}
	if w, h, d := input.Dims(); w != c.cfg.InWidth() || h != c.cfg.InHeight() || d != c.cfg.InDepth() {
		return fmt.Errorf("%w: input %dx%dx%d, want %dx%dx%d", ErrShapeMismatch,
			w, h, d, c.cfg.InWidth(), c.cfg.InHeight(), c.cfg.InDepth())
	}
	return filters.Validate(c.cfg)
}

// workers returns how many goroutines a pass over cfg should use.
func workers(cfg Config, requested int) int {
	if cfg.MACs() < minParallelMACs {
		return 1
	}
	return parallel.Workers(requested)
}

// Convolve runs the direct convolution. Output columns (the x axis) are split
// across workers; each output cell is written by exactly one worker.
func (d *CPUDevice) Convolve(ctx context.Context, cfg Config, input *tensor.Volume, filters FilterBank, out *tensor.Volume) error {
	logger := slog.Default()
	return parallel.For(ctx, cfg.OutWidth(), workers(cfg, d.Workers), func(lo, hi int) error {
		logutil.Trace(ctx, logger, "conv2d columns", "lo", lo, "hi", hi)
		convolveColumns(cfg, input, filters, out, lo, hi)
		return nil
	})
}

// convolveColumns computes output cells for x in [lo, hi).
func convolveColumns(cfg Config, input *tensor.Volume, filters FilterBank, out *tensor.Volume, lo, hi int) {
	inWidth := cfg.InWidth()
	inHeight := cfg.InHeight()
	inDepth := cfg.InDepth()
	window := cfg.Window()
	stride := cfg.Stride()
	padding := cfg.Padding()
	outHeight := cfg.OutHeight()

	x := input.Data()
	y := out.Data()

	for i := lo; i < hi; i++ {
		iStart := i*stride - padding
		iLo, iHi := max(0, iStart), min(inWidth, iStart+window)

		for j := 0; j < outHeight; j++ {
			jStart := j*stride - padding
			jLo, jHi := max(0, jStart), min(inHeight, jStart+window)

			for k, f := range filters {
				w := f.Weights.Data()

				// Accumulate over the receptive field clipped to the input.
				sum := 0.0
				for iPt := iLo; iPt < iHi; iPt++ {
					for jPt := jLo; jPt < jHi; jPt++ {
						inBase := (iPt*inHeight + jPt) * inDepth
						wBase := ((iPt-iStart)*window + (jPt - jStart)) * inDepth
						for kPt := 0; kPt < inDepth; kPt++ {
							sum += x[inBase+kPt] * w[wBase+kPt]
						}
					}
				}

				// Bias
				sum += f.Bias

				y[out.Index(i, j, k)] = sum
			}
		}
	}
}
