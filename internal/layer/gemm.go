package layer

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/goconv/internal/parallel"
	"github.com/FlavioCFOliveira/goconv/internal/tensor"
)

// Convolve lowers the convolution to a single matrix product.
//
// Each output position (i, j) becomes row i*outHeight+j of a patch matrix
// holding its receptive field, flattened in the filter weight layout, with
// padded positions left at zero. Multiplying by the window*window*depth x
// nFilters weight matrix yields a row-major result whose backing slice is
// exactly the output volume layout.
func (d *BLASDevice) Convolve(ctx context.Context, cfg Config, input *tensor.Volume, filters FilterBank, out *tensor.Volume) error {
	rows := cfg.OutWidth() * cfg.OutHeight()
	patch := cfg.Window() * cfg.Window() * cfg.InDepth()
	nFilters := cfg.NFilters()

	patches, err := im2col(ctx, cfg, input, workers(cfg, d.Workers))
	if err != nil {
		return err
	}

	weights := mat.NewDense(patch, nFilters, nil)
	for k, f := range filters {
		weights.SetCol(k, f.Weights.Data())
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	dst := mat.NewDense(rows, nFilters, out.Data())
	dst.Mul(patches, weights)

	// Bias
	y := out.Data()
	for r := 0; r < rows; r++ {
		for k, f := range filters {
			y[r*nFilters+k] += f.Bias
		}
	}
	return nil
}

// im2col builds the (outWidth*outHeight) x (window*window*depth) patch matrix.
func im2col(ctx context.Context, cfg Config, input *tensor.Volume, nWorkers int) (*mat.Dense, error) {
	inWidth := cfg.InWidth()
	inHeight := cfg.InHeight()
	inDepth := cfg.InDepth()
	window := cfg.Window()
	stride := cfg.Stride()
	padding := cfg.Padding()
	outHeight := cfg.OutHeight()
	patch := window * window * inDepth

	x := input.Data()
	data := make([]float64, cfg.OutWidth()*outHeight*patch)

	err := parallel.For(ctx, cfg.OutWidth(), nWorkers, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			iStart := i*stride - padding
			iLo, iHi := max(0, iStart), min(inWidth, iStart+window)

			for j := 0; j < outHeight; j++ {
				jStart := j*stride - padding
				jLo, jHi := max(0, jStart), min(inHeight, jStart+window)

				row := data[(i*outHeight+j)*patch : (i*outHeight+j+1)*patch]
				for iPt := iLo; iPt < iHi; iPt++ {
					for jPt := jLo; jPt < jHi; jPt++ {
						src := (iPt*inHeight + jPt) * inDepth
						dst := ((iPt-iStart)*window + (jPt - jStart)) * inDepth
						copy(row[dst:dst+inDepth], x[src:src+inDepth])
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mat.NewDense(cfg.OutWidth()*outHeight, patch, data), nil
}
