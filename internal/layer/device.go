package layer

import (
	"context"
	"fmt"
	"strings"

	"github.com/FlavioCFOliveira/goconv/internal/envconfig"
	"github.com/FlavioCFOliveira/goconv/internal/tensor"
)

// DeviceType represents the strategy used to compute a forward pass.
type DeviceType int

const (
	CPU DeviceType = iota
	BLAS
)

func (t DeviceType) String() string {
	switch t {
	case CPU:
		return envconfig.DeviceCPU
	case BLAS:
		return envconfig.DeviceBLAS
	default:
		return fmt.Sprintf("DeviceType(%d)", int(t))
	}
}

// Device computes convolutions. Convolve is called with a validated input and
// filter bank and a zeroed output volume of the configured output extents.
// It must not modify input or filters.
type Device interface {
	Type() DeviceType
	Convolve(ctx context.Context, cfg Config, input *tensor.Volume, filters FilterBank, out *tensor.Volume) error
}

// CPUDevice runs the direct, boundary-clipped convolution loop.
// Workers <= 0 uses envconfig.NumThreads.
type CPUDevice struct {
	Workers int
}

func (d *CPUDevice) Type() DeviceType { return CPU }

// BLASDevice lowers the convolution to a matrix product (im2col) computed by gonum.
type BLASDevice struct {
	Workers int
}

func (d *BLASDevice) Type() DeviceType { return BLAS }

// ParseDevice returns the device named by name ("cpu" or "blas").
func ParseDevice(name string, workers int) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case envconfig.DeviceCPU, "":
		return &CPUDevice{Workers: workers}, nil
	case envconfig.DeviceBLAS:
		return &BLASDevice{Workers: workers}, nil
	default:
		return nil, fmt.Errorf("unknown device %q", name)
	}
}

// GetDefaultDevice returns the device selected by GOCONV_DEVICE.
func GetDefaultDevice() Device {
	d, err := ParseDevice(envconfig.Device, 0)
	if err != nil {
		return &CPUDevice{}
	}
	return d
}
