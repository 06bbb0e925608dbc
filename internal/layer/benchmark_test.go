// Package layer provides benchmarks for the convolutional layer.
package layer

import (
	"context"
	"testing"
)

func benchmarkForward(b *testing.B, dev Device) {
	// Typical CNN configuration: 32x32x3 input, 64 filters, 3x3 kernel, same padding
	cfg, err := NewConfig(32, 32, 3, 3, WithPadding(1), WithFilters(64))
	if err != nil {
		b.Fatal(err)
	}
	layer := NewConv2D(cfg, WithDevice(dev))
	input := randomVolume(32, 32, 3, 1)
	bank := NewRandomBank(64, 3, 3, 2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := layer.Forward(context.Background(), input, bank); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkConv2DForward benchmarks the direct loop on all workers.
func BenchmarkConv2DForward(b *testing.B) {
	benchmarkForward(b, &CPUDevice{})
}

// BenchmarkConv2DForwardSequential benchmarks the direct loop on one goroutine.
func BenchmarkConv2DForwardSequential(b *testing.B) {
	benchmarkForward(b, &CPUDevice{Workers: 1})
}

// BenchmarkConv2DForwardBLAS benchmarks the im2col lowering.
func BenchmarkConv2DForwardBLAS(b *testing.B) {
	benchmarkForward(b, &BLASDevice{})
}

// BenchmarkFilterNormalize benchmarks normalization of a 3x3x64 filter.
func BenchmarkFilterNormalize(b *testing.B) {
	bank := NewRandomBank(1, 3, 64, 3)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := bank[0].Normalize(); err != nil {
			b.Fatal(err)
		}
	}
}
