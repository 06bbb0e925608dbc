package layer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/goconv/internal/tensor"
)

const tol = 1e-12

func TestNewFilter(t *testing.T) {
	f := NewFilter(3, 2)

	assert.Equal(t, 3, f.Window())
	assert.Equal(t, 2, f.Depth())
	assert.Equal(t, 18, f.Weights.Len())
	assert.Zero(t, f.Bias)
	assert.NoError(t, f.Validate(3, 2))
}

func TestNewFilterFromWeights(t *testing.T) {
	f, err := NewFilterFromWeights(tensor.New(2, 2, 4), 0.5)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Window())
	assert.Equal(t, 4, f.Depth())
	assert.Equal(t, 0.5, f.Bias)

	_, err = NewFilterFromWeights(tensor.New(2, 3, 1), 0)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = NewFilterFromWeights(nil, 0)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

// TestFilterNormalize checks the absolute weights sum to 1 afterwards and
// the bias is untouched.
func TestFilterNormalize(t *testing.T) {
	f := NewFilter(2, 2)
	copy(f.Weights.Data(), []float64{1, -2, 3, -4, 0, 5, -6, 7})
	f.Bias = 3

	require.NoError(t, f.Normalize())

	assert.InDelta(t, 1.0, f.Weights.SumAbs(), tol)
	assert.Equal(t, 3.0, f.Bias)
	assert.InDelta(t, -4.0/28, f.Weights.At(0, 1, 1), tol)
	assert.InDelta(t, 7.0/28, f.Weights.At(1, 1, 1), tol)
}

// TestFilterNormalizeIdempotent checks normalizing twice equals normalizing once.
func TestFilterNormalizeIdempotent(t *testing.T) {
	for _, seed := range []uint64{1, 2, 3, 42} {
		f := NewRandomBank(1, 5, 3, seed)[0]

		require.NoError(t, f.Normalize())
		once := append([]float64(nil), f.Weights.Data()...)

		require.NoError(t, f.Normalize())
		if !floats.EqualApprox(once, f.Weights.Data(), 1e-12) {
			t.Fatalf("seed %d: second normalization changed weights", seed)
		}
		assert.InDelta(t, 1.0, f.Weights.SumAbs(), 1e-12)
	}
}

// TestFilterNormalizeLarge exercises the chunked reduction.
func TestFilterNormalizeLarge(t *testing.T) {
	f := NewRandomBank(1, 64, 8, 7)[0]
	require.NoError(t, f.Normalize())
	assert.InDelta(t, 1.0, f.Weights.SumAbs(), 1e-9)
}

func TestFilterNormalizeZero(t *testing.T) {
	f := NewFilter(3, 1)
	f.Bias = 1

	require.ErrorIs(t, f.Normalize(), ErrZeroFilter)
	for i, w := range f.Weights.Data() {
		if w != 0 || math.IsNaN(w) {
			t.Fatalf("weight %d = %v after failed normalization", i, w)
		}
	}
	assert.Equal(t, 1.0, f.Bias)
}

func TestFilterNormalizeNonFinite(t *testing.T) {
	f := NewFilter(2, 1)
	f.Weights.Fill(1)
	f.Weights.Set(0, 0, 0, math.Inf(1))

	require.ErrorIs(t, f.Normalize(), ErrNonFiniteFilter)
	assert.Equal(t, 1.0, f.Weights.At(1, 1, 0))

	f.Weights.Set(0, 0, 0, math.NaN())
	require.ErrorIs(t, f.Normalize(), ErrNonFiniteFilter)
}

func TestFilterValidate(t *testing.T) {
	f := NewFilter(3, 2)

	require.NoError(t, f.Validate(3, 2))
	require.ErrorIs(t, f.Validate(5, 2), ErrShapeMismatch)
	require.ErrorIs(t, f.Validate(3, 1), ErrShapeMismatch)

	var nilFilter *Filter
	require.ErrorIs(t, nilFilter.Validate(3, 2), ErrShapeMismatch)

	// Weights swapped for a volume that disagrees with the recorded geometry.
	f.Weights = tensor.New(2, 2, 2)
	require.ErrorIs(t, f.Validate(3, 2), ErrShapeMismatch)
}

func TestFilterClone(t *testing.T) {
	f := NewRandomBank(1, 3, 1, 9)[0]
	c := f.Clone()

	c.Weights.Set(0, 0, 0, 100)
	c.Bias = 100

	assert.NotEqual(t, 100.0, f.Weights.At(0, 0, 0))
	assert.NotEqual(t, 100.0, f.Bias)
	assert.Equal(t, f.Window(), c.Window())
	assert.Equal(t, f.Depth(), c.Depth())
}

func TestNewRandomBank(t *testing.T) {
	a := NewRandomBank(4, 3, 2, 42)
	b := NewRandomBank(4, 3, 2, 42)
	c := NewRandomBank(4, 3, 2, 43)

	require.Len(t, a, 4)
	scale := math.Sqrt(2.0 / float64(3*3*2))
	for k := range a {
		assert.Equal(t, a[k].Weights.Data(), b[k].Weights.Data(), "same seed, same weights")
		assert.Equal(t, a[k].Bias, b[k].Bias)
		assert.NotEqual(t, a[k].Weights.Data(), c[k].Weights.Data())

		for _, w := range a[k].Weights.Data() {
			if w < -scale || w > scale {
				t.Fatalf("weight %v outside [-%v, %v]", w, scale, scale)
			}
		}
		assert.LessOrEqual(t, math.Abs(a[k].Bias), 0.1)
	}
}

func TestFilterBankValidate(t *testing.T) {
	cfg, err := NewConfig(5, 5, 2, 3, WithFilters(2))
	require.NoError(t, err)

	require.NoError(t, NewFilterBank(2, 3, 2).Validate(cfg))
	require.ErrorIs(t, NewFilterBank(3, 3, 2).Validate(cfg), ErrShapeMismatch)
	require.ErrorIs(t, NewFilterBank(2, 2, 2).Validate(cfg), ErrShapeMismatch)
	require.ErrorIs(t, NewFilterBank(2, 3, 1).Validate(cfg), ErrShapeMismatch)

	bank := NewFilterBank(2, 3, 2)
	bank[1] = nil
	err = bank.Validate(cfg)
	require.ErrorIs(t, err, ErrShapeMismatch)
	assert.Contains(t, err.Error(), "filter 1")
}

// TestFilterBankNormalizeAllOrNothing checks a bank with a zero filter is left
// untouched.
func TestFilterBankNormalizeAllOrNothing(t *testing.T) {
	bank := NewRandomBank(3, 2, 1, 5)
	bank[2] = NewFilter(2, 1)
	before := bank.Clone()

	err := bank.Normalize()
	require.ErrorIs(t, err, ErrZeroFilter)
	assert.Contains(t, err.Error(), "filter 2")
	for k := range bank {
		assert.Equal(t, before[k].Weights.Data(), bank[k].Weights.Data())
	}

	bank = bank[:2]
	require.NoError(t, bank.Normalize())
	for _, f := range bank {
		assert.InDelta(t, 1.0, f.Weights.SumAbs(), tol)
	}
}
