package linalg

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/chrissnell/model3d/internal/log"
)

func init() {
	log.UseNop()
}

func randomSquare(rng *rand.Rand, n int) *mat.Dense {
	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}
	return a
}

func reconstruct(d *SVD) *mat.Dense {
	u, v := d.U(), d.V()
	s := d.Values(nil)
	var us mat.Dense
	us.Mul(u, mat.NewDiagDense(len(s), s))
	var out mat.Dense
	out.Mul(&us, v.T())
	return &out
}

func TestDecomposeReconstructs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, n := range []int{1, 2, 3, 5, 8, 12} {
		a := randomSquare(rng, n)
		d, err := Decompose(a)
		require.NoError(t, err)
		assert.True(t, d.Converged())

		got := reconstruct(d)
		assert.True(t, mat.EqualApprox(got, a, 1e-10), "n=%d: U·S·Vᵀ != A", n)

		s := d.Values(nil)
		for i := range s {
			assert.GreaterOrEqual(t, s[i], 0.0)
			if i > 0 {
				assert.LessOrEqual(t, s[i], s[i-1], "n=%d: values not descending", n)
			}
		}
	}
}

func TestDecomposeMatchesGonum(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	a := randomSquare(rng, 8)

	d, err := Decompose(a)
	require.NoError(t, err)

	var ref mat.SVD
	require.True(t, ref.Factorize(a, mat.SVDThin))
	want := ref.Values(nil)
	got := d.Values(nil)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-10)
	}
}

func TestDecomposeOrthogonalFactors(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := randomSquare(rng, 6)
	d, err := Decompose(a)
	require.NoError(t, err)

	eye := mat.NewDiagDense(6, []float64{1, 1, 1, 1, 1, 1})
	for name, q := range map[string]*mat.Dense{"U": d.U(), "V": d.V()} {
		var qtq mat.Dense
		qtq.Mul(q.T(), q)
		assert.True(t, mat.EqualApprox(&qtq, eye, 1e-10), "%s not orthogonal", name)
	}
}

func TestDecomposeSignConvention(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a := randomSquare(rng, 7)
	d, err := Decompose(a)
	require.NoError(t, err)

	u, v := d.U(), d.V()
	for k := 0; k < 7; k++ {
		neg := 0
		for i := 0; i < 7; i++ {
			if u.At(i, k) < 0 {
				neg++
			}
			if v.At(i, k) < 0 {
				neg++
			}
		}
		assert.LessOrEqual(t, neg, 7, "column %d has a negative majority", k)
	}
}

func TestDecomposeRejectsNonSquare(t *testing.T) {
	_, err := Decompose(mat.NewDense(2, 3, nil))
	assert.ErrorIs(t, err, ErrNotSquare)
}

func TestDecomposeZeroMatrix(t *testing.T) {
	d, err := Decompose(mat.NewDense(3, 3, nil))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, d.Values(nil))
	assert.Equal(t, 0, d.Rank(0))

	x, err := d.Solve([]float64{1, 2, 3}, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, x)
}

func TestPseudoInverseMoorePenrose(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	for _, n := range []int{2, 4, 8} {
		a := randomSquare(rng, n)
		d, err := Decompose(a)
		require.NoError(t, err)
		p := d.PseudoInverse(0)

		var apa, tmp mat.Dense
		tmp.Mul(a, p)
		apa.Mul(&tmp, a)
		assert.True(t, mat.EqualApprox(&apa, a, 1e-8), "n=%d: A·A⁺·A != A", n)

		var pap mat.Dense
		tmp.Reset()
		tmp.Mul(p, a)
		pap.Mul(&tmp, p)
		assert.True(t, mat.EqualApprox(&pap, p, 1e-8), "n=%d: A⁺·A·A⁺ != A⁺", n)
	}
}

func TestPseudoInverseSingular(t *testing.T) {
	// Rank 2: the third row is the sum of the first two.
	a := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		5, 7, 9,
	})
	d, err := Decompose(a)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Rank(0))

	p := d.PseudoInverse(0)
	var apa, tmp mat.Dense
	tmp.Mul(a, p)
	apa.Mul(&tmp, a)
	assert.True(t, mat.EqualApprox(&apa, a, 1e-9))
}

func TestSolve(t *testing.T) {
	tests := []struct {
		name string
		a    []float64
		b    []float64
		want []float64
	}{
		{
			name: "diagonal",
			a:    []float64{2, 0, 0, 4},
			b:    []float64{2, 8},
			want: []float64{1, 2},
		},
		{
			name: "symmetric positive definite",
			a:    []float64{4, 1, 0, 1, 3, 1, 0, 1, 2},
			b:    []float64{5, 5, 3},
			want: []float64{1, 1, 1},
		},
		{
			name: "needs pivoting",
			a:    []float64{0, 1, 1, 0},
			b:    []float64{3, 7},
			want: []float64{7, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := len(tt.b)
			d, err := Decompose(mat.NewDense(n, n, tt.a))
			require.NoError(t, err)
			x, err := d.Solve(tt.b, 0)
			require.NoError(t, err)
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], x[i], 1e-12)
			}
		})
	}
}

func TestSolveThresholdDropsSmallValues(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 0, 0, 1e-9})
	d, err := Decompose(a)
	require.NoError(t, err)

	x, err := d.Solve([]float64{1, 1}, 1e-6)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, x[0], 1e-15)
	assert.Equal(t, 0.0, x[1])

	_, err = d.Solve([]float64{1}, 0)
	assert.Error(t, err)
}

func TestDefaultThreshold(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{3, 0, 0, 0, 2, 0, 0, 0, 1})
	d, err := Decompose(a)
	require.NoError(t, err)
	want := 0.5 * math.Sqrt(7) * 3 * epsilon
	assert.InEpsilon(t, want, d.DefaultThreshold(), 1e-12)
}
