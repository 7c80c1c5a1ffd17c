// Package linalg implements the singular value decomposition used by the
// shower fit: decomposition of a square matrix, thresholded solves and the
// Moore–Penrose pseudo-inverse.
package linalg

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/chrissnell/model3d/internal/log"
)

// MaxSweeps bounds the QR sweeps spent on a single singular value.
const MaxSweeps = 30

// ErrNotSquare is returned by Decompose for non-square input.
var ErrNotSquare = errors.New("linalg: matrix is not square")

// SVD holds the factors of A = U·diag(s)·Vᵀ with s sorted descending.
type SVD struct {
	n         int
	u, v      [][]float64
	s         []float64
	converged bool
}

// Decompose computes the singular value decomposition of the square matrix a.
// A singular value that does not settle within MaxSweeps is logged and the
// current approximation is kept; Converged reports whether that happened.
func Decompose(a mat.Matrix) (*SVD, error) {
	r, c := a.Dims()
	if r != c {
		return nil, fmt.Errorf("decompose %dx%d: %w", r, c, ErrNotSquare)
	}
	if r == 0 {
		return &SVD{converged: true}, nil
	}

	u := make([][]float64, r)
	for i := range u {
		u[i] = make([]float64, c)
		for j := range u[i] {
			u[i][j] = a.At(i, j)
		}
	}

	d := &SVD{n: r, u: u}
	d.s, d.v, d.converged = golubReinsch(u, r, c)
	d.reorder()
	return d, nil
}

// Converged reports whether every singular value settled within MaxSweeps.
func (d *SVD) Converged() bool { return d.converged }

// Values returns the singular values in descending order. If dst is nil a new
// slice is allocated.
func (d *SVD) Values(dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(d.s))
	}
	copy(dst, d.s)
	return dst
}

// U returns a copy of the left singular vectors as columns.
func (d *SVD) U() *mat.Dense { return toDense(d.u, d.n) }

// V returns a copy of the right singular vectors as columns.
func (d *SVD) V() *mat.Dense { return toDense(d.v, d.n) }

// DefaultThreshold returns 0.5·sqrt(m+n+1)·s_max·ε.
func (d *SVD) DefaultThreshold() float64 {
	if len(d.s) == 0 {
		return 0
	}
	return 0.5 * math.Sqrt(float64(2*d.n+1)) * d.s[0] * epsilon
}

// Rank counts singular values above the threshold. A threshold ≤ 0 selects
// DefaultThreshold.
func (d *SVD) Rank(thresh float64) int {
	thresh = d.threshold(thresh)
	rank := 0
	for _, s := range d.s {
		if s > thresh {
			rank++
		}
	}
	return rank
}

// Solve returns x = V·diag(1/s)·Uᵀ·b, dropping singular values at or below the
// threshold. A threshold ≤ 0 selects DefaultThreshold.
func (d *SVD) Solve(b []float64, thresh float64) ([]float64, error) {
	if len(b) != d.n {
		return nil, fmt.Errorf("solve: rhs length %d, want %d", len(b), d.n)
	}
	thresh = d.threshold(thresh)

	tmp := make([]float64, d.n)
	for j := 0; j < d.n; j++ {
		if d.s[j] <= thresh {
			continue
		}
		sum := 0.0
		for i := 0; i < d.n; i++ {
			sum += d.u[i][j] * b[i]
		}
		tmp[j] = sum / d.s[j]
	}

	x := make([]float64, d.n)
	for i := 0; i < d.n; i++ {
		sum := 0.0
		for j := 0; j < d.n; j++ {
			sum += d.v[i][j] * tmp[j]
		}
		x[i] = sum
	}
	return x, nil
}

// PseudoInverse returns A⁺ = V·diag(1/s)·Uᵀ with the same thresholding rule as
// Solve.
func (d *SVD) PseudoInverse(thresh float64) *mat.Dense {
	if d.n == 0 {
		return &mat.Dense{}
	}
	thresh = d.threshold(thresh)

	inv := mat.NewDense(d.n, d.n, nil)
	for i := 0; i < d.n; i++ {
		for j := 0; j < d.n; j++ {
			sum := 0.0
			for k := 0; k < d.n; k++ {
				if d.s[k] > thresh {
					sum += d.v[i][k] * d.u[j][k] / d.s[k]
				}
			}
			inv.Set(i, j, sum)
		}
	}
	return inv
}

func (d *SVD) threshold(thresh float64) float64 {
	if thresh > 0 {
		return thresh
	}
	return d.DefaultThreshold()
}

// reorder sorts singular values descending, keeping decomposition order for
// ties, and flips each (u, v) pair so most of its components are non-negative.
func (d *SVD) reorder() {
	n := d.n
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return d.s[idx[a]] > d.s[idx[b]] })

	s := make([]float64, n)
	u := newSquare(n)
	v := newSquare(n)
	for k, src := range idx {
		s[k] = d.s[src]
		for i := 0; i < n; i++ {
			u[i][k] = d.u[i][src]
			v[i][k] = d.v[i][src]
		}
	}

	for k := 0; k < n; k++ {
		neg := 0
		for i := 0; i < n; i++ {
			if u[i][k] < 0 {
				neg++
			}
			if v[i][k] < 0 {
				neg++
			}
		}
		if neg > n {
			for i := 0; i < n; i++ {
				u[i][k] = -u[i][k]
				v[i][k] = -v[i][k]
			}
		}
	}
	d.s, d.u, d.v = s, u, v
}

var epsilon = math.Nextafter(1, 2) - 1

func newSquare(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}

func toDense(a [][]float64, n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, a[i][j])
		}
	}
	return out
}

// golubReinsch reduces a (m×n, overwritten with U) to bidiagonal form by
// Householder reflections and diagonalises it with implicitly shifted QR
// sweeps. It returns the unsorted singular values and V.
func golubReinsch(a [][]float64, m, n int) ([]float64, [][]float64, bool) {
	w := make([]float64, n)
	v := newSquare(n)
	rv1 := make([]float64, n)
	converged := true

	var g, scale, anorm float64
	l := 0
	for i := 0; i < n; i++ {
		l = i + 1
		rv1[i] = scale * g
		g, scale = 0, 0
		s := 0.0
		if i < m {
			for k := i; k < m; k++ {
				scale += math.Abs(a[k][i])
			}
			if scale != 0 {
				for k := i; k < m; k++ {
					a[k][i] /= scale
					s += a[k][i] * a[k][i]
				}
				f := a[i][i]
				g = -math.Copysign(math.Sqrt(s), f)
				h := f*g - s
				a[i][i] = f - g
				for j := l; j < n; j++ {
					s = 0
					for k := i; k < m; k++ {
						s += a[k][i] * a[k][j]
					}
					f = s / h
					for k := i; k < m; k++ {
						a[k][j] += f * a[k][i]
					}
				}
				for k := i; k < m; k++ {
					a[k][i] *= scale
				}
			}
		}
		w[i] = scale * g

		g, scale = 0, 0
		s = 0
		if i < m && i != n-1 {
			for k := l; k < n; k++ {
				scale += math.Abs(a[i][k])
			}
			if scale != 0 {
				for k := l; k < n; k++ {
					a[i][k] /= scale
					s += a[i][k] * a[i][k]
				}
				f := a[i][l]
				g = -math.Copysign(math.Sqrt(s), f)
				h := f*g - s
				a[i][l] = f - g
				for k := l; k < n; k++ {
					rv1[k] = a[i][k] / h
				}
				for j := l; j < m; j++ {
					s = 0
					for k := l; k < n; k++ {
						s += a[j][k] * a[i][k]
					}
					for k := l; k < n; k++ {
						a[j][k] += s * rv1[k]
					}
				}
				for k := l; k < n; k++ {
					a[i][k] *= scale
				}
			}
		}
		anorm = math.Max(anorm, math.Abs(w[i])+math.Abs(rv1[i]))
	}

	// Right-hand transformations.
	for i := n - 1; i >= 0; i-- {
		if i < n-1 {
			if g != 0 {
				for j := l; j < n; j++ {
					v[j][i] = (a[i][j] / a[i][l]) / g
				}
				for j := l; j < n; j++ {
					s := 0.0
					for k := l; k < n; k++ {
						s += a[i][k] * v[k][j]
					}
					for k := l; k < n; k++ {
						v[k][j] += s * v[k][i]
					}
				}
			}
			for j := l; j < n; j++ {
				v[i][j] = 0
				v[j][i] = 0
			}
		}
		v[i][i] = 1
		g = rv1[i]
		l = i
	}

	// Left-hand transformations.
	for i := min(m, n) - 1; i >= 0; i-- {
		l = i + 1
		g = w[i]
		for j := l; j < n; j++ {
			a[i][j] = 0
		}
		if g != 0 {
			g = 1 / g
			for j := l; j < n; j++ {
				s := 0.0
				for k := l; k < m; k++ {
					s += a[k][i] * a[k][j]
				}
				f := (s / a[i][i]) * g
				for k := i; k < m; k++ {
					a[k][j] += f * a[k][i]
				}
			}
			for j := i; j < m; j++ {
				a[j][i] *= g
			}
		} else {
			for j := i; j < m; j++ {
				a[j][i] = 0
			}
		}
		a[i][i]++
	}

	// Diagonalisation of the bidiagonal form.
	for k := n - 1; k >= 0; k-- {
		for its := 1; ; its++ {
			split := true
			nm := 0
			for l = k; l >= 0; l-- {
				nm = l - 1
				if math.Abs(rv1[l])+anorm == anorm {
					split = false
					break
				}
				if math.Abs(w[nm])+anorm == anorm {
					break
				}
			}
			if split {
				c, s := 0.0, 1.0
				for i := l; i <= k; i++ {
					f := s * rv1[i]
					rv1[i] = c * rv1[i]
					if math.Abs(f)+anorm == anorm {
						break
					}
					g = w[i]
					h := math.Hypot(f, g)
					w[i] = h
					h = 1 / h
					c = g * h
					s = -f * h
					for j := 0; j < m; j++ {
						y := a[j][nm]
						z := a[j][i]
						a[j][nm] = y*c + z*s
						a[j][i] = z*c - y*s
					}
				}
			}

			z := w[k]
			if l == k {
				if z < 0 {
					w[k] = -z
					for j := 0; j < n; j++ {
						v[j][k] = -v[j][k]
					}
				}
				break
			}
			if its == MaxSweeps {
				log.Warnw("svd did not converge, keeping best approximation",
					"singular_value", k, "sweeps", its, "residual", rv1[k])
				converged = false
				if w[k] < 0 {
					w[k] = -w[k]
					for j := 0; j < n; j++ {
						v[j][k] = -v[j][k]
					}
				}
				break
			}

			x := w[l]
			nm = k - 1
			y := w[nm]
			g = rv1[nm]
			h := rv1[k]
			f := ((y-z)*(y+z) + (g-h)*(g+h)) / (2 * h * y)
			g = math.Hypot(f, 1)
			f = ((x-z)*(x+z) + h*((y/(f+math.Copysign(g, f)))-h)) / x
			c, s := 1.0, 1.0
			for j := l; j <= nm; j++ {
				i := j + 1
				g = rv1[i]
				y = w[i]
				h = s * g
				g = c * g
				z = math.Hypot(f, h)
				rv1[j] = z
				c = f / z
				s = h / z
				f = x*c + g*s
				g = g*c - x*s
				h = y * s
				y *= c
				for jj := 0; jj < n; jj++ {
					x = v[jj][j]
					z = v[jj][i]
					v[jj][j] = x*c + z*s
					v[jj][i] = z*c - x*s
				}
				z = math.Hypot(f, h)
				w[j] = z
				if z != 0 {
					z = 1 / z
					c = f * z
					s = h * z
				}
				f = c*g + s*y
				x = c*y - s*g
				for jj := 0; jj < m; jj++ {
					y = a[jj][j]
					z = a[jj][i]
					a[jj][j] = y*c + z*s
					a[jj][i] = z*c - y*s
				}
			}
			rv1[l] = 0
			rv1[k] = f
			w[k] = x
		}
	}
	return w, v, converged
}
