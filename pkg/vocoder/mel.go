package vocoder

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// hzToMel converts frequency in Hz to mel scale (HTK formula, natural log).
func hzToMel(hz float64) float64 {
	return 1127 * math.Log(1+hz/700)
}

// melToHz converts mel scale back to Hz.
func melToHz(mel float64) float64 {
	return 700 * (math.Exp(mel/1127) - 1)
}

// MelBasis projects per-frame spectral vectors onto dim triangular filters
// uniformly spaced on the mel axis, and back through the Moore-Penrose
// pseudo-inverse. A MelBasis is immutable and safe for concurrent use.
type MelBasis struct {
	SampleRate int
	FFTLength  int
	Dim        int

	centers []int
	basis   *mat.Dense // bins x dim
	pinv    *mat.Dense // dim x bins
}

// NewMelBasis builds the basis for a transform of fftLength at sampleRate.
// dim must lie in [2, fftLength/2+1]; dim equal to the bin count yields the
// identity projection.
func NewMelBasis(sampleRate, fftLength, dim int) (*MelBasis, error) {
	bins := fftLength/2 + 1
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, sampleRate)
	}
	if dim < 2 || dim > bins {
		return nil, fmt.Errorf("%w: mel dimension %d outside [2, %d]", ErrInvalidDimension, dim, bins)
	}

	b := &MelBasis{
		SampleRate: sampleRate,
		FFTLength:  fftLength,
		Dim:        dim,
		centers:    melCenters(sampleRate, bins, dim),
	}
	if dim == bins {
		return b, nil
	}

	b.basis = triangularBasis(b.centers, bins)
	pinv, err := pseudoInverse(b.basis)
	if err != nil {
		return nil, err
	}
	b.pinv = pinv
	return b, nil
}

// Bins returns the number of spectral bins the basis maps from.
func (b *MelBasis) Bins() int { return b.FFTLength/2 + 1 }

// Identity reports whether the projection is a no-op.
func (b *MelBasis) Identity() bool { return b.basis == nil }

// Centers returns the bin index of each filter peak.
func (b *MelBasis) Centers() []int { return append([]int(nil), b.centers...) }

// Basis returns the bins x dim filter matrix.
func (b *MelBasis) Basis() mat.Matrix {
	if b.Identity() {
		return identity(b.Dim)
	}
	return b.basis
}

// PseudoInverse returns the dim x bins decompression matrix.
func (b *MelBasis) PseudoInverse() mat.Matrix {
	if b.Identity() {
		return identity(b.Dim)
	}
	return b.pinv
}

// Compress maps a bins-long vector to dim coefficients.
func (b *MelBasis) Compress(dst, v []float64) []float64 {
	dst = resize(dst, b.Dim)
	if b.Identity() {
		copy(dst, v)
		return dst
	}
	out := mat.NewVecDense(b.Dim, dst)
	out.MulVec(b.basis.T(), mat.NewVecDense(len(v), v))
	return dst
}

// Decompress maps dim coefficients back to a bins-long vector.
func (b *MelBasis) Decompress(dst, c []float64) []float64 {
	bins := b.Bins()
	dst = resize(dst, bins)
	if b.Identity() {
		copy(dst, c)
		return dst
	}
	out := mat.NewVecDense(bins, dst)
	out.MulVec(b.pinv.T(), mat.NewVecDense(len(c), c))
	return dst
}

// melCenters places dim knots uniformly on the mel axis between 0 Hz and
// Nyquist, rounded to bins. Knots are forced at least one bin apart going
// up, then the last is pinned to Nyquist and the rest pushed back down.
func melCenters(sampleRate, bins, dim int) []int {
	nyquist := float64(sampleRate) / 2
	melMax := hzToMel(nyquist)

	p := make([]int, dim)
	for j := range p {
		hz := melToHz(float64(j) * melMax / float64(dim-1))
		p[j] = int(math.Round(hz / nyquist * float64(bins-1)))
	}
	p[0] = 0
	for j := 1; j < dim; j++ {
		p[j] = max(p[j], p[j-1]+1)
	}
	p[dim-1] = bins - 1
	for j := dim - 2; j >= 0; j-- {
		p[j] = min(p[j], p[j+1]-1)
	}
	return p
}

// triangularBasis builds unit-sum triangular filters peaking at each knot
// and reaching zero at the neighbouring knots.
func triangularBasis(centers []int, bins int) *mat.Dense {
	dim := len(centers)
	basis := mat.NewDense(bins, dim, nil)
	for j, c := range centers {
		lo, hi := c, c
		if j > 0 {
			lo = centers[j-1]
		}
		if j+1 < dim {
			hi = centers[j+1]
		}

		var sum float64
		for k := lo; k <= hi; k++ {
			var w float64
			switch {
			case k == c:
				w = 1
			case k < c:
				w = float64(k-lo) / float64(c-lo)
			default:
				w = float64(hi-k) / float64(hi-c)
			}
			basis.Set(k, j, w)
			sum += w
		}
		for k := lo; k <= hi; k++ {
			basis.Set(k, j, basis.At(k, j)/sum)
		}
	}
	return basis
}

// pseudoInverse computes V * diag(1/s) * U^T from a thin SVD, dropping
// singular values below 1e-12 of the largest.
func pseudoInverse(a *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, errors.New("vocoder: mel basis SVD did not converge")
	}
	s := svd.Values(nil)

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	tol := 1e-12 * s[0]
	r, c := v.Dims()
	for j := 0; j < c; j++ {
		inv := 0.0
		if s[j] > tol {
			inv = 1 / s[j]
		}
		for i := 0; i < r; i++ {
			v.Set(i, j, v.At(i, j)*inv)
		}
	}

	var pinv mat.Dense
	pinv.Mul(&v, u.T())
	return &pinv, nil
}

func identity(n int) *mat.DiagDense {
	d := make([]float64, n)
	for i := range d {
		d[i] = 1
	}
	return mat.NewDiagDense(n, d)
}

type basisKey struct {
	sampleRate, fftLength, dim int
}

// basisCache shares bases across frames, calls and goroutines.
type basisCache struct {
	mu    sync.Mutex
	bases map[basisKey]*MelBasis
}

func (c *basisCache) get(sampleRate, fftLength, dim int) (*MelBasis, error) {
	key := basisKey{sampleRate, fftLength, dim}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.bases[key]; ok {
		return b, nil
	}
	b, err := NewMelBasis(sampleRate, fftLength, dim)
	if err != nil {
		return nil, err
	}
	if c.bases == nil {
		c.bases = make(map[basisKey]*MelBasis)
	}
	c.bases[key] = b
	return b, nil
}
