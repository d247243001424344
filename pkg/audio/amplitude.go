package audio

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Bins is the number of magnitude bins returned by [Spectrum].
const Bins = FFTSize / 2

// Spectrum computes [Bins] normalised magnitude bins from a Hann-windowed
// real FFT over samples. Inputs shorter than [FFTSize] are zero-padded at the
// front; longer inputs use the trailing [FFTSize] samples. Every bin is in
// [0, 1]. Silence yields all zeros.
//
// The result is for visualisation only.
func Spectrum(samples []int16) []float64 {
	if len(samples) > FFTSize {
		samples = samples[len(samples)-FFTSize:]
	}
	seq := make([]float64, FFTSize)
	off := FFTSize - len(samples)
	for i, s := range samples {
		seq[off+i] = float64(s) / 32768.0
	}
	window.Hann(seq)

	fft := fourier.NewFFT(FFTSize)
	coeffs := fft.Coefficients(nil, seq)

	out := make([]float64, Bins)
	// A full-scale sine under a Hann window peaks near N/4.
	const scale = FFTSize / 4.0
	for i := range out {
		m := cmplx.Abs(coeffs[i]) / scale
		if m > 1 {
			m = 1
		}
		out[i] = m
	}
	return out
}
