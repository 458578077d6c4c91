package viseme

import "math"

// Analyser reduces a fixed-size window of audio samples to a single
// mouth-driving amplitude: the peak frequency-domain magnitude inside the
// voice band. Band-limited peak extraction is more robust to background hiss
// than a full-spectrum average.
type Analyser struct {
	sampleRate int
	size       int
	window     []float64 // Hann coefficients
	lowBin     int
	highBin    int
}

// NewAnalyser builds an analyser for the given sample rate, transform size
// (rounded up to a power of two) and voice band in Hz.
func NewAnalyser(sampleRate, size int, lowHz, highHz float64) *Analyser {
	if size < 2 {
		size = 2
	}
	pow := 1
	for pow < size {
		pow <<= 1
	}
	size = pow

	window := make([]float64, size)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}

	binSize := float64(sampleRate) / float64(size)
	lowBin := int(lowHz / binSize)
	highBin := int(highHz / binSize)
	if lowBin < 1 {
		lowBin = 1 // skip DC
	}
	if highBin > size/2-1 {
		highBin = size/2 - 1
	}
	if highBin < lowBin {
		highBin = lowBin
	}

	return &Analyser{
		sampleRate: sampleRate,
		size:       size,
		window:     window,
		lowBin:     lowBin,
		highBin:    highBin,
	}
}

// Size returns the transform size in samples.
func (a *Analyser) Size() int {
	return a.size
}

// BandPeak returns the peak normalized magnitude in the voice band, in
// [0, 1]. A full-scale sine inside the band reads close to 1.
func (a *Analyser) BandPeak(samples []float64) float64 {
	buf := make([]complex128, a.size)

	// Take the most recent window, zero-padded on the left.
	offset := a.size - len(samples)
	if offset < 0 {
		samples = samples[len(samples)-a.size:]
		offset = 0
	}
	for i, s := range samples {
		buf[offset+i] = complex(s*a.window[offset+i], 0)
	}

	fft(buf)

	// 4/size compensates the Hann window's coherent gain so a full-scale
	// sine normalizes to ~1.
	norm := 4.0 / float64(a.size)
	var peak float64
	for k := a.lowBin; k <= a.highBin; k++ {
		mag := cmplxAbs(buf[k]) * norm
		if mag > peak {
			peak = mag
		}
	}

	if peak > 1 {
		peak = 1
	}
	return peak
}

// fft performs an in-place iterative radix-2 transform.
func fft(buf []complex128) {
	n := len(buf)

	// Bit-reversal permutation
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			buf[i], buf[j] = buf[j], buf[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		wl := complex(math.Cos(angle), math.Sin(angle))
		for start := 0; start < n; start += length {
			w := complex(1, 0)
			for i := 0; i < length/2; i++ {
				u := buf[start+i]
				v := buf[start+i+length/2] * w
				buf[start+i] = u + v
				buf[start+i+length/2] = u - v
				w *= wl
			}
		}
	}
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
