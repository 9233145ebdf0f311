package media

import "math"

// RMSLevel returns the root-mean-square energy of PCM16LE audio,
// normalized to [0, 1]. Empty or odd-length input yields 0.
func RMSLevel(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	samples := len(pcm) / 2
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}

// PeakLevel returns the largest absolute sample value of PCM16LE audio,
// normalized to [0, 1].
func PeakLevel(pcm []byte) float64 {
	var peak float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		v := math.Abs(float64(sample) / 32768.0)
		if v > peak {
			peak = v
		}
	}
	return peak
}
