package media

import (
	"math"
	"testing"
)

func pcmBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s & 0xFF)
		pcm[i*2+1] = byte((s >> 8) & 0xFF)
	}
	return pcm
}

func TestRMSLevel(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{
			name:     "silence",
			samples:  []int16{0, 0, 0, 0},
			expected: 0.0,
		},
		{
			name:     "max amplitude",
			samples:  []int16{32767, 32767, 32767, 32767},
			expected: 1.0,
		},
		{
			name:     "half amplitude",
			samples:  []int16{16384, 16384, 16384, 16384},
			expected: 0.5,
		},
		{
			name:     "mixed signal",
			samples:  []int16{16384, -16384, 16384, -16384},
			expected: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RMSLevel(pcmBytes(tt.samples))
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected RMS %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestRMSLevel_Empty(t *testing.T) {
	if got := RMSLevel(nil); got != 0 {
		t.Errorf("expected 0 for empty input, got %f", got)
	}
	if got := RMSLevel([]byte{0x01}); got != 0 {
		t.Errorf("expected 0 for odd-length input, got %f", got)
	}
}

func TestPeakLevel(t *testing.T) {
	pcm := pcmBytes([]int16{100, -16384, 200, 50})
	got := PeakLevel(pcm)
	if math.Abs(got-0.5) > 0.01 {
		t.Errorf("expected peak 0.5, got %f", got)
	}
}
