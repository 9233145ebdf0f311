package media

import "testing"

func TestEncodeULaw_KnownValues(t *testing.T) {
	tests := []struct {
		name   string
		sample int16
		want   byte
	}{
		{name: "zero", sample: 0, want: 0xFF},
		{name: "max positive", sample: 32767, want: 0x80},
		{name: "max negative", sample: -32768, want: 0x00},
		{name: "mid positive", sample: 1000, want: 0xCE},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := encodeULaw(tt.sample); got != tt.want {
				t.Errorf("encodeULaw(%d) = 0x%02X, want 0x%02X", tt.sample, got, tt.want)
			}
		})
	}
}

func TestG711Encoder_Decimates(t *testing.T) {
	enc, err := NewG711Encoder(16000)
	if err != nil {
		t.Fatalf("NewG711Encoder: %v", err)
	}
	// 20ms at 16kHz mono = 320 samples = 640 bytes. At 8kHz out that is
	// 160 payload bytes.
	pcm := pcmBytes(make([]int16, 320))
	out := enc.Encode(pcm)
	if len(out) != 160 {
		t.Fatalf("expected 160 encoded bytes, got %d", len(out))
	}
	for i, b := range out {
		if b != 0xFF {
			t.Fatalf("silence should encode to 0xFF, byte %d = 0x%02X", i, b)
		}
	}
}

func TestG711Encoder_NativeRate(t *testing.T) {
	enc, err := NewG711Encoder(8000)
	if err != nil {
		t.Fatalf("NewG711Encoder: %v", err)
	}
	out := enc.Encode(pcmBytes([]int16{0, 32767, -32768}))
	want := []byte{0xFF, 0x80, 0x00}
	if len(out) != len(want) {
		t.Fatalf("expected %d bytes, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("byte %d = 0x%02X, want 0x%02X", i, out[i], want[i])
		}
	}
}

func TestNewG711Encoder_RejectsOddRates(t *testing.T) {
	for _, rate := range []int{0, 4000, 44100, -8000} {
		if _, err := NewG711Encoder(rate); err == nil {
			t.Errorf("expected error for sample rate %d", rate)
		}
	}
}
