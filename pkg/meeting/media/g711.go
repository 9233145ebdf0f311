package media

import (
	"github.com/pion/webrtc/v4"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/core"
)

// Encoder turns PCM16LE frames into track payloads. Implementations are
// stateless per frame so a single encoder may serve many streams.
type Encoder interface {
	// Encode converts one frame of little-endian 16-bit PCM.
	Encode(pcm []byte) []byte

	// Capability describes the codec for track negotiation.
	Capability() webrtc.RTPCodecCapability
}

const ulawRate = 8000

// G711Encoder encodes mono PCM16LE to G.711 µ-law (PCMU). Input sampled
// above 8 kHz is decimated to the codec rate, so the source rate must be a
// whole multiple of 8000.
type G711Encoder struct {
	factor int
}

// NewG711Encoder returns an encoder for mono PCM at the given sample rate.
func NewG711Encoder(sampleRate int) (*G711Encoder, error) {
	if sampleRate < ulawRate || sampleRate%ulawRate != 0 {
		return nil, core.NewConfigError("sample rate must be a multiple of 8000", "sample_rate")
	}
	return &G711Encoder{factor: sampleRate / ulawRate}, nil
}

// Capability implements Encoder.
func (e *G711Encoder) Capability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypePCMU,
		ClockRate: ulawRate,
		Channels:  1,
	}
}

// Encode implements Encoder. Trailing odd bytes are ignored.
func (e *G711Encoder) Encode(pcm []byte) []byte {
	step := e.factor * 2
	out := make([]byte, 0, len(pcm)/step+1)
	for i := 0; i+1 < len(pcm); i += step {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		out = append(out, encodeULaw(sample))
	}
	return out
}

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// encodeULaw compresses one linear sample per ITU-T G.711.
func encodeULaw(sample int16) byte {
	sign := byte(0)
	v := int32(sample)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias

	exponent := byte(7)
	for mask := int32(0x4000); mask != 0 && v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((v >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}
