package audio

// ResamplePCM16 converts 16-bit mono little-endian PCM between sample rates
// using linear interpolation. Good enough for speech; callers needing
// fidelity should capture at the target rate directly.
func ResamplePCM16(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(pcm) < 2 {
		return pcm
	}

	inSamples := len(pcm) / 2
	outSamples := int(int64(inSamples) * int64(toRate) / int64(fromRate))
	if outSamples == 0 {
		return nil
	}

	out := make([]byte, outSamples*2)
	ratio := float64(fromRate) / float64(toRate)
	for i := 0; i < outSamples; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < inSamples {
			s1 = sampleAt(pcm, idx+1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func sampleAt(pcm []byte, idx int) int16 {
	return int16(pcm[idx*2]) | int16(pcm[idx*2+1])<<8
}

const muLawBias = 0x84

// MuLawEncode compresses 16-bit mono little-endian PCM to G.711 mu-law,
// one byte per sample. Used by the peer transport's telephony-grade media
// track.
func MuLawEncode(pcm []byte) []byte {
	out := make([]byte, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		out = append(out, muLawEncodeSample(sample))
	}
	return out
}

func muLawEncodeSample(sample int16) byte {
	sign := byte(0)
	s := int32(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	s += muLawBias
	if s > 0x7FFF {
		s = 0x7FFF
	}

	exponent := byte(7)
	for mask := int32(0x4000); (s&mask) == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (uint(exponent) + 3)) & 0x0F)
	return ^(sign | (exponent << 4) | mantissa)
}
