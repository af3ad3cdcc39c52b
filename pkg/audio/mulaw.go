package audio

// DecodeMuLawToPCM16 converts G.711 mu-law (8-bit samples at 8kHz) to
// 16-bit signed little-endian PCM per ITU-T G.711.
func DecodeMuLawToPCM16(muLaw []byte) []byte {
	if len(muLaw) == 0 {
		return nil
	}

	samples := make([]int16, len(muLaw))
	for i, mu := range muLaw {
		// mu-law stores samples bit-inverted
		mu = ^mu

		sign := mu & 0x80
		exponent := (mu & 0x70) >> 4
		mantissa := mu & 0x0F

		var linear int16
		if exponent == 0 {
			linear = int16(33 + 2*mantissa)
		} else {
			linear = int16((33 + 2*int(mantissa)) << (exponent - 1))
			linear -= 33
		}

		if sign == 0 {
			linear = -linear
		}
		samples[i] = linear
	}

	return samplesToBytes(samples)
}
