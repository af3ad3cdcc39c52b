package audio

// bytesToSamples reinterprets little-endian PCM16 bytes as int16 samples.
func bytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// samplesToBytes serializes int16 samples as little-endian PCM16 bytes.
func samplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

// Resample8kTo16k upsamples 8kHz PCM16 to 16kHz using linear interpolation.
func Resample8kTo16k(pcm8k []byte) []byte {
	if len(pcm8k) == 0 {
		return nil
	}

	in := bytesToSamples(pcm8k)
	out := make([]int16, len(in)*2)

	for i := range in {
		out[i*2] = in[i]
		if i < len(in)-1 {
			out[i*2+1] = int16((int32(in[i]) + int32(in[i+1])) / 2)
		} else {
			out[i*2+1] = in[i]
		}
	}

	return samplesToBytes(out)
}

// Resample16kTo8k downsamples 16kHz PCM16 to 8kHz by decimation.
func Resample16kTo8k(pcm16k []byte) []byte {
	if len(pcm16k) == 0 {
		return nil
	}

	in := bytesToSamples(pcm16k)
	out := make([]int16, len(in)/2)
	for i := range out {
		out[i] = in[i*2]
	}

	return samplesToBytes(out)
}
