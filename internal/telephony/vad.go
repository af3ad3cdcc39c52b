package telephony

// voiceDetector is a per-stream energy-based voice activity detector over
// PCM16 frames. It smooths decisions over consecutive frames so a single
// noisy frame does not flip the speaking state.
type voiceDetector struct {
	energyThreshold int32
	startFrames     int // consecutive voiced frames before speech starts
	endFrames       int // consecutive silent frames before speech ends

	speaking     bool
	voicedRun    int
	silentRun    int
}

func newVoiceDetector() *voiceDetector {
	return &voiceDetector{
		energyThreshold: 500,
		startFrames:     2,
		endFrames:       5,
	}
}

// process consumes one PCM16 frame and reports whether speech started or
// ended on this frame. At most one of the two is true.
func (v *voiceDetector) process(frame []byte) (started, ended bool) {
	voiced := frameEnergy(frame) >= v.energyThreshold

	if voiced {
		v.voicedRun++
		v.silentRun = 0
	} else {
		v.silentRun++
		v.voicedRun = 0
	}

	if !v.speaking && v.voicedRun >= v.startFrames {
		v.speaking = true
		return true, false
	}
	if v.speaking && v.silentRun >= v.endFrames {
		v.speaking = false
		return false, true
	}
	return false, false
}

// frameEnergy returns the mean absolute amplitude of a PCM16 frame.
func frameEnergy(frame []byte) int32 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}

	var sum int64
	for i := 0; i < n; i++ {
		s := int16(frame[i*2]) | int16(frame[i*2+1])<<8
		if s < 0 {
			s = -s
		}
		sum += int64(s)
	}
	return int32(sum / int64(n))
}
