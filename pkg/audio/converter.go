package audio

import (
	"bytes"
	"fmt"
	"os/exec"
)

// ConvertMP3ToPCM converts MP3 audio to 16-bit PCM, 8kHz, mono using
// ffmpeg. Synthesized speech arrives as MP3; the media stream wants raw PCM.
func ConvertMP3ToPCM(mp3Data []byte) ([]byte, error) {
	if !hasFFmpeg() {
		return nil, fmt.Errorf("ffmpeg not available - audio conversion requires ffmpeg")
	}

	cmd := exec.Command("ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", "8000",
		"-ac", "1",
		"-",
	)

	cmd.Stdin = bytes.NewReader(mp3Data)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &bytes.Buffer{}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg conversion failed: %w", err)
	}

	return out.Bytes(), nil
}

// ConvertAndChunk converts MP3 to PCM and returns base64-encoded frames
// ready for the media-stream JSON format.
func ConvertAndChunk(mp3Data []byte, chunkSize int) ([]string, error) {
	pcm, err := ConvertMP3ToPCM(mp3Data)
	if err != nil {
		return nil, err
	}

	chunks := ChunkPCM(pcm, chunkSize)
	encoded := make([]string, len(chunks))
	for i, chunk := range chunks {
		encoded[i] = EncodePCMChunkToBase64(chunk)
	}
	return encoded, nil
}

func hasFFmpeg() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}
