package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
)

// DefaultChunkSize is the media-stream frame size in bytes (200ms of
// PCM16 mono at 8kHz).
const DefaultChunkSize = 3200

// ChunkPCM splits PCM audio into frames of chunkSize bytes. The last
// frame may be shorter.
func ChunkPCM(pcm []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var chunks [][]byte
	for i := 0; i < len(pcm); i += chunkSize {
		end := i + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		chunks = append(chunks, pcm[i:end])
	}
	return chunks
}

// EncodePCMChunkToBase64 encodes a PCM frame for the media-stream JSON payload.
func EncodePCMChunkToBase64(chunk []byte) string {
	return base64.StdEncoding.EncodeToString(chunk)
}

// DecodeBase64PCM decodes a base64 media-stream payload to raw PCM bytes.
func DecodeBase64PCM(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}

// WrapPCMInWAV prepends a RIFF/WAVE header to raw PCM16 mono audio so
// transcription uploads can be sent as audio/wav.
func WrapPCMInWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer

	byteRate := sampleRate * 2
	dataLen := uint32(len(pcm))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)

	return buf.Bytes()
}
