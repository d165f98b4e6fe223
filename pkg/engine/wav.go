package engine

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// wavAudio is decoded 16-bit PCM, mono-mixed.
type wavAudio struct {
	samples    []float64 // normalized to [-1, 1]
	sampleRate int
}

func (w *wavAudio) durationMS() int {
	if w.sampleRate == 0 {
		return 0
	}
	return len(w.samples) * 1000 / w.sampleRate
}

// sampleAt converts a millisecond offset to a sample index, clamped.
func (w *wavAudio) sampleAt(ms int) int {
	idx := ms * w.sampleRate / 1000
	if idx < 0 {
		return 0
	}
	if idx > len(w.samples) {
		return len(w.samples)
	}
	return idx
}

// readWAV decodes a PCM WAV file. Multichannel input is averaged down to
// mono; only 16-bit PCM is supported, which is what the preprocessor
// produces.
func readWAV(path string) (*wavAudio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file: %s", path)
	}

	var (
		numChannels   int
		sampleRate    int
		bitsPerSample int
		pcm           []byte
	)

	// Walk the chunk list; fmt and data are the only chunks we need.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}
		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("short fmt chunk in %s", path)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, fmt.Errorf("unsupported wav format %d in %s", format, path)
			}
			numChannels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+chunkSize]
		}
		// Chunks are word-aligned.
		offset = body + chunkSize + chunkSize%2
	}

	if sampleRate == 0 || pcm == nil {
		return nil, fmt.Errorf("missing fmt or data chunk in %s", path)
	}
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d in %s", bitsPerSample, path)
	}
	if numChannels < 1 {
		numChannels = 1
	}

	frameSize := 2 * numChannels
	frames := len(pcm) / frameSize
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < numChannels; ch++ {
			off := i*frameSize + ch*2
			s := int16(binary.LittleEndian.Uint16(pcm[off : off+2]))
			sum += float64(s) / 32768.0
		}
		samples[i] = sum / float64(numChannels)
	}
	return &wavAudio{samples: samples, sampleRate: sampleRate}, nil
}

// writeWAV encodes normalized mono samples as 16-bit PCM.
func writeWAV(path string, samples []float64, sampleRate int) error {
	dataSize := len(samples) * 2
	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range samples {
		v := math.Round(s * 32767)
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(buf[44+i*2:46+i*2], uint16(int16(v)))
	}
	return os.WriteFile(path, buf, 0o644)
}
