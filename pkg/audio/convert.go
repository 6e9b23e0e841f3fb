package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "16000Hz/1ch".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// Downmix folds interleaved multi-channel PCM into mono. Each output sample is
// the arithmetic mean of the channel samples at that index, rounded to the
// nearest integer with halves rounding up. Mono input (channels <= 1) is
// returned unchanged without copying. A trailing partial sample group is
// ignored.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	perChannel := len(samples) / channels
	out := make([]int16, perChannel)
	for i := range perChannel {
		var sum int64
		base := i * channels
		for ch := range channels {
			sum += int64(samples[base+ch])
		}
		out[i] = int16(math.Floor(float64(sum)/float64(channels) + 0.5))
	}
	return out
}

// DecodePCM16 converts little-endian 16-bit PCM bytes into samples. A trailing
// odd byte is ignored.
func DecodePCM16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// EncodePCM16 converts samples into little-endian 16-bit PCM bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// EncodeWAV wraps 16-bit PCM samples in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	dataSize := uint32(len(samples) * 2)
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)

	var buf bytes.Buffer
	buf.Grow(44 + int(dataSize))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16)) // PCM sub-chunk size
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))  // PCM format
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(EncodePCM16(samples))
	return buf.Bytes()
}

// FullScale is the magnitude of the most negative int16 sample. [RMS]
// divides by it; multiply an [RMS] result by it to get sample units.
const FullScale = 32768.0

// RMS returns the root-mean-square amplitude of samples normalised to [0, 1].
// Returns 0 for empty input.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / FullScale
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
