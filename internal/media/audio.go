package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	MaxSampleRate = 384000
	MaxChannels   = 8
)

// Audio is mono float32 PCM in [-1, 1].
type Audio struct {
	Samples    []float32
	SampleRate int
}

// DetectAudioFormat sniffs the container format from magic bytes.
// It returns "" when b is not a recognized audio file.
func DetectAudioFormat(b []byte) string {
	switch {
	case len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE":
		return "wav"
	case bytes.HasPrefix(b, []byte("fLaC")):
		return "flac"
	case bytes.HasPrefix(b, []byte("OggS")):
		return "ogg"
	case bytes.HasPrefix(b, []byte("ID3")), len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		return "mp3"
	}
	return ""
}

// ValidatePCM checks a raw stream configuration.
func ValidatePCM(sampleRate, channels int) error {
	if sampleRate < 1 || sampleRate > MaxSampleRate {
		return fmt.Errorf("media: sample rate %d out of range [1, %d]", sampleRate, MaxSampleRate)
	}
	if channels < 1 || channels > MaxChannels {
		return fmt.Errorf("media: channel count %d out of range [1, %d]", channels, MaxChannels)
	}
	return nil
}

// DecodeAudio decodes a supported audio file. Only WAV is decoded in
// process; other recognized containers report ErrUnknownFormat wrapped with
// their name.
func DecodeAudio(b []byte) (*Audio, error) {
	switch f := DetectAudioFormat(b); f {
	case "wav":
		return DecodeWAV(b)
	case "":
		return nil, ErrUnknownFormat
	default:
		return nil, fmt.Errorf("%w: %s decoding is not supported, convert to WAV", ErrUnknownFormat, f)
	}
}

const (
	wavPCM        = 1
	wavFloat      = 3
	wavExtensible = 0xFFFE
)

// DecodeWAV parses a RIFF/WAVE file and mixes it down to mono. Integer PCM
// of 8, 16, 24 and 32 bits and IEEE float of 32 and 64 bits are supported.
func DecodeWAV(data []byte) (*Audio, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errors.New("media: invalid WAV file")
	}
	var (
		format, channels, bits uint16
		rate                   uint32
		haveFmt                bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if size < 0 || end > len(data) {
			end = len(data)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, errors.New("media: short WAV fmt chunk")
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			rate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			bits = binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format == wavExtensible && end-body >= 26 {
				format = binary.LittleEndian.Uint16(data[body+24 : body+26])
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, errors.New("media: WAV data chunk before fmt chunk")
			}
			if err := ValidatePCM(int(rate), int(channels)); err != nil {
				return nil, err
			}
			samples, err := pcmToFloat(data[body:end], format, bits)
			if err != nil {
				return nil, err
			}
			mono, err := Downmix(samples, int(channels))
			if err != nil {
				return nil, err
			}
			return &Audio{Samples: mono, SampleRate: int(rate)}, nil
		}
		pos = end
		if size%2 == 1 {
			pos++
		}
	}
	return nil, errors.New("media: no WAV data chunk found")
}

func pcmToFloat(b []byte, format, bits uint16) ([]float32, error) {
	width := int(bits) / 8
	if width == 0 || bits%8 != 0 {
		return nil, fmt.Errorf("media: unsupported bit depth %d", bits)
	}
	n := len(b) / width
	out := make([]float32, n)
	switch {
	case format == wavPCM && bits == 8:
		for i := range out {
			out[i] = (float32(b[i]) - 128) / 128
		}
	case format == wavPCM && bits == 16:
		for i := range out {
			out[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768
		}
	case format == wavPCM && bits == 24:
		for i := range out {
			v := int32(uint32(b[i*3]) | uint32(b[i*3+1])<<8 | uint32(b[i*3+2])<<16)
			v = v << 8 >> 8
			out[i] = float32(v) / 8388608
		}
	case format == wavPCM && bits == 32:
		for i := range out {
			out[i] = float32(int32(binary.LittleEndian.Uint32(b[i*4:]))) / 2147483648
		}
	case format == wavFloat && bits == 32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
	case format == wavFloat && bits == 64:
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:])))
		}
	default:
		return nil, fmt.Errorf("media: unsupported WAV encoding (format %d, %d bits)", format, bits)
	}
	return out, nil
}

// Downmix averages interleaved frames into a mono signal. Trailing samples
// that do not fill a frame are dropped.
func Downmix(samples []float32, channels int) ([]float32, error) {
	if channels < 1 || channels > MaxChannels {
		return nil, fmt.Errorf("media: channel count %d out of range [1, %d]", channels, MaxChannels)
	}
	if channels == 1 {
		return samples, nil
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}

// Resample converts samples from one rate to another by linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	ratio := float64(from) / float64(to)
	n := int(float64(len(samples)) / ratio)
	out := make([]float32, n)
	for i := range out {
		src := float64(i) * ratio
		idx := int(src)
		if idx+1 < len(samples) {
			frac := float32(src - float64(idx))
			out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
		} else if idx < len(samples) {
			out[i] = samples[idx]
		}
	}
	return out
}
