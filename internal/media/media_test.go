package media

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestLoadSources(t *testing.T) {
	payload := []byte("RIFF-ish payload")
	path := filepath.Join(t.TempDir(), "clip.bin")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	b64 := base64.StdEncoding.EncodeToString(payload)
	for name, src := range map[string]Source{
		"path":     {Path: path},
		"bytes":    {Data: payload},
		"base64":   {Base64: b64},
		"data uri": {Base64: "data:application/octet-stream;base64," + b64},
		"url":      {Base64: base64.RawURLEncoding.EncodeToString(payload)},
	} {
		got, err := Load(src)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("%s: got %q", name, got)
		}
	}

	if _, err := Load(Source{}); !errors.Is(err, ErrEmpty) {
		t.Fatalf("want ErrEmpty, got %v", err)
	}
	if _, err := Load(Source{Path: path, Data: payload}); err == nil {
		t.Fatalf("want error for two sources")
	}
	if _, err := Load(Source{Path: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatalf("want error for missing file")
	}
	if _, err := Load(Source{Base64: "!!!not base64"}); err == nil {
		t.Fatalf("want error for bad base64")
	}
}

func TestDetectFormats(t *testing.T) {
	if got := DetectImageFormat(pngBytes(t, 1, 1, color.White)); got != "png" {
		t.Fatalf("png detected as %q", got)
	}
	if got := DetectImageFormat([]byte("RIFF\x00\x00\x00\x00WEBPVP8 ")); got != "webp" {
		t.Fatalf("webp detected as %q", got)
	}
	if got := DetectImageFormat([]byte("hello")); got != "" {
		t.Fatalf("text detected as %q", got)
	}
	if got := DetectAudioFormat(wavBytes(t, 16000, 1, []int16{0})); got != "wav" {
		t.Fatalf("wav detected as %q", got)
	}
	if got := DetectAudioFormat([]byte("fLaC....")); got != "flac" {
		t.Fatalf("flac detected as %q", got)
	}
}

func TestDecodeImageFlattensAlphaAndScales(t *testing.T) {
	b := pngBytes(t, 40, 10, color.NRGBA{R: 255, A: 0})
	img, err := DecodeImage(b, 20)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Width != 20 || img.Height != 5 {
		t.Fatalf("size %dx%d, want 20x5", img.Width, img.Height)
	}
	if len(img.RGB) != 20*5*3 {
		t.Fatalf("rgb length %d", len(img.RGB))
	}
	// fully transparent pixels composite to white
	if img.RGB[0] != 255 || img.RGB[1] != 255 || img.RGB[2] != 255 {
		t.Fatalf("first pixel %v", img.RGB[:3])
	}

	small, err := DecodeImage(pngBytes(t, 3, 2, color.NRGBA{G: 200, A: 255}), 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if small.Width != 3 || small.Height != 2 || small.RGB[1] != 200 {
		t.Fatalf("unexpected small image %+v", small)
	}

	if _, err := DecodeImage([]byte("nope"), 0); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("want ErrUnknownFormat, got %v", err)
	}
}

func wavBytes(t *testing.T, rate, channels int, samples []int16) []byte {
	t.Helper()
	var data bytes.Buffer
	for _, s := range samples {
		_ = binary.Write(&data, binary.LittleEndian, s)
	}
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+data.Len()))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate*channels*2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels*2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(data.Len()))
	b.Write(data.Bytes())
	return b.Bytes()
}

func TestDecodeWAVStereo(t *testing.T) {
	a, err := DecodeWAV(wavBytes(t, 22050, 2, []int16{16384, 0, -32768, -32768, 0}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.SampleRate != 22050 {
		t.Fatalf("rate %d", a.SampleRate)
	}
	want := []float32{0.25, -1}
	if diff := cmp.Diff(want, a.Samples, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Fatalf("samples mismatch (-want +got):\n%s", diff)
	}

	if _, err := DecodeWAV([]byte("RIFF\x00\x00\x00\x00WAVE")); err == nil {
		t.Fatalf("want error for missing data chunk")
	}
	if _, err := DecodeAudio([]byte("OggS....")); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("ogg: want ErrUnknownFormat, got %v", err)
	}
}

func TestResample(t *testing.T) {
	in := []float32{0, 1, 0, -1}
	if got := Resample(in, 16000, 16000); len(got) != 4 {
		t.Fatalf("same rate changed length to %d", len(got))
	}
	down := Resample(in, 32000, 16000)
	if diff := cmp.Diff([]float32{0, 0}, down); diff != "" {
		t.Fatalf("downsample (-want +got):\n%s", diff)
	}
	up := Resample([]float32{0, 1}, 8000, 16000)
	if diff := cmp.Diff([]float32{0, 0.5, 1, 1}, up); diff != "" {
		t.Fatalf("upsample (-want +got):\n%s", diff)
	}
}

func TestValidatePCM(t *testing.T) {
	for _, tc := range []struct {
		rate, ch int
		ok       bool
	}{
		{16000, 1, true},
		{384000, 8, true},
		{0, 1, false},
		{384001, 1, false},
		{16000, 0, false},
		{16000, 9, false},
	} {
		if err := ValidatePCM(tc.rate, tc.ch); (err == nil) != tc.ok {
			t.Errorf("ValidatePCM(%d, %d) = %v", tc.rate, tc.ch, err)
		}
	}
	if _, err := Downmix([]float32{1, 2, 3}, 9); err == nil {
		t.Fatalf("want channel error")
	}
}
