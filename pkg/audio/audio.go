// Package audio loads mono waveforms from audio files and writes WAV output.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	resampling "github.com/tphakala/go-audio-resampling"
)

// LoadAudioMono loads an audio file and returns mono samples in [-1, 1] and
// the sample rate.
func LoadAudioMono(path string) ([]float64, int, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".mp3":
		return loadMP3Mono(path)
	case ".wav":
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()
		return DecodeWAV(f)
	default:
		return nil, 0, fmt.Errorf("unsupported audio format: %s", ext)
	}
}

// IsSupported reports whether LoadAudioMono can read files with this extension.
func IsSupported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".mp3", ".wav":
		return true
	default:
		return false
	}
}

// DecodeWAV reads an integer PCM WAV stream and mixes all channels to mono.
func DecodeWAV(r io.ReadSeeker) ([]float64, int, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, 0, errors.New("invalid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("could not read PCM buffer: %w", err)
	}

	bitDepth := int(buf.SourceBitDepth)
	if bitDepth == 0 {
		bitDepth = int(decoder.BitDepth)
	}
	channels := max(1, buf.Format.NumChannels)
	scale := math.Exp2(float64(bitDepth - 1))

	samples := make([]float64, len(buf.Data)/channels)
	for i := range samples {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		samples[i] = sum / float64(channels) / scale
	}
	return samples, buf.Format.SampleRate, nil
}

// WriteWAV writes mono samples as 16-bit PCM.
func WriteWAV(path string, samples []float64, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := EncodeWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// EncodeWAV encodes mono samples as 16-bit PCM, clipping to [-1, 1].
func EncodeWAV(w io.WriteSeeker, samples []float64, sampleRate int) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		data[i] = int(math.Round(s * 32767))
	}

	encoder := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("write PCM: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("finalize WAV: %w", err)
	}
	return nil
}

// Resample converts samples between rates. Matching rates return the input.
func Resample(samples []float64, from, to int) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", from, to)
	}
	if from == to {
		return samples, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	out, err := r.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	return out, nil
}

// Additional samples that go-mp3 produces compared to a browser's decoder.
const goMP3DecoderDelay = 924

// Default encoder delay if we can't read it from the LAME header
const defaultEncoderDelay = 576

// readLAMEEncoderDelay reads the encoder delay from the first 4KB of the file.
func readLAMEEncoderDelay(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return defaultEncoderDelay
	}
	defer f.Close()

	buf := make([]byte, 4096)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return defaultEncoderDelay
	}
	return parseLAMEEncoderDelay(buf[:n])
}

// parseLAMEEncoderDelay finds the LAME tag in a Xing/Info header. The delay
// is the upper 12 bits of the 24-bit field 21 bytes after "LAME".
func parseLAMEEncoderDelay(buf []byte) int {
	if len(buf) < 200 {
		return defaultEncoderDelay
	}
	lameIdx := bytes.Index(buf, []byte("LAME"))
	if lameIdx == -1 {
		return defaultEncoderDelay
	}
	delayOffset := lameIdx + 21
	if delayOffset+3 > len(buf) {
		return defaultEncoderDelay
	}

	b := buf[delayOffset : delayOffset+3]
	delay := (int(b[0]) << 4) | (int(b[1]) >> 4)
	if delay > 4096 {
		return defaultEncoderDelay
	}
	return delay
}

// loadMP3Mono decodes an MP3 file to mono and drops the encoder and decoder
// delay so sample 0 lines up with the start of the audio.
func loadMP3Mono(path string) ([]float64, int, error) {
	totalDelay := readLAMEEncoderDelay(path) + goMP3DecoderDelay

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	// 16-bit signed stereo interleaved
	pcmData, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode MP3: %w", err)
	}

	samples := make([]float64, len(pcmData)/4)
	for i := range samples {
		offset := i * 4
		left := int16(binary.LittleEndian.Uint16(pcmData[offset:]))
		right := int16(binary.LittleEndian.Uint16(pcmData[offset+2:]))
		samples[i] = (float64(left) + float64(right)) / 2 / 32768
	}

	if len(samples) > totalDelay {
		samples = samples[totalDelay:]
	}
	return samples, decoder.SampleRate(), nil
}
