package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// RelaySampleRate is the PCM16 mono rate the upstream realtime service
// expects and produces.
const RelaySampleRate = 24000

var ErrUnsupportedWAV = errors.New("unsupported wav")

// Clip is mono little-endian PCM16 audio.
type Clip struct {
	PCM        []byte
	SampleRate int
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.PCM)/2) / float64(c.SampleRate)
}

// DecodeWAV reads a PCM16 WAV container. Multi-channel audio is downmixed to
// mono by averaging channels.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrUnsupportedWAV)
	}

	var (
		haveFmt    bool
		format     uint16
		channels   uint16
		sampleRate int
		bits       uint16
		pcm        []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return Clip{}, fmt.Errorf("%w: chunk %q overruns file", ErrUnsupportedWAV, id)
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			format = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bits = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcm = chunk
		}
		off += size + size%2
	}

	switch {
	case !haveFmt:
		return Clip{}, fmt.Errorf("%w: fmt chunk missing", ErrUnsupportedWAV)
	case len(pcm) == 0:
		return Clip{}, fmt.Errorf("%w: data chunk missing", ErrUnsupportedWAV)
	case format != 1:
		return Clip{}, fmt.Errorf("%w: audio format %d is not PCM", ErrUnsupportedWAV, format)
	case bits != 16:
		return Clip{}, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, bits)
	case channels == 0:
		return Clip{}, fmt.Errorf("%w: zero channels", ErrUnsupportedWAV)
	}
	if sampleRate <= 0 {
		sampleRate = RelaySampleRate
	}

	frame := int(channels) * 2
	frames := len(pcm) / frame
	if channels == 1 {
		return Clip{PCM: append([]byte(nil), pcm[:frames*2]...), SampleRate: sampleRate}, nil
	}
	mono := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < int(channels); ch++ {
			at := i*frame + ch*2
			sum += int(int16(binary.LittleEndian.Uint16(pcm[at : at+2])))
		}
		binary.LittleEndian.PutUint16(mono[i*2:], uint16(int16(sum/int(channels))))
	}
	return Clip{PCM: mono, SampleRate: sampleRate}, nil
}

// Resample converts the clip to rate with linear interpolation.
func (c Clip) Resample(rate int) Clip {
	if rate <= 0 || c.SampleRate == rate {
		return c
	}
	if c.SampleRate <= 0 || len(c.PCM) < 2 {
		return Clip{PCM: c.PCM, SampleRate: rate}
	}
	in := len(c.PCM) / 2
	out := int(int64(in) * int64(rate) / int64(c.SampleRate))
	if out == 0 {
		return Clip{SampleRate: rate}
	}
	sample := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(c.PCM[i*2:])))
	}
	pcm := make([]byte, out*2)
	step := float64(c.SampleRate) / float64(rate)
	for i := 0; i < out; i++ {
		pos := float64(i) * step
		lo := int(pos)
		if lo >= in-1 {
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(sample(in-1))))
			continue
		}
		frac := pos - float64(lo)
		v := sample(lo)*(1-frac) + sample(lo+1)*frac
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	return Clip{PCM: pcm, SampleRate: rate}
}

// Silence returns d seconds of zeroed PCM16 at rate.
func Silence(rate int, seconds float64) []byte {
	n := int(float64(rate)*seconds) * 2
	if n < 0 {
		n = 0
	}
	return make([]byte, n)
}

// EncodeWAV wraps mono PCM16 in a WAV container.
func EncodeWAV(c Clip) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVFile writes the clip to path as a WAV file.
func WriteWAVFile(path string, c Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, c); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func WriteWAV(out io.Writer, c Clip) error {
	rate := c.SampleRate
	if rate <= 0 {
		rate = RelaySampleRate
	}
	w := bufio.NewWriter(out)
	header := []any{
		[]byte("RIFF"), uint32(36 + len(c.PCM)), []byte("WAVE"),
		[]byte("fmt "), uint32(16), uint16(1), uint16(1), uint32(rate), uint32(rate * 2), uint16(2), uint16(16),
		[]byte("data"), uint32(len(c.PCM)),
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	if _, err := w.Write(c.PCM); err != nil {
		return err
	}
	return w.Flush()
}
