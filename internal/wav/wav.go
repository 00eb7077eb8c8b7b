// Package wav reads and rewrites canonical 44-byte PCM WAV containers.
//
// Every buffer handled here is assumed to be a canonical RIFF/WAVE file: a
// 12-byte RIFF header, a 16-byte fmt chunk and the data chunk header,
// followed by the sample data. Buffers that carry extra chunks (LIST, fact)
// before the data chunk are not supported.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderSize = 44

	riffSizeOffset   = 4
	channelsOffset   = 22
	sampleRateOffset = 24
	bitDepthOffset   = 34
	dataSizeOffset   = 40
)

var (
	// ErrNothingToMerge is returned when Merge receives no buffers.
	ErrNothingToMerge = errors.New("wav: merge requires at least one buffer")
	// ErrShortBuffer is returned for buffers smaller than a canonical header.
	ErrShortBuffer = errors.New("wav: buffer shorter than 44-byte header")
)

// Header holds the fixed-offset fields of a canonical WAV header.
type Header struct {
	RIFFSize      uint32
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataSize      uint32
}

// ParseHeader decodes the fixed-offset header fields of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes", ErrShortBuffer, len(buf))
	}
	return Header{
		RIFFSize:      binary.LittleEndian.Uint32(buf[riffSizeOffset:]),
		NumChannels:   binary.LittleEndian.Uint16(buf[channelsOffset:]),
		SampleRate:    binary.LittleEndian.Uint32(buf[sampleRateOffset:]),
		BitsPerSample: binary.LittleEndian.Uint16(buf[bitDepthOffset:]),
		DataSize:      binary.LittleEndian.Uint32(buf[dataSizeOffset:]),
	}, nil
}

// Seconds returns the playback length implied by the declared data size,
// assuming 16-bit mono samples.
func (h Header) Seconds() float64 {
	if h.SampleRate == 0 {
		return 0
	}
	return float64(h.DataSize) / float64(h.SampleRate) / 2
}

// Seconds parses buf's header and returns its 16-bit mono duration.
func Seconds(buf []byte) (float64, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return 0, err
	}
	return h.Seconds(), nil
}

// Merge concatenates the sample data of buffers behind the header of the
// first one and rewrites the RIFF and data chunk sizes. All buffers must
// share channel count, sample width and sample rate; that is not checked.
// The inputs are never modified.
func Merge(buffers [][]byte) ([]byte, error) {
	if len(buffers) == 0 {
		return nil, ErrNothingToMerge
	}
	total := 0
	for i, b := range buffers {
		if len(b) < HeaderSize {
			return nil, fmt.Errorf("%w: buffer %d has %d bytes", ErrShortBuffer, i, len(b))
		}
		total += len(b) - HeaderSize
	}

	out := make([]byte, HeaderSize, HeaderSize+total)
	copy(out, buffers[0][:HeaderSize])
	for _, b := range buffers {
		out = append(out, b[HeaderSize:]...)
	}
	binary.LittleEndian.PutUint32(out[riffSizeOffset:], uint32(36+total))
	binary.LittleEndian.PutUint32(out[dataSizeOffset:], uint32(total))
	return out, nil
}
