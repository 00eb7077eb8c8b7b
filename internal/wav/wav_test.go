package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	gowav "github.com/go-audio/wav"
)

func makeWAV(t *testing.T, data []byte, sampleRate uint32) []byte {
	t.Helper()
	buf := make([]byte, HeaderSize, HeaderSize+len(data))
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(data)))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	binary.LittleEndian.PutUint16(buf[22:], 1)
	binary.LittleEndian.PutUint32(buf[24:], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:], sampleRate*2)
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(data)))
	return append(buf, data...)
}

func TestMergeSumsDataSizes(t *testing.T) {
	a := makeWAV(t, bytes.Repeat([]byte{1}, 100), 24000)
	b := makeWAV(t, bytes.Repeat([]byte{2}, 50), 24000)
	c := makeWAV(t, nil, 24000)

	merged, err := Merge([][]byte{a, b, c})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	h, err := ParseHeader(merged)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if h.DataSize != 150 {
		t.Fatalf("expected data size 150, got %d", h.DataSize)
	}
	if h.RIFFSize != 36+150 {
		t.Fatalf("expected riff size %d, got %d", 36+150, h.RIFFSize)
	}
	if len(merged) != HeaderSize+150 {
		t.Fatalf("expected %d bytes, got %d", HeaderSize+150, len(merged))
	}
	if merged[HeaderSize] != 1 || merged[HeaderSize+100] != 2 {
		t.Fatal("data segments out of order")
	}
}

func TestMergeSingleBufferIsIdentity(t *testing.T) {
	in := makeWAV(t, []byte{9, 8, 7, 6}, 22050)
	out, err := Merge([][]byte{in})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatal("expected single consistent buffer to come back byte-identical")
	}
}

func TestMergeSingleBufferRewritesSizes(t *testing.T) {
	in := makeWAV(t, []byte{1, 2, 3, 4, 5, 6}, 22050)
	binary.LittleEndian.PutUint32(in[4:], 0xffffffff)
	binary.LittleEndian.PutUint32(in[40:], 0)
	orig := append([]byte(nil), in...)

	out, err := Merge([][]byte{in})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	h, _ := ParseHeader(out)
	if h.DataSize != 6 || h.RIFFSize != 42 {
		t.Fatalf("expected sizes to be rewritten, got %+v", h)
	}
	if !bytes.Equal(out[HeaderSize:], in[HeaderSize:]) {
		t.Fatal("sample data changed")
	}
	if !bytes.Equal(in, orig) {
		t.Fatal("input buffer was mutated")
	}
}

func TestMergeRejectsEmptyInput(t *testing.T) {
	if _, err := Merge(nil); !errors.Is(err, ErrNothingToMerge) {
		t.Fatalf("expected ErrNothingToMerge, got %v", err)
	}
}

func TestMergeRejectsShortBuffer(t *testing.T) {
	ok := makeWAV(t, []byte{1, 2}, 24000)
	if _, err := Merge([][]byte{ok, []byte("RIFF")}); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}

func TestHeaderSeconds(t *testing.T) {
	buf := makeWAV(t, make([]byte, 48000), 24000)
	secs, err := Seconds(buf)
	if err != nil {
		t.Fatalf("seconds: %v", err)
	}
	if secs != 1.0 {
		t.Fatalf("expected 1s, got %v", secs)
	}
	if (Header{}).Seconds() != 0 {
		t.Fatal("expected zero sample rate to yield zero seconds")
	}
}

func TestEncodePCM16(t *testing.T) {
	samples := []float32{0, 0.5, 1, -1, 2, -2}
	buf, err := EncodePCM16(samples, 24000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if h.SampleRate != 24000 || h.NumChannels != 1 || h.BitsPerSample != 16 {
		t.Fatalf("unexpected header %+v", h)
	}
	if h.DataSize != uint32(len(samples)*2) || len(buf) != HeaderSize+len(samples)*2 {
		t.Fatalf("unexpected data size %d (len %d)", h.DataSize, len(buf))
	}

	dec := gowav.NewDecoder(bytes.NewReader(buf))
	if !dec.IsValidFile() {
		t.Fatal("encoded buffer is not a valid wav file")
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []int{0, 16384, 32767, -32767, 32767, -32767}
	if len(pcm.Data) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(pcm.Data))
	}
	for i, v := range want {
		if pcm.Data[i] != v {
			t.Fatalf("sample %d: expected %d, got %d", i, v, pcm.Data[i])
		}
	}
}

func TestEncodedSegmentsMergeIntoValidFile(t *testing.T) {
	a, err := EncodePCM16(make([]float32, 240), 24000)
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncodePCM16(make([]float32, 480), 24000)
	if err != nil {
		t.Fatal(err)
	}
	merged, err := Merge([][]byte{a, b})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	dec := gowav.NewDecoder(bytes.NewReader(merged))
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode merged: %v", err)
	}
	if len(pcm.Data) != 720 {
		t.Fatalf("expected 720 samples, got %d", len(pcm.Data))
	}
	secs, _ := Seconds(merged)
	if secs != 0.03 {
		t.Fatalf("expected 0.03s, got %v", secs)
	}
}

func TestEncodeRejectsBadSampleRate(t *testing.T) {
	if _, err := EncodePCM16([]float32{0}, 0); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}
