package captions

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSegmentSentences(t *testing.T) {
	got := Segment("こんにちは。元気ですか？")
	want := []string{"こんにちは。", "元気ですか？"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Segment = %q, want %q", got, want)
	}
}

func TestSegmentPauseMark(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "short chunk keeps going",
			text: "はい、そうです。",
			want: []string{"はい、そうです。"},
		},
		{
			name: "long chunk closes at pause",
			text: "今日はとても良い、天気です。",
			want: []string{"今日はとても良い、", "天気です。"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Segment(tc.text)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Segment(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestSegmentLongRunWithoutParticlesStaysWhole(t *testing.T) {
	got := Segment("あいうえお。かきくけこさしすせそた")
	want := []string{"あいうえお。", "かきくけこさしすせそた"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Segment = %q, want %q", got, want)
	}
}

func TestSegmentSplitsLongRunAtParticles(t *testing.T) {
	text := "私の猫は毎朝庭で鳥を見ています"
	got := Segment(text)
	if len(got) < 2 {
		t.Fatalf("expected long run to be split, got %q", got)
	}
	if strings.Join(got, "") != text {
		t.Fatalf("chunks %q do not reassemble %q", got, text)
	}
	for _, c := range got {
		if n := utf8.RuneCountInString(c); n > MaxChunkChars+2 {
			t.Fatalf("chunk %q has %d characters", c, n)
		}
	}
}

func TestSplitAtParticles(t *testing.T) {
	got := splitAtParticles("私の猫は毎朝庭で鳥を見ています")
	want := []string{"私の猫は毎朝庭で", "鳥を見ています"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitAtParticles = %q, want %q", got, want)
	}
}

func TestParticleSplitPrefersFirstMatch(t *testing.T) {
	got := particleSplit("東京から大阪まで")
	want := []token{
		{text: "東京"},
		{text: "から", mark: true},
		{text: "大阪"},
		{text: "まで", mark: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("particleSplit = %+v, want %+v", got, want)
	}
}

func TestSegmentDropsBlankChunks(t *testing.T) {
	if got := Segment(""); len(got) != 0 {
		t.Fatalf("Segment(\"\") = %q", got)
	}
	if got := Segment("   "); len(got) != 0 {
		t.Fatalf("Segment(blank) = %q", got)
	}
}

func TestSegmentWithoutPunctuation(t *testing.T) {
	got := Segment("hello world")
	want := []string{"hello world"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Segment = %q, want %q", got, want)
	}
}
