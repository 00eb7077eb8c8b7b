package tts

import (
	"fmt"
	"sort"
)

// Precision selects the quantization of the local model weights.
type Precision string

const (
	PrecisionFP32  Precision = "fp32"
	PrecisionFP16  Precision = "fp16"
	PrecisionQ8    Precision = "q8"
	PrecisionQ4    Precision = "q4"
	PrecisionQ4F16 Precision = "q4f16"
)

// ParsePrecision validates a precision profile name.
func ParsePrecision(value string) (Precision, error) {
	switch p := Precision(value); p {
	case PrecisionFP32, PrecisionFP16, PrecisionQ8, PrecisionQ4, PrecisionQ4F16:
		return p, nil
	case "":
		return PrecisionFP32, nil
	default:
		return "", fmt.Errorf("unknown precision %q", value)
	}
}

const DefaultLocalVoice = "af_heart"

// LocalVoices lists the voices shipped with the default local model.
var LocalVoices = []string{
	"af_heart", "af_alloy", "af_aoede", "af_bella", "af_jessica", "af_kore",
	"af_nicole", "af_nova", "af_river", "af_sarah", "af_sky",
	"am_adam", "am_echo", "am_eric", "am_fenrir", "am_liam", "am_michael",
	"am_onyx", "am_puck", "am_santa",
	"bf_emma", "bf_isabella", "bf_alice", "bf_lily",
	"bm_george", "bm_lewis", "bm_daniel", "bm_fable",
}

// DefaultSpeakers maps voice names to remote speaker ids. The default entry
// covers unknown voices.
var DefaultSpeakers = map[string]int{
	"zundamon": 3,
	"metan":    2,
	"tsumugi":  8,
	"default":  3,
}

// speakerTable is the read-only voice to speaker id lookup of a remote client.
type speakerTable map[string]int

func newSpeakerTable(entries map[string]int) speakerTable {
	if len(entries) == 0 {
		entries = DefaultSpeakers
	}
	table := make(speakerTable, len(entries)+1)
	for name, id := range entries {
		table[name] = id
	}
	if _, ok := table["default"]; !ok {
		table["default"] = DefaultSpeakers["default"]
	}
	return table
}

func (t speakerTable) lookup(voice string) int {
	if id, ok := t[voice]; ok {
		return id
	}
	return t["default"]
}

func (t speakerTable) names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		if name == "default" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
