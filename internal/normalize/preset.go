package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Preset is an enumerated set of text-normalization flags.
type Preset struct {
	NFKC       bool
	StripPunct bool
	StripSpace bool
	Lowercase  bool
}

// Presets used by the system. "wer" and "cer" mirror the usual scoring
// profiles (lower-cased, whitespace-split word comparison); unset is
// identity plus trim.
var (
	PresetWER   = Preset{NFKC: true, StripPunct: true, Lowercase: true}
	PresetCER   = Preset{NFKC: true, StripPunct: true}
	PresetUnset = Preset{}
)

// ResolvePreset maps a preset id string to its Preset, defaulting to
// PresetUnset for anything unrecognized.
func ResolvePreset(id string) Preset {
	switch id {
	case "wer":
		return PresetWER
	case "cer":
		return PresetCER
	default:
		return PresetUnset
	}
}

// Apply runs text through the preset's flags in a fixed order: NFKC,
// then punctuation/space stripping, then casing. Returns the
// normalized text plus whether punctuation or casing was actually
// changed (for NormalizedEvent.punctuationApplied/casingApplied).
func (p Preset) Apply(text string) (out string, punctuationApplied, casingApplied bool) {
	out = strings.TrimSpace(text)
	if p.NFKC {
		out = norm.NFKC.String(out)
	}
	if p.StripPunct {
		stripped := stripPunctuation(out)
		if stripped != out {
			punctuationApplied = true
		}
		out = stripped
	}
	if p.StripSpace {
		out = stripWhitespace(out)
	}
	if p.Lowercase {
		lower := strings.ToLower(out)
		if lower != out {
			casingApplied = true
		}
		out = lower
	}
	return out, punctuationApplied, casingApplied
}

func stripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return collapseSpaces(b.String())
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func collapseSpaces(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// ComputeWER is a word-level Levenshtein word-error-rate, exposed
// alongside normalization as a scoring hook but never called from the
// hot ingest path.
func ComputeWER(reference, hypothesis string) float64 {
	ref := strings.Fields(strings.ToLower(reference))
	hyp := strings.Fields(strings.ToLower(hypothesis))

	if len(ref) == 0 {
		return 0
	}

	prev := make([]int, len(hyp)+1)
	curr := make([]int, len(hyp)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ref); i++ {
		curr[0] = i
		for j := 1; j <= len(hyp); j++ {
			cost := 1
			if ref[i-1] == hyp[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}

	return float64(prev[len(hyp)]) / float64(len(ref))
}

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}
