package voiceagent

import "strings"

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}

// splitSentences breaks a complete assistant reply into sentence-sized
// chunks for per-sentence TTS synthesis. The boundary rule is a
// sentence ender followed by whitespace, applied to the whole string
// at once rather than to a streamed token buffer,
// since the turn machine synthesizes only after the LLM step finishes.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		if sentenceEnders[text[i]] && isWordBoundary(text[i+1]) {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func isWordBoundary(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t'
}
