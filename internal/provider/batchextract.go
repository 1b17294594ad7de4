package provider

import (
	"strings"

	"github.com/tidwall/gjson"
)

// extractBatchTranscript walks the weakly-typed batch response JSON:
// batch ASR providers return wildly different response
// shapes, so rather than a fixed struct this walks, in order:
//
//	results[i].channels[*].alternatives[*].transcript
//	results[i].alternatives[*].transcript
//	results[i].utterances[*].transcript
//	results[i].transcript
//	utterances[*].transcript (top-level)
//
// concatenating non-empty trimmed strings with a single space, and
// returns the first alternative's word list, if any. gjson is exactly
// suited to this — no fixed schema, just a path walk — which is why it
// is wired here instead of unmarshalling into a concrete struct.
func extractBatchTranscript(body []byte) (string, []Word) {
	root := gjson.ParseBytes(body)

	var parts []string
	var words []Word
	gotWords := false

	results := root.Get("results")
	if results.IsArray() {
		for _, r := range results.Array() {
			if channels := r.Get("channels"); channels.IsArray() {
				for _, ch := range channels.Array() {
					if alts := ch.Get("alternatives"); alts.IsArray() {
						for _, alt := range alts.Array() {
							appendTrimmed(&parts, alt.Get("transcript").String())
							if !gotWords {
								words = wordsFromAlt(alt)
								gotWords = len(words) > 0
							}
						}
					}
				}
				continue
			}
			if alts := r.Get("alternatives"); alts.IsArray() {
				for _, alt := range alts.Array() {
					appendTrimmed(&parts, alt.Get("transcript").String())
					if !gotWords {
						words = wordsFromAlt(alt)
						gotWords = len(words) > 0
					}
				}
				continue
			}
			if utts := r.Get("utterances"); utts.IsArray() {
				for _, u := range utts.Array() {
					appendTrimmed(&parts, u.Get("transcript").String())
				}
				continue
			}
			if t := r.Get("transcript"); t.Exists() {
				appendTrimmed(&parts, t.String())
			}
		}
	}

	if len(parts) == 0 {
		if utts := root.Get("utterances"); utts.IsArray() {
			for _, u := range utts.Array() {
				appendTrimmed(&parts, u.Get("transcript").String())
			}
		}
	}

	return strings.Join(parts, " "), words
}

func appendTrimmed(parts *[]string, s string) {
	s = strings.TrimSpace(s)
	if s != "" {
		*parts = append(*parts, s)
	}
}

func wordsFromAlt(alt gjson.Result) []Word {
	w := alt.Get("words")
	if !w.IsArray() {
		return nil
	}
	var out []Word
	for _, wi := range w.Array() {
		out = append(out, Word{
			Start:      wi.Get("start").Float(),
			End:        wi.Get("end").Float(),
			Text:       wi.Get("word").String(),
			Confidence: wi.Get("confidence").Float(),
		})
	}
	return out
}
