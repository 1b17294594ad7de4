package provider

import "strings"

// languageAllowList is the fixed set of BCP-47 primary subtags the
// websocket-cloud and realtime-session adapters accept. Unknown
// languages fail with InvalidLanguage.
var languageAllowList = map[string]bool{
	"en": true, "es": true, "fr": true, "de": true, "it": true,
	"pt": true, "nl": true, "ja": true, "zh": true, "ko": true,
	"ru": true, "ar": true, "hi": true, "pl": true, "sv": true,
}

// normalizeLanguage validates lang against the allow-list, falling back
// to the primary subtag (e.g. "en-US" → "en") before rejecting it.
func normalizeLanguage(lang string) (string, error) {
	if lang == "" {
		return "en", nil
	}
	lower := strings.ToLower(lang)
	if languageAllowList[lower] {
		return lower, nil
	}
	primary, _, found := strings.Cut(lower, "-")
	if found && languageAllowList[primary] {
		return primary, nil
	}
	return "", apierrInvalidLanguage(lang)
}
