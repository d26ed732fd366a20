package agent

import (
	"unicode"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// minHintLetters keeps short, ambiguous messages from triggering a hint.
const minHintLetters = 12

// languageHint returns "Reply in <Language>." when message is confidently not
// English, and "" otherwise.
func languageHint(message string) string {
	letters := 0
	for _, r := range message {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < minHintLetters {
		return ""
	}

	info := whatlanggo.Detect(message)
	if !info.IsReliable() {
		return ""
	}
	code := info.Lang.Iso6391()
	if code == "" || code == "en" {
		return ""
	}

	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		name = info.Lang.String()
	}
	return "Reply in " + name + "."
}
