package ingest

import (
	"unicode"

	"github.com/calderhq/navigator/internal/model"
)

const languageSampleRunes = 2000

// DetectLanguage guesses the dominant language of text from its script.
// It only needs to be right enough for retrieval-time language matching;
// mixed or unrecognized scripts map to the unknown tag, which matches
// any query language.
func DetectLanguage(text string) string {
	counts := map[string]int{}
	total := 0
	for _, r := range text {
		if total >= languageSampleRunes {
			break
		}
		switch {
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			counts["ja"]++
		case unicode.Is(unicode.Hangul, r):
			counts["ko"]++
		case unicode.Is(unicode.Han, r):
			counts["zh"]++
		case unicode.Is(unicode.Cyrillic, r):
			counts["ru"]++
		case unicode.Is(unicode.Arabic, r):
			counts["ar"]++
		case unicode.Is(unicode.Latin, r):
			counts["en"]++
		default:
			continue
		}
		total++
	}
	if total == 0 {
		return model.LanguageUnknown
	}
	// Han characters also appear in Japanese text, so kana presence wins.
	if counts["ja"] > 0 && counts["ja"]+counts["zh"] > total/2 {
		return "ja"
	}
	best, bestN := model.LanguageUnknown, 0
	for lang, n := range counts {
		if n > bestN {
			best, bestN = lang, n
		}
	}
	if bestN*2 < total {
		return model.LanguageUnknown
	}
	return best
}
