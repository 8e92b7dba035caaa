package format

import (
	"strings"
	"unicode"
)

// zeroWidth normalizes the zero-width separators generated text sometimes
// threads between letters before the run scan.
var zeroWidth = strings.NewReplacer(
	"\u200b", " ", // zero-width space
	"\u200c", " ", // zero-width non-joiner
	"\u200d", " ", // zero-width joiner
	"\ufeff", " ", // zero-width no-break space
)

// CollapseSpacedLetters rejoins words emitted as letter runs: any maximal run
// of three or more single-letter tokens becomes one contiguous word, with
// trailing punctuation kept outside the run. Standalone single-letter words
// that are not part of such a run ("I am a cat.") are left alone.
func CollapseSpacedLetters(text string) string {
	fields := strings.Fields(zeroWidth.Replace(text))
	out := make([]string, 0, len(fields))

	i := 0
	for i < len(fields) {
		letters, trailing, next := scanRun(fields, i)
		if len(letters) >= 3 {
			out = append(out, strings.Join(letters, "")+trailing)
			i = next
		} else {
			out = append(out, fields[i])
			i++
		}
	}
	return strings.Join(out, " ")
}

// scanRun walks the maximal run of single-letter tokens starting at i. A
// token carrying trailing punctuation closes the run.
func scanRun(fields []string, i int) (letters []string, trailing string, next int) {
	for i < len(fields) {
		letter, punct, ok := splitSingleLetter(fields[i])
		if !ok {
			break
		}
		letters = append(letters, letter)
		i++
		if punct != "" {
			trailing = punct
			break
		}
	}
	return letters, trailing, i
}

// splitSingleLetter accepts tokens that are one letter, optionally followed
// by punctuation only.
func splitSingleLetter(token string) (letter, punct string, ok bool) {
	runes := []rune(token)
	if len(runes) == 0 || !unicode.IsLetter(runes[0]) {
		return "", "", false
	}
	for _, r := range runes[1:] {
		if !unicode.IsPunct(r) {
			return "", "", false
		}
	}
	return string(runes[0]), string(runes[1:]), true
}
