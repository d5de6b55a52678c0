package query

import "regexp"

// Expander turns one raw token into a regular expression pattern. Returning
// an empty pattern (or an error) tells the caller no expansion applies and
// literal substring matching should be used instead.
type Expander func(raw string) (string, error)

const (
	hangulSyllableBase = rune(0xAC00)
	hangulChoseongSpan = rune(21 * 28) // syllables per initial consonant
)

// choseongIndex maps a Hangul compatibility jamo consonant to its initial
// consonant slot in the syllable block.
var choseongIndex = map[rune]rune{
	'ㄱ': 0, 'ㄲ': 1, 'ㄴ': 2, 'ㄷ': 3, 'ㄸ': 4,
	'ㄹ': 5, 'ㅁ': 6, 'ㅂ': 7, 'ㅃ': 8, 'ㅅ': 9,
	'ㅆ': 10, 'ㅇ': 11, 'ㅈ': 12, 'ㅉ': 13, 'ㅊ': 14,
	'ㅋ': 15, 'ㅌ': 16, 'ㅍ': 17, 'ㅎ': 18,
}

// DefaultExpander performs Hangul initial-consonant (choseong) expansion:
// each consonant jamo in the token widens to the full syllable range that
// starts with it, so "ㅇㄹ" matches "오류". Tokens without any choseong jamo
// are reported as not expanded, which keeps plain substring matching for
// ordinary text.
func DefaultExpander(raw string) (string, error) {
	expanded := false
	pattern := ""
	for _, r := range raw {
		if idx, ok := choseongIndex[r]; ok {
			lo := hangulSyllableBase + idx*hangulChoseongSpan
			hi := lo + hangulChoseongSpan - 1
			pattern += "[" + string(r) + string(lo) + "-" + string(hi) + "]"
			expanded = true
			continue
		}
		pattern += regexp.QuoteMeta(string(r))
	}
	if !expanded {
		return "", nil
	}
	return pattern, nil
}
