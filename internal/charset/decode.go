package charset

import (
	"strings"
	"unicode/utf8"
)

// ReplacementRunLimit is the longest run of replacement characters a decoded
// line may carry before it is flagged as a likely wrong-encoding read.
const ReplacementRunLimit = 3

// DecodeLine converts one line's raw bytes into a Go string under e.
// Malformed input never fails: undecodable bytes come back as U+FFFD so the
// caller can still display the line and judge its quality.
func DecodeLine(raw []byte, e Encoding) string {
	if len(raw) == 0 {
		return ""
	}
	switch e {
	case UTF8, UTF8BOM:
		if utf8.Valid(raw) {
			return string(raw)
		}
		return replaceInvalidUTF8(raw)
	default:
		dec := DecoderFor(e)
		if dec == nil {
			return string(raw)
		}
		out, err := dec.Bytes(raw)
		if err != nil {
			return replaceInvalidUTF8(raw)
		}
		return string(out)
	}
}

func replaceInvalidUTF8(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

// HasReplacementRun reports whether s contains a run of more than limit
// consecutive replacement characters. A tripped check is advisory only; the
// decoded text is still served.
func HasReplacementRun(s string, limit int) bool {
	if limit <= 0 {
		limit = ReplacementRunLimit
	}
	run := 0
	for _, r := range s {
		if r == utf8.RuneError {
			run++
			if run > limit {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}
