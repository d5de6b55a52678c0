package charset

import (
	"bytes"
	"unicode/utf8"
)

const (
	// DetectSampleSize is how many leading bytes callers should hand to Detect.
	DetectSampleSize = 4096

	nonPrintableThresholdPercent = 30
	utf16ZeroThresholdPercent    = 20
)

// Confidence describes how strongly a detection result is supported.
type Confidence int

const (
	ConfidenceDefault Confidence = iota
	ConfidenceHigh
)

// Detection is the outcome of sniffing a file's leading bytes.
type Detection struct {
	Encoding   Encoding
	Confidence Confidence
}

// Detect inspects a bounded prefix of a file and picks the most plausible
// encoding. It never fails: content that matches nothing falls back to UTF-8
// with default confidence. The sample may end mid-rune; a truncated trailing
// sequence does not count against UTF-8.
func Detect(sample []byte) Detection {
	if len(sample) >= 3 && sample[0] == 0xEF && sample[1] == 0xBB && sample[2] == 0xBF {
		return Detection{Encoding: UTF8BOM, Confidence: ConfidenceHigh}
	}
	if len(sample) >= 2 {
		switch {
		case sample[0] == 0xFF && sample[1] == 0xFE:
			return Detection{Encoding: UTF16LE, Confidence: ConfidenceHigh}
		case sample[0] == 0xFE && sample[1] == 0xFF:
			return Detection{Encoding: UTF16BE, Confidence: ConfidenceHigh}
		}
	}
	if len(sample) == 0 {
		return Detection{Encoding: UTF8}
	}

	if enc, ok := sniffUTF16WithoutBOM(sample); ok {
		return Detection{Encoding: enc, Confidence: ConfidenceHigh}
	}

	trimmed := trimPartialRune(sample)
	if utf8.Valid(trimmed) {
		if hasMultibyteRune(trimmed) {
			return Detection{Encoding: UTF8, Confidence: ConfidenceHigh}
		}
		return Detection{Encoding: UTF8}
	}

	return Detection{Encoding: UTF8}
}

// sniffUTF16WithoutBOM looks for the alternating-zero pattern that mostly
// ASCII text produces in UTF-16. LE puts the zero at odd offsets, BE at even.
func sniffUTF16WithoutBOM(sample []byte) (Encoding, bool) {
	if len(sample) < 4 {
		return UTF8, false
	}
	n := len(sample) &^ 1
	zerosEven := 0
	zerosOdd := 0
	for i := 0; i < n; i++ {
		if sample[i] != 0 {
			continue
		}
		if i%2 == 0 {
			zerosEven++
		} else {
			zerosOdd++
		}
	}
	total := zerosEven + zerosOdd
	if total*100/n < utf16ZeroThresholdPercent {
		return UTF8, false
	}
	switch {
	case zerosOdd > zerosEven*8:
		return UTF16LE, true
	case zerosEven > zerosOdd*8:
		return UTF16BE, true
	}
	return UTF8, false
}

// LooksBinary reports whether a sample reads as binary rather than text.
// Used to choose the initial view mode; the engine itself serves byte windows
// regardless of the answer.
func LooksBinary(sample []byte) bool {
	if len(sample) == 0 {
		return false
	}
	if len(sample) > DetectSampleSize {
		sample = sample[:DetectSampleSize]
	}
	det := Detect(sample)
	if det.Confidence == ConfidenceHigh || det.Encoding == UTF16LE || det.Encoding == UTF16BE {
		return false
	}
	if bytes.IndexByte(sample, 0x00) != -1 {
		return true
	}
	if utf8.Valid(trimPartialRune(sample)) {
		return false
	}

	printable := 0
	nonPrintable := 0
	for _, b := range sample {
		if isCommonTextByte(b) {
			printable++
		} else {
			nonPrintable++
		}
	}
	if printable == 0 {
		return true
	}
	return nonPrintable*100/len(sample) >= nonPrintableThresholdPercent
}

func isCommonTextByte(b byte) bool {
	switch {
	case b == 0x09 || b == 0x0A || b == 0x0D:
		return true
	case b >= 0x20 && b <= 0x7E:
		return true
	case b == 0x1B:
		return true
	case b >= 0x80:
		return true
	default:
		return false
	}
}

// trimPartialRune drops a trailing incomplete UTF-8 sequence so that a sample
// cut mid-rune still validates.
func trimPartialRune(sample []byte) []byte {
	n := len(sample)
	if n == 0 {
		return sample
	}
	start := n - 1
	lowest := n - utf8.UTFMax
	if lowest < 0 {
		lowest = 0
	}
	for start > lowest && sample[start]&0xC0 == 0x80 {
		start--
	}
	lead := sample[start]
	var need int
	switch {
	case lead&0x80 == 0:
		return sample
	case lead&0xE0 == 0xC0:
		need = 2
	case lead&0xF0 == 0xE0:
		need = 3
	case lead&0xF8 == 0xF0:
		need = 4
	default:
		return sample
	}
	if n-start < need {
		return sample[:start]
	}
	return sample
}

func hasMultibyteRune(sample []byte) bool {
	for _, b := range sample {
		if b >= 0x80 {
			return true
		}
	}
	return false
}
