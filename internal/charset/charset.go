package charset

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/unicode"
)

// Encoding identifies a character encoding the viewer can decode.
type Encoding int

const (
	UTF8 Encoding = iota
	UTF8BOM
	UTF16LE
	UTF16BE
	EUCKR
	Latin1
)

func (e Encoding) String() string {
	switch e {
	case UTF8:
		return "UTF-8"
	case UTF8BOM:
		return "UTF-8 BOM"
	case UTF16LE:
		return "UTF-16 LE"
	case UTF16BE:
		return "UTF-16 BE"
	case EUCKR:
		return "EUC-KR"
	case Latin1:
		return "Latin-1"
	default:
		return "unknown"
	}
}

// Cycle returns the next encoding in the manual override rotation. The
// rotation is closed: cycling from the last candidate wraps back to UTF-8.
// The BOM variant is a detection result, not a rotation stop, so it advances
// the same way plain UTF-8 does.
func Cycle(cur Encoding) Encoding {
	switch cur {
	case UTF8, UTF8BOM:
		return UTF16LE
	case UTF16LE:
		return UTF16BE
	case UTF16BE:
		return EUCKR
	case EUCKR:
		return Latin1
	case Latin1:
		return UTF8
	default:
		return UTF8
	}
}

// DecoderFor returns the x/text decoder for e, or nil when the bytes are
// consumed as UTF-8 directly.
func DecoderFor(e Encoding) *encoding.Decoder {
	switch e {
	case UTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	case UTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	case EUCKR:
		return korean.EUCKR.NewDecoder()
	case Latin1:
		return charmap.ISO8859_1.NewDecoder()
	default:
		return nil
	}
}

// NewlineSeq returns the byte sequence that terminates a line in e.
// UTF-16 newlines are full code units; the scanner must additionally check
// that a candidate sits on an even byte boundary.
func NewlineSeq(e Encoding) []byte {
	switch e {
	case UTF16LE:
		return []byte{0x0A, 0x00}
	case UTF16BE:
		return []byte{0x00, 0x0A}
	default:
		return []byte{0x0A}
	}
}
