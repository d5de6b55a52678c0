package charset

import (
	"bytes"
	"testing"
)

func TestDetectBOM(t *testing.T) {
	tests := []struct {
		name       string
		sample     []byte
		expect     Encoding
		confidence Confidence
	}{
		{"utf8 bom", []byte{0xEF, 0xBB, 0xBF, 'h', 'i'}, UTF8BOM, ConfidenceHigh},
		{"utf16 le bom", []byte{0xFF, 0xFE, 'h', 0x00}, UTF16LE, ConfidenceHigh},
		{"utf16 be bom", []byte{0xFE, 0xFF, 0x00, 'h'}, UTF16BE, ConfidenceHigh},
		{"plain ascii", []byte("hello world"), UTF8, ConfidenceDefault},
		{"empty", nil, UTF8, ConfidenceDefault},
		{"single byte", []byte{0xFF}, UTF8, ConfidenceDefault},
	}

	for _, tt := range tests {
		det := Detect(tt.sample)
		if det.Encoding != tt.expect {
			t.Fatalf("%s: encoding = %v, want %v", tt.name, det.Encoding, tt.expect)
		}
		if det.Confidence != tt.confidence {
			t.Fatalf("%s: confidence = %v, want %v", tt.name, det.Confidence, tt.confidence)
		}
	}
}

func TestDetectUTF16WithoutBOM(t *testing.T) {
	le := make([]byte, 0, 64)
	be := make([]byte, 0, 64)
	for _, ch := range []byte("hello utf16 world, plain ascii text") {
		le = append(le, ch, 0x00)
		be = append(be, 0x00, ch)
	}

	if det := Detect(le); det.Encoding != UTF16LE || det.Confidence != ConfidenceHigh {
		t.Fatalf("LE heuristic: got (%v, %v), want (%v, %v)", det.Encoding, det.Confidence, UTF16LE, ConfidenceHigh)
	}
	if det := Detect(be); det.Encoding != UTF16BE || det.Confidence != ConfidenceHigh {
		t.Fatalf("BE heuristic: got (%v, %v), want (%v, %v)", det.Encoding, det.Confidence, UTF16BE, ConfidenceHigh)
	}
}

func TestDetectValidUTF8(t *testing.T) {
	det := Detect([]byte("héllo wörld"))
	if det.Encoding != UTF8 {
		t.Fatalf("encoding = %v, want %v", det.Encoding, UTF8)
	}
	if det.Confidence != ConfidenceHigh {
		t.Fatalf("confidence = %v, want %v", det.Confidence, ConfidenceHigh)
	}
}

func TestDetectToleratesTruncatedRune(t *testing.T) {
	eAcute := []byte("é") // 2 bytes
	arrow := []byte("→")  // 3 bytes
	samples := [][]byte{
		append([]byte("caf"), eAcute[:1]...),
		append([]byte("see "), arrow[:1]...),
		append([]byte("see "), arrow[:2]...),
	}
	for i, sample := range samples {
		det := Detect(sample)
		if det.Encoding != UTF8 {
			t.Fatalf("sample %d: encoding = %v, want %v", i, det.Encoding, UTF8)
		}
	}
}

func TestCycleWrapsAndIsTotal(t *testing.T) {
	order := []Encoding{UTF8, UTF16LE, UTF16BE, EUCKR, Latin1}
	cur := UTF8
	for i := 1; i <= len(order); i++ {
		cur = Cycle(cur)
		want := order[i%len(order)]
		if cur != want {
			t.Fatalf("step %d: got %v, want %v", i, cur, want)
		}
	}
	if cur != UTF8 {
		t.Fatalf("cycle did not wrap: ended at %v", cur)
	}

	if got := Cycle(UTF8BOM); got != UTF16LE {
		t.Fatalf("Cycle(UTF8BOM) = %v, want %v", got, UTF16LE)
	}
	if got := Cycle(Encoding(99)); got != UTF8 {
		t.Fatalf("Cycle(unknown) = %v, want %v", got, UTF8)
	}
}

func TestLooksBinary(t *testing.T) {
	if LooksBinary([]byte("plain text content\nwith lines\n")) {
		t.Fatalf("text sample reported as binary")
	}
	if !LooksBinary([]byte{0x7F, 'E', 'L', 'F', 0x02, 0x01, 0x01, 0x00, 0x00, 0x00}) {
		t.Fatalf("ELF header not reported as binary")
	}
	if LooksBinary(nil) {
		t.Fatalf("empty sample reported as binary")
	}

	le := bytes.Repeat([]byte{'a', 0x00}, 32)
	if LooksBinary(le) {
		t.Fatalf("UTF-16 text reported as binary")
	}
}

func TestNewlineSeq(t *testing.T) {
	if got := NewlineSeq(UTF16LE); !bytes.Equal(got, []byte{0x0A, 0x00}) {
		t.Fatalf("UTF16LE newline = % X", got)
	}
	if got := NewlineSeq(UTF16BE); !bytes.Equal(got, []byte{0x00, 0x0A}) {
		t.Fatalf("UTF16BE newline = % X", got)
	}
	if got := NewlineSeq(EUCKR); !bytes.Equal(got, []byte{0x0A}) {
		t.Fatalf("EUCKR newline = % X", got)
	}
}
