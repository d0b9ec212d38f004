package heap

// Encoding tags the byte interpretation of a String box (spec §3).
type Encoding uint8

const (
	EncodingUTF8 Encoding = iota
	EncodingBinary
)

// String is an immutable byte sequence box. Immutability means two
// Values can safely reference the same String box (e.g. via the
// interner in pkg/memory) without copy-on-write bookkeeping.
type String struct {
	Header
	Bytes    []byte
	Encoding Encoding
	// Interned is set when this box is owned by the string interner
	// (pkg/memory); destruction must go through the interner's release
	// path instead of freeing Bytes directly.
	Interned bool
}

// Len returns the byte length of the string.
func (s *String) Len() int { return len(s.Bytes) }

// String implements fmt.Stringer for debugging.
func (s *String) String() string { return string(s.Bytes) }
