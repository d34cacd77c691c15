package script

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Script Error Types
// ---------------------------------------------------------------------------

var (
	// ErrFormat is the root of every load-time structural error.
	ErrFormat        = errors.New("invalid script format")
	ErrInvalidMagic  = fmt.Errorf("%w: invalid magic number: expected IFPS", ErrFormat)
	ErrVersion       = fmt.Errorf("%w: unsupported script version", ErrFormat)
	ErrUnexpectedEOF = fmt.Errorf("%w: unexpected end of script data", ErrFormat)
	ErrInvalidIndex  = fmt.Errorf("%w: index out of range", ErrFormat)

	// ErrUnresolvedReference is the root of save-time graph errors.
	ErrUnresolvedReference = errors.New("unresolved reference")
	ErrUnreferencedObject  = fmt.Errorf("%w: object is not part of the script", ErrUnresolvedReference)
	ErrDanglingReference   = fmt.Errorf("%w: branch target outside its function", ErrUnresolvedReference)

	// ErrUnsupportedValue covers values that have no wire encoding.
	ErrUnsupportedValue = errors.New("unsupported value")
)

// FormatError reports a malformed input together with the byte offset where
// decoding stopped.
type FormatError struct {
	Offset int
	Msg    string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("at offset 0x%x: %s: %v", e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("at offset 0x%x: %s", e.Offset, e.Msg)
}

// Unwrap lets errors.Is match both the wrapped cause and ErrFormat.
func (e *FormatError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Err, ErrFormat}
	}
	return []error{ErrFormat}
}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedValue, fmt.Sprintf(format, args...))
}

func unreferenced(kind, name string) error {
	return fmt.Errorf("%w: %s %q, make sure it is added to the script", ErrUnreferencedObject, kind, name)
}
