package script

import (
	"bytes"
	"fmt"
	"strings"
)

// CustomAttribute is a named attribute with typed constant arguments,
// attached to types and functions from file version 21.
type CustomAttribute struct {
	Name string
	Args []*TypedData
}

// String renders the attribute as [Name(arg, arg)].
func (a *CustomAttribute) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	sb.WriteString(a.Name)
	sb.WriteByte('(')
	for i, arg := range a.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(arg.String())
	}
	sb.WriteString(")]")
	return sb.String()
}

func decodeAttributes(r *reader, s *Script) ([]*CustomAttribute, error) {
	// each attribute is at least a name length and an argument count
	n, err := r.readCount("attribute", 8)
	if err != nil {
		return nil, err
	}
	attrs := make([]*CustomAttribute, 0, n)
	for i := 0; i < n; i++ {
		name, err := r.readLString()
		if err != nil {
			return nil, fmt.Errorf("failed to read attribute %d name: %w", i, err)
		}
		argc, err := r.readCount("attribute argument", 4)
		if err != nil {
			return nil, err
		}
		attr := &CustomAttribute{Name: name, Args: make([]*TypedData, 0, argc)}
		for j := 0; j < argc; j++ {
			arg, err := decodeTypedData(r, s)
			if err != nil {
				return nil, fmt.Errorf("attribute %s argument %d: %w", name, j, err)
			}
			attr.Args = append(attr.Args, arg)
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

func encodeAttributes(buf *bytes.Buffer, attrs []*CustomAttribute, ctx *saveContext) error {
	WriteInt32(buf, int32(len(attrs)))
	for _, a := range attrs {
		writeLString(buf, strings.ToUpper(a.Name))
		WriteInt32(buf, int32(len(a.Args)))
		for j, arg := range a.Args {
			if err := arg.encode(buf, ctx); err != nil {
				return fmt.Errorf("attribute %s argument %d: %w", a.Name, j, err)
			}
		}
	}
	return nil
}
