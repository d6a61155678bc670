package tuple

import (
	"fmt"
	"strings"
)

type Type int

const (
	IntType Type = iota
	StringType
)

// StringLen is the number of content bytes reserved for every string field.
const StringLen = 128

// Len is the number of bytes a field of this type occupies in a row.
func (t Type) Len() int {
	switch t {
	case IntType:
		return 4
	case StringType:
		return StringLen + 4
	}
	panic(fmt.Sprintf("unknown type %d", t))
}

func (t Type) String() string {
	if t == StringType {
		return "STRING"
	}
	return "INT"
}

// Desc describes the fixed-width layout of the rows of one table.
type Desc struct {
	types   []Type
	names   []string
	offsets []int
	size    int
}

func NewDesc(types []Type, names []string) *Desc {
	d := &Desc{
		types:   append([]Type(nil), types...),
		names:   make([]string, len(types)),
		offsets: make([]int, len(types)),
	}
	copy(d.names, names)
	for i, t := range types {
		d.offsets[i] = d.size
		d.size += t.Len()
	}
	return d
}

// IntDesc builds a schema of n anonymous int fields.
func IntDesc(n int) *Desc {
	types := make([]Type, n)
	for i := range types {
		types[i] = IntType
	}
	return NewDesc(types, nil)
}

func (d *Desc) NumFields() int { return len(d.types) }

func (d *Desc) FieldType(i int) Type { return d.types[i] }

func (d *Desc) FieldName(i int) string { return d.names[i] }

// Size is the row width in bytes.
func (d *Desc) Size() int { return d.size }

// Equals compares field types only; names do not take part.
func (d *Desc) Equals(other *Desc) bool {
	if d == other {
		return true
	}
	if other == nil || len(d.types) != len(other.types) {
		return false
	}
	for i := range d.types {
		if d.types[i] != other.types[i] {
			return false
		}
	}
	return true
}

func (d *Desc) String() string {
	parts := make([]string, len(d.types))
	for i, t := range d.types {
		parts[i] = fmt.Sprintf("%s(%s)", d.names[i], t)
	}
	return strings.Join(parts, ", ")
}

// ParseDesc builds a schema from a comma separated list of field types, each
// optionally prefixed by a name: "id:int,name:string".
func ParseDesc(s string) (*Desc, error) {
	parts := strings.Split(s, ",")
	types := make([]Type, len(parts))
	names := make([]string, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if j := strings.IndexByte(part, ':'); j >= 0 {
			names[i] = part[:j]
			part = part[j+1:]
		}
		switch strings.ToLower(part) {
		case "int":
			types[i] = IntType
		case "string":
			types[i] = StringType
		default:
			return nil, fmt.Errorf("unknown field type %q", part)
		}
	}
	return NewDesc(types, names), nil
}
