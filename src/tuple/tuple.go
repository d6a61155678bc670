package tuple

import (
	"encoding/binary"
	"fmt"
	"strings"

	"simple-db-2pl/src/common"
)

// Tuple is one fixed-width row. Its bytes are exactly what is stored in a
// page slot.
type Tuple struct {
	desc *Desc
	data []byte
	rid  *common.RID
}

func NewTuple(desc *Desc) *Tuple {
	return &Tuple{desc: desc, data: make([]byte, desc.Size())}
}

// FromBytes builds a tuple over a copy of data, which must be desc.Size() long.
func FromBytes(desc *Desc, data []byte) (*Tuple, error) {
	if len(data) != desc.Size() {
		return nil, fmt.Errorf("row of %d bytes does not fit schema of %d bytes", len(data), desc.Size())
	}
	t := NewTuple(desc)
	copy(t.data, data)
	return t, nil
}

func (t *Tuple) Desc() *Desc { return t.desc }

func (t *Tuple) Bytes() []byte { return t.data }

// RecordId is where the tuple is stored, or nil if it was never inserted.
func (t *Tuple) RecordId() *common.RID { return t.rid }

func (t *Tuple) SetRecordId(rid *common.RID) { t.rid = rid }

func (t *Tuple) SetInt(i int, v int32) {
	off := t.desc.offsets[i]
	binary.BigEndian.PutUint32(t.data[off:off+4], uint32(v))
}

func (t *Tuple) Int(i int) int32 {
	off := t.desc.offsets[i]
	return int32(binary.BigEndian.Uint32(t.data[off : off+4]))
}

// SetString stores s truncated to StringLen bytes.
func (t *Tuple) SetString(i int, s string) {
	if len(s) > StringLen {
		s = s[:StringLen]
	}
	off := t.desc.offsets[i]
	binary.BigEndian.PutUint32(t.data[off:off+4], uint32(len(s)))
	field := t.data[off+4 : off+4+StringLen]
	n := copy(field, s)
	for j := n; j < len(field); j++ {
		field[j] = 0
	}
}

func (t *Tuple) StringField(i int) string {
	off := t.desc.offsets[i]
	n := int(binary.BigEndian.Uint32(t.data[off : off+4]))
	if n > StringLen {
		n = StringLen
	}
	return string(t.data[off+4 : off+4+n])
}

func (t *Tuple) Format() string {
	parts := make([]string, t.desc.NumFields())
	for i := range parts {
		if t.desc.FieldType(i) == StringType {
			parts[i] = t.StringField(i)
		} else {
			parts[i] = fmt.Sprint(t.Int(i))
		}
	}
	return strings.Join(parts, "\t")
}
