// Package nbtx adds deterministic compound and list values on top of the
// go-mc tag codec. Compounds are written with their keys sorted so that
// re-encoding the same data always produces the same bytes.
package nbtx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/Tnze/go-mc/nbt"
)

var ErrTagType = errors.New("nbtx: unexpected tag type")

// NamedTag is a root tag with its name.
type NamedTag struct {
	Name string
	Tag  nbt.RawMessage
}

// Read decodes one named tag from r.
func Read(r io.Reader) (NamedTag, error) {
	var raw nbt.RawMessage
	name, err := nbt.NewDecoder(r).Decode(&raw)
	if err != nil {
		return NamedTag{}, err
	}
	return NamedTag{Name: name, Tag: raw}, nil
}

func (t NamedTag) WriteTo(w io.Writer) error {
	return nbt.NewEncoder(w).Encode(t.Tag, t.Name)
}

func (t NamedTag) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses b as a single named tag.
func Decode(b []byte) (NamedTag, error) {
	return Read(bytes.NewReader(b))
}

// Compound is a compound tag whose values stay undecoded.
type Compound map[string]nbt.RawMessage

func (c Compound) TagType() byte { return nbt.TagCompound }

func (c Compound) MarshalNBT(w io.Writer) error {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := c[k]
		if v.Type == nbt.TagEnd {
			continue
		}
		if err := writeHeader(w, v.Type, k); err != nil {
			return err
		}
		if _, err := w.Write(v.Data); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{nbt.TagEnd})
	return err
}

// Raw encodes c into a raw tag.
func (c Compound) Raw() nbt.RawMessage {
	m, _ := Encode(c)
	return m
}

func (c Compound) Clone() Compound {
	out := make(Compound, len(c))
	for k, v := range c {
		out[k] = CloneRaw(v)
	}
	return out
}

// Compound returns the named child compound, or nil when absent.
func (c Compound) Compound(key string) (Compound, error) {
	v, ok := c[key]
	if !ok {
		return nil, nil
	}
	return DecodeCompound(v)
}

func DecodeCompound(m nbt.RawMessage) (Compound, error) {
	if m.Type != nbt.TagCompound {
		return nil, fmt.Errorf("%w: %d want compound", ErrTagType, m.Type)
	}
	out := Compound{}
	if err := m.Unmarshal((*map[string]nbt.RawMessage)(&out)); err != nil {
		return nil, err
	}
	return out, nil
}

// List is a list tag of raw elements sharing one element type.
type List struct {
	ElemType byte
	Items    []nbt.RawMessage
}

func (l List) TagType() byte { return nbt.TagList }

func (l List) MarshalNBT(w io.Writer) error {
	et := l.ElemType
	if len(l.Items) == 0 {
		et = nbt.TagEnd
	}
	var hdr [5]byte
	hdr[0] = et
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(l.Items)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, it := range l.Items {
		if it.Type != et {
			return fmt.Errorf("%w: list element %d in list of %d", ErrTagType, it.Type, et)
		}
		if _, err := w.Write(it.Data); err != nil {
			return err
		}
	}
	return nil
}

// Raw fails when an element type differs from ElemType.
func (l List) Raw() (nbt.RawMessage, error) {
	return Encode(l)
}

func DecodeList(m nbt.RawMessage) (List, error) {
	if m.Type != nbt.TagList {
		return List{}, fmt.Errorf("%w: %d want list", ErrTagType, m.Type)
	}
	if len(m.Data) < 5 {
		return List{}, fmt.Errorf("%w: short list", ErrTagType)
	}
	l := List{ElemType: m.Data[0]}
	if err := m.Unmarshal(&l.Items); err != nil {
		return List{}, err
	}
	for i := range l.Items {
		l.Items[i].Type = l.ElemType
	}
	return l, nil
}

// CloneRaw deep copies the payload bytes.
func CloneRaw(m nbt.RawMessage) nbt.RawMessage {
	return nbt.RawMessage{Type: m.Type, Data: append([]byte(nil), m.Data...)}
}

// Equal compares type and payload bytes.
func Equal(a, b nbt.RawMessage) bool {
	return a.Type == b.Type && bytes.Equal(a.Data, b.Data)
}

func writeHeader(w io.Writer, tagType byte, name string) error {
	hdr := make([]byte, 3, 3+len(name))
	hdr[0] = tagType
	binary.BigEndian.PutUint16(hdr[1:], uint16(len(name)))
	hdr = append(hdr, name...)
	_, err := w.Write(hdr)
	return err
}

// Encode renders any tag marshaler into a raw tag.
func Encode(v nbt.Marshaler) (nbt.RawMessage, error) {
	var buf bytes.Buffer
	if err := v.MarshalNBT(&buf); err != nil {
		return nbt.RawMessage{}, err
	}
	return nbt.RawMessage{Type: v.TagType(), Data: buf.Bytes()}, nil
}
