package safecodec

import (
	"bytes"
	"fmt"
	"slices"
)

const (
	periodID  TypeID = 1
	nodeID    TypeID = 2
	profileID TypeID = 3
	tagID     TypeID = 4
	accountID TypeID = 5
	bagID     TypeID = 6
	flagID    TypeID = 7
)

type Period struct {
	Start, End int64
}

var periodDesc = NewSchema(periodID, "Period", 1).Int64("start").Int64("end").MustBuild()

// uncheckedPeriodType has no invariant. It stands in for a peer that writes
// whatever it likes.
func uncheckedPeriodType() *Type[Period] {
	return Define[Period](periodDesc).
		EncodeWith(func(w *FieldWriter, p Period) {
			w.Int64("start", p.Start)
			w.Int64("end", p.End)
		}).
		DecodeWith(func(r *FieldReader) Period {
			return Period{Start: r.Int64("start"), End: r.Int64("end")}
		})
}

func periodType() *Type[Period] {
	return uncheckedPeriodType().CheckWith(func(p Period) error {
		if p.Start > p.End {
			return fmt.Errorf("start %d after end %d", p.Start, p.End)
		}
		return nil
	})
}

type Node struct {
	Value int32
	Next  *Node
}

var nodeDesc = NewSchema(nodeID, "Node", 1).Int32("value").Record("next", nodeID, Optional(nil)).MustBuild()

func nodeType() *Type[*Node] {
	return Define[*Node](nodeDesc).
		EncodeWith(func(w *FieldWriter, n *Node) {
			w.Int32("value", n.Value)
			if n.Next != nil {
				w.Record("next", n.Next)
			}
		}).
		DecodeWith(func(r *FieldReader) *Node {
			return &Node{Value: r.Int32("value"), Next: Nested[*Node](r, "next")}
		}).
		CopyWith(func(n *Node) *Node {
			c := *n
			return &c
		})
}

func chain(n int) *Node {
	var head *Node
	for i := n; i > 0; i-- {
		head = &Node{Value: int32(i), Next: head}
	}
	return head
}

type Tag struct {
	Label string
}

var tagDesc = NewSchema(tagID, "Tag", 1).Text("label").MustBuild()

func tagType() *Type[Tag] {
	return Define[Tag](tagDesc).
		EncodeWith(func(w *FieldWriter, t Tag) { w.Text("label", t.Label) }).
		DecodeWith(func(r *FieldReader) Tag { return Tag{Label: r.Text("label")} })
}

type Profile struct {
	Name   string
	Avatar []byte
	Scores []int32
	Active bool
	Ratio  float64
	Span   Period
	Tags   []Tag
}

func (p Profile) Clone() Profile {
	p.Avatar = bytes.Clone(p.Avatar)
	p.Scores = slices.Clone(p.Scores)
	p.Tags = slices.Clone(p.Tags)
	return p
}

var profileDesc = NewSchema(profileID, "Profile", 1).
	Text("name").
	Bytes("avatar").
	List("scores", KindInt32).
	Bool("active").
	Float64("ratio", Optional(0.5), OmitDefault()).
	Record("span", periodID).
	List("tags", KindRecord, Ref(tagID), Optional(nil)).
	MustBuild()

func profileType() *Type[Profile] {
	return Define[Profile](profileDesc).
		EncodeWith(func(w *FieldWriter, p Profile) {
			w.Text("name", p.Name)
			w.Bytes("avatar", p.Avatar)
			SetList(w, "scores", p.Scores)
			w.Bool("active", p.Active)
			w.Float64("ratio", p.Ratio)
			w.Record("span", p.Span)
			if len(p.Tags) > 0 {
				SetList(w, "tags", p.Tags)
			}
		}).
		DecodeWith(func(r *FieldReader) Profile {
			return Profile{
				Name:   r.Text("name"),
				Avatar: r.Bytes("avatar"),
				Scores: ListOf[int32](r, "scores"),
				Active: r.Bool("active"),
				Ratio:  r.Float64("ratio"),
				Span:   Nested[Period](r, "span"),
				Tags:   ListOf[Tag](r, "tags"),
			}
		})
}

func sampleProfile() Profile {
	return Profile{
		Name:   "ada",
		Avatar: []byte{0xCA, 0xFE},
		Scores: []int32{3, 1, 4},
		Active: true,
		Ratio:  0.75,
		Span:   Period{Start: 100, End: 200},
		Tags:   []Tag{{Label: "x"}, {Label: "y"}},
	}
}

// newTestRegistry registers every fixture type and seals.
func newTestRegistry(opts ...RegistryOption) *Registry {
	reg := NewRegistry(opts...)
	for _, b := range []Binding{periodType(), nodeType(), tagType(), profileType()} {
		if err := reg.Register(b); err != nil {
			panic(err)
		}
	}
	if err := reg.Seal(); err != nil {
		panic(err)
	}
	return reg
}

// rawRecord frames a hand-built payload for desc. body writes everything after
// the fingerprint, bitset included.
func rawRecord(desc *Descriptor, body func(w *Writer)) []byte {
	w := NewWriter(nil)
	w.WriteUvarint(uint64(desc.ID()))
	w.WriteUvarint(uint64(desc.Version()))
	mark := w.BeginLength()
	short := desc.Fingerprint().Short()
	w.WriteRaw(short[:])
	body(w)
	w.EndLength(mark)
	out, err := w.Result()
	if err != nil {
		panic(err)
	}
	return out
}
