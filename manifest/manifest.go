// Package manifest snapshots the schemas held by a safecodec.Registry so two
// deployments can compare what they would write and accept. Manifests are
// encoded as deterministic CBOR, so equal registries produce equal bytes.
package manifest

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"

	"github.com/oy3o/safecodec"
)

// FormatVersion is the manifest layout written by Marshal.
const FormatVersion = 1

// Manifest lists every registered descriptor ordered by TypeID and version.
type Manifest struct {
	Format int    `cbor:"1,keyasint"`
	Types  []Type `cbor:"2,keyasint"`
}

// Type is one registered version of a record type.
type Type struct {
	ID          uint64  `cbor:"1,keyasint"`
	Name        string  `cbor:"2,keyasint,omitempty"`
	Version     uint32  `cbor:"3,keyasint"`
	Fingerprint []byte  `cbor:"4,keyasint"`
	Fields      []Field `cbor:"5,keyasint"`
}

type Field struct {
	Name        string `cbor:"1,keyasint"`
	Kind        string `cbor:"2,keyasint"`
	Elem        string `cbor:"3,keyasint,omitempty"`
	Ref         uint64 `cbor:"4,keyasint,omitempty"`
	Optional    bool   `cbor:"5,keyasint,omitempty"`
	OmitDefault bool   `cbor:"6,keyasint,omitempty"`
	// Default is the wire encoding of an optional primitive field's default.
	Default []byte `cbor:"7,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("manifest: CBOR encoder initialization failed: " + err.Error())
	}
	// Manifests come from other deployments, so the decoder is as strict as
	// the record decoder: bounded sizes, no duplicate or unknown keys.
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels:   8,
		MaxArrayElements:  1 << 16,
		MaxMapPairs:       16,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic("manifest: CBOR decoder initialization failed: " + err.Error())
	}
}

// FromRegistry snapshots reg.
func FromRegistry(reg *safecodec.Registry) *Manifest {
	descs := reg.Descriptors()
	m := &Manifest{Format: FormatVersion, Types: make([]Type, 0, len(descs))}
	for _, d := range descs {
		fp := d.Fingerprint()
		t := Type{
			ID:          uint64(d.ID()),
			Name:        d.Name(),
			Version:     uint32(d.Version()),
			Fingerprint: fp[:],
			Fields:      make([]Field, 0, d.NumFields()),
		}
		for _, f := range d.Fields() {
			mf := Field{
				Name:        f.Name,
				Kind:        f.Kind.String(),
				Ref:         uint64(f.Ref),
				Optional:    f.Optional,
				OmitDefault: f.OmitDefault,
			}
			if f.Kind == safecodec.KindList {
				mf.Elem = f.Elem.String()
			}
			if f.Optional && f.Default != nil {
				// Build normalized the default, so it always encodes.
				mf.Default, _ = safecodec.AppendValue(nil, f.Kind, f.Default)
			}
			t.Fields = append(t.Fields, mf)
		}
		m.Types = append(m.Types, t)
	}
	return m
}

func Marshal(m *Manifest) ([]byte, error) {
	return encMode.Marshal(m)
}

// Unmarshal decodes and validates a manifest.
func Unmarshal(data []byte) (*Manifest, error) {
	var m Manifest
	if err := decMode.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that m is internally consistent.
func (m *Manifest) Validate() error {
	if m.Format != FormatVersion {
		return fmt.Errorf("manifest: unsupported format %d", m.Format)
	}
	seen := make(map[key]struct{}, len(m.Types))
	for _, t := range m.Types {
		k := key{t.ID, t.Version}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("manifest: type #%d v%d listed twice", t.ID, t.Version)
		}
		seen[k] = struct{}{}
		if len(t.Fingerprint) != len(safecodec.Fingerprint{}) {
			return fmt.Errorf("manifest: type #%d v%d: fingerprint is %d bytes", t.ID, t.Version, len(t.Fingerprint))
		}
		for _, f := range t.Fields {
			if _, err := safecodec.ParseKind(f.Kind); err != nil {
				return fmt.Errorf("manifest: type #%d v%d field %q: %w", t.ID, t.Version, f.Name, err)
			}
		}
	}
	return nil
}

type key struct {
	id      uint64
	version uint32
}

// ChangeKind classifies one entry of a Diff.
type ChangeKind uint8

const (
	Added ChangeKind = iota + 1
	Removed
	Changed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	default:
		return fmt.Sprintf("change(%d)", uint8(k))
	}
}

// Change is one difference between two manifests. Changed means both sides
// registered the same TypeID and version with different shapes, which is
// deployment skew: the two sides will reject each other's records.
type Change struct {
	Kind    ChangeKind
	ID      uint64
	Name    string
	Version uint32
	Fields  []string
}

func (c Change) String() string {
	s := fmt.Sprintf("%s %s(#%d) v%d", c.Kind, c.Name, c.ID, c.Version)
	if len(c.Fields) > 0 {
		s += fmt.Sprintf(" fields %v", c.Fields)
	}
	return s
}

// Diff lists what changes going from a to b, ordered by TypeID and version.
func Diff(a, b *Manifest) []Change {
	index := func(m *Manifest) map[key]*Type {
		out := make(map[key]*Type, len(m.Types))
		for i := range m.Types {
			t := &m.Types[i]
			out[key{t.ID, t.Version}] = t
		}
		return out
	}
	left, right := index(a), index(b)

	var changes []Change
	for k, lt := range left {
		rt, ok := right[k]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: Removed, ID: k.id, Name: lt.Name, Version: k.version})
		case !bytes.Equal(lt.Fingerprint, rt.Fingerprint):
			changes = append(changes, Change{Kind: Changed, ID: k.id, Name: rt.Name, Version: k.version,
				Fields: fieldChanges(lt.Fields, rt.Fields)})
		}
	}
	for k, rt := range right {
		if _, ok := left[k]; !ok {
			changes = append(changes, Change{Kind: Added, ID: k.id, Name: rt.Name, Version: k.version})
		}
	}
	slices.SortFunc(changes, func(x, y Change) int {
		if c := cmp.Compare(x.ID, y.ID); c != 0 {
			return c
		}
		return cmp.Compare(x.Version, y.Version)
	})
	return changes
}

// fieldChanges names the fields whose declaration differs, including fields
// present on one side only.
func fieldChanges(a, b []Field) []string {
	byName := make(map[string]Field, len(a))
	for _, f := range a {
		byName[f.Name] = f
	}
	var names []string
	for _, f := range b {
		if old, ok := byName[f.Name]; !ok || !sameField(old, f) {
			names = append(names, f.Name)
		}
		delete(byName, f.Name)
	}
	for name := range byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func sameField(a, b Field) bool {
	return a.Name == b.Name && a.Kind == b.Kind && a.Elem == b.Elem && a.Ref == b.Ref &&
		a.Optional == b.Optional && a.OmitDefault == b.OmitDefault && bytes.Equal(a.Default, b.Default)
}
