package manifest

import (
	"fmt"

	"github.com/oy3o/safecodec"
)

// Descriptor rebuilds the descriptor t was taken from and checks that it
// hashes to the recorded fingerprint.
func (t *Type) Descriptor() (*safecodec.Descriptor, error) {
	b := safecodec.NewSchema(safecodec.TypeID(t.ID), t.Name, safecodec.SchemaVersion(t.Version))
	for _, f := range t.Fields {
		kind, err := safecodec.ParseKind(f.Kind)
		if err != nil {
			return nil, fmt.Errorf("manifest: field %q: %w", f.Name, err)
		}
		var opts []safecodec.FieldOption
		if f.Kind == safecodec.KindList.String() {
			elem, err := safecodec.ParseKind(f.Elem)
			if err != nil {
				return nil, fmt.Errorf("manifest: field %q: %w", f.Name, err)
			}
			opts = append(opts, safecodec.Elem(elem))
		}
		if f.Ref != 0 {
			opts = append(opts, safecodec.Ref(safecodec.TypeID(f.Ref)))
		}
		if f.Optional {
			var def any
			if f.Default != nil {
				if def, err = safecodec.ParseValue(f.Default, kind); err != nil {
					return nil, fmt.Errorf("manifest: field %q default: %w", f.Name, err)
				}
			}
			opts = append(opts, safecodec.Optional(def))
		}
		if f.OmitDefault {
			opts = append(opts, safecodec.OmitDefault())
		}
		b.Field(f.Name, kind, opts...)
	}
	d, err := b.Build()
	if err != nil {
		return nil, err
	}
	fp := d.Fingerprint()
	if string(fp[:]) != string(t.Fingerprint) {
		return nil, fmt.Errorf("manifest: %s does not match its recorded fingerprint", d)
	}
	return d, nil
}

// Registry builds a sealed registry that decodes every type in m into
// *safecodec.Fields. It lets tools inspect records without the application
// types compiled in.
func (m *Manifest) Registry(opts ...safecodec.RegistryOption) (*safecodec.Registry, error) {
	reg := safecodec.NewRegistry(opts...)
	for i := range m.Types {
		d, err := m.Types[i].Descriptor()
		if err != nil {
			return nil, err
		}
		if err := reg.Register(safecodec.DefineFields(d)); err != nil {
			return nil, err
		}
	}
	if err := reg.Seal(); err != nil {
		return nil, err
	}
	return reg, nil
}

// RegisterLayouts adds every version in m to reg as a writer layout. Records
// from the deployment that produced m then decode by name into reg's own
// types. Call it before reg is sealed.
func (m *Manifest) RegisterLayouts(reg *safecodec.Registry) error {
	for i := range m.Types {
		d, err := m.Types[i].Descriptor()
		if err != nil {
			return err
		}
		if err := reg.RegisterLayout(d); err != nil {
			return err
		}
	}
	return nil
}
