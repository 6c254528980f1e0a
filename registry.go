package safecodec

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
)

// defaultMaxDepth bounds recursion when encoding, and when decoding without a
// tighter Limits.MaxDepth. It keeps the goroutine stack bounded even for a
// caller that leaves depth uncapped.
const defaultMaxDepth = 256

type versionKey struct {
	id      TypeID
	version SchemaVersion
}

type mappingKey struct {
	writer, reader Fingerprint
}

// Registry maps TypeID and SchemaVersion to a Binding. It is populated once at
// process start and sealed; after Seal it is read-only and safe for concurrent
// use without further synchronization.
type Registry struct {
	mu     sync.Mutex // serializes registration
	sealed atomic.Bool

	bindings *xsync.Map[versionKey, Binding]
	latest   *xsync.Map[TypeID, Binding]
	versions *xsync.Map[TypeID, []SchemaVersion]
	names    *xsync.Map[string, TypeID]
	mappings *xsync.Map[mappingKey, *FieldMapping]

	log      zerolog.Logger
	maxDepth int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for registration and rejection events. The
// default discards everything.
func WithLogger(log zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// WithMaxDepth sets the hard nesting ceiling for encode and decode recursion.
// A decode call's Limits.MaxDepth can only lower it.
func WithMaxDepth(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxDepth = n
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		bindings: xsync.NewMap[versionKey, Binding](),
		latest:   xsync.NewMap[TypeID, Binding](),
		versions: xsync.NewMap[TypeID, []SchemaVersion](),
		names:    xsync.NewMap[string, TypeID](),
		mappings: xsync.NewMap[mappingKey, *FieldMapping](),
		log:      zerolog.Nop(),
		maxDepth: defaultMaxDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Default is the process-wide registry used by MustRegister.
var Default = NewRegistry()

// MustRegister registers b in Default and panics on failure. It is meant for
// package init.
func MustRegister(b Binding) {
	if err := Default.Register(b); err != nil {
		panic(err)
	}
}

// Register adds b under its descriptor's TypeID and version. Registering the
// same shape twice is a no-op; registering a different shape under a taken
// TypeID and version fails with ErrDuplicateType.
func (r *Registry) Register(b Binding) error {
	if err := b.verify(); err != nil {
		return err
	}
	return r.register(b)
}

// RegisterLayout records desc as a writer layout only. Records written at its
// version can then be decoded by name into the newest bound version of the
// type, while values are never encoded with it. This is how a deployment
// learns about a version a newer peer writes, typically from its manifest.
func (r *Registry) RegisterLayout(desc *Descriptor) error {
	return r.register(layout{desc})
}

func (r *Registry) register(b Binding) error {
	d := b.Descriptor()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return &SchemaError{TypeID: d.id, Name: d.name, ReaderVersion: d.version, Err: ErrRegistrySealed}
	}

	key := versionKey{d.id, d.version}
	_, layoutOnly := b.(layout)
	prev, exists := r.bindings.Load(key)
	if exists {
		if prev.Descriptor().fingerprint != d.fingerprint {
			return &SchemaError{TypeID: d.id, Name: d.name, ReaderVersion: d.version,
				Err: fmt.Errorf("%w: fingerprint %s, registered %s", ErrDuplicateType, d.fingerprint, prev.Descriptor().fingerprint)}
		}
		if _, wasLayout := prev.(layout); !wasLayout || layoutOnly {
			return nil
		}
	}
	if id, ok := r.names.Load(d.name); ok && id != d.id && d.name != "" {
		return &SchemaError{TypeID: d.id, Name: d.name, ReaderVersion: d.version,
			Err: fmt.Errorf("%w: name already used by #%d", ErrDuplicateType, id)}
	}

	r.bindings.Store(key, b)
	if d.name != "" {
		r.names.Store(d.name, d.id)
	}
	if !exists {
		versions, _ := r.versions.Load(d.id)
		versions = append(slices.Clone(versions), d.version)
		slices.Sort(versions)
		r.versions.Store(d.id, versions)
	}
	if cur, ok := r.latest.Load(d.id); !layoutOnly && (!ok || cur.Descriptor().version < d.version) {
		r.latest.Store(d.id, b)
	}

	r.log.Debug().
		Uint64("type_id", uint64(d.id)).
		Str("type", d.name).
		Uint32("version", uint32(d.version)).
		Stringer("fingerprint", d.fingerprint).
		Bool("layout_only", layoutOnly).
		Msg("schema registered")
	return nil
}

// Seal checks that every record reference resolves to a registered type and
// freezes the registry. Sealing twice is a no-op.
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return nil
	}
	var err error
	r.bindings.Range(func(_ versionKey, b Binding) bool {
		d := b.Descriptor()
		for i := range d.fields {
			ref, ok := d.fields[i].refersTo()
			if !ok {
				continue
			}
			if _, found := r.latest.Load(ref); !found {
				err = &SchemaError{TypeID: d.id, Name: d.name, ReaderVersion: d.version, Field: d.fields[i].Name,
					Err: fmt.Errorf("%w: referenced type #%d", ErrUnknownType, ref)}
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	r.sealed.Store(true)
	r.log.Info().Int("schemas", r.bindings.Size()).Msg("registry sealed")
	return nil
}

func (r *Registry) Sealed() bool { return r.sealed.Load() }

// Resolve returns the descriptor registered for id at version.
func (r *Registry) Resolve(id TypeID, version SchemaVersion) (*Descriptor, error) {
	if _, ok := r.latest.Load(id); !ok {
		return nil, &SchemaError{TypeID: id, WriterVersion: version, Err: ErrUnknownType}
	}
	b, ok := r.bindings.Load(versionKey{id, version})
	if !ok {
		return nil, r.unknownVersion(id, version)
	}
	return b.Descriptor(), nil
}

// Latest returns the newest registered descriptor for id, the one values of
// that type are encoded with and decoded into.
func (r *Registry) Latest(id TypeID) (*Descriptor, error) {
	b, err := r.latestBinding(id)
	if err != nil {
		return nil, err
	}
	return b.Descriptor(), nil
}

func (r *Registry) latestBinding(id TypeID) (Binding, error) {
	b, ok := r.latest.Load(id)
	if !ok {
		return nil, &SchemaError{TypeID: id, Err: ErrUnknownType}
	}
	return b, nil
}

// Versions returns the registered versions of id in ascending order.
func (r *Registry) Versions(id TypeID) []SchemaVersion {
	v, _ := r.versions.Load(id)
	return slices.Clone(v)
}

// LookupName returns the TypeID registered under name.
func (r *Registry) LookupName(name string) (TypeID, bool) {
	return r.names.Load(name)
}

// Descriptors returns every registered descriptor ordered by TypeID, then
// version.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, r.bindings.Size())
	r.bindings.Range(func(_ versionKey, b Binding) bool {
		out = append(out, b.Descriptor())
		return true
	})
	slices.SortFunc(out, func(a, b *Descriptor) int {
		if c := cmp.Compare(a.id, b.id); c != 0 {
			return c
		}
		return cmp.Compare(a.version, b.version)
	})
	return out
}

// AllowAll returns an AllowList naming every registered TypeID.
func (r *Registry) AllowAll() *AllowList {
	a := NewAllowList()
	r.latest.Range(func(id TypeID, _ Binding) bool {
		a.ids[id] = struct{}{}
		return true
	})
	return a
}

// CompatibleFields is the package function of the same name, cached per pair
// of fingerprints.
func (r *Registry) CompatibleFields(writer, reader *Descriptor) (*FieldMapping, error) {
	key := mappingKey{writer.fingerprint, reader.fingerprint}
	if m, ok := r.mappings.Load(key); ok {
		return m, nil
	}
	m, err := CompatibleFields(writer, reader)
	if err != nil {
		return nil, err
	}
	m, _ = r.mappings.LoadOrStore(key, m)
	return m, nil
}

// writerLayout picks the layout a record written at h.Version is read with.
// The writer's field list must be known, so an unregistered version is an
// error whether it is older or newer than reader.
func (r *Registry) writerLayout(h Header, reader *Descriptor) (*FieldMapping, error) {
	if h.Version == reader.version {
		return r.identity(reader), nil
	}
	b, ok := r.bindings.Load(versionKey{h.TypeID, h.Version})
	if !ok {
		return nil, r.unknownVersion(h.TypeID, h.Version)
	}
	return r.CompatibleFields(b.Descriptor(), reader)
}

func (r *Registry) identity(reader *Descriptor) *FieldMapping {
	key := mappingKey{reader.fingerprint, reader.fingerprint}
	m, _ := r.mappings.LoadOrCompute(key, func() (*FieldMapping, bool) {
		return identityMapping(reader), false
	})
	return m
}

func (r *Registry) unknownVersion(id TypeID, version SchemaVersion) error {
	e := &SchemaError{TypeID: id, WriterVersion: version, Err: ErrUnknownVersion}
	if b, ok := r.latest.Load(id); ok {
		e.Name = b.Descriptor().name
		e.ReaderVersion = b.Descriptor().version
	}
	return e
}
