package manifest

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oy3o/safecodec"
)

var (
	periodV1 = safecodec.NewSchema(1, "Period", 1).Int64("start").Int64("end").MustBuild()
	periodV2 = safecodec.NewSchema(1, "Period", 2).
			Int64("start").Int64("end").Text("zone", safecodec.Optional("UTC")).MustBuild()
	profileV1 = safecodec.NewSchema(2, "Profile", 1).
			Text("name").
			Bytes("avatar", safecodec.Optional(nil)).
			Float64("ratio", safecodec.Optional(0.5), safecodec.OmitDefault()).
			List("scores", safecodec.KindInt32).
			Record("span", 1).
			List("spans", safecodec.KindRecord, safecodec.Ref(1), safecodec.Optional(nil)).
			MustBuild()
)

func newRegistry(t *testing.T, descs ...*safecodec.Descriptor) *safecodec.Registry {
	t.Helper()
	reg := safecodec.NewRegistry()
	for _, d := range descs {
		require.NoError(t, reg.Register(safecodec.DefineFields(d)))
	}
	require.NoError(t, reg.Seal())
	return reg
}

func TestRoundTrip(t *testing.T) {
	reg := newRegistry(t, periodV1, periodV2, profileV1)
	m := FromRegistry(reg)
	require.Len(t, m.Types, 3)
	assert.Equal(t, uint32(1), m.Types[0].Version)
	assert.Equal(t, uint32(2), m.Types[1].Version)

	data, err := Marshal(m)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	if diff := cmp.Diff(m, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("manifest changed across CBOR (-want +got):\n%s", diff)
	}

	again, err := Marshal(FromRegistry(newRegistry(t, profileV1, periodV2, periodV1)))
	require.NoError(t, err)
	assert.Equal(t, data, again, "registration order must not change the encoding")
}

func TestRebuildRegistry(t *testing.T) {
	reg := newRegistry(t, periodV1, periodV2, profileV1)
	data, err := Marshal(FromRegistry(reg))
	require.NoError(t, err)
	m, err := Unmarshal(data)
	require.NoError(t, err)

	rebuilt, err := m.Registry()
	require.NoError(t, err)
	assert.True(t, rebuilt.Sealed())
	for _, d := range reg.Descriptors() {
		r, err := rebuilt.Resolve(d.ID(), d.Version())
		require.NoError(t, err)
		assert.Equal(t, d.Fingerprint(), r.Fingerprint(), d.String())
	}

	span := safecodec.NewFields(periodV2)
	require.NoError(t, span.Set("start", int64(1)))
	require.NoError(t, span.Set("end", int64(2)))
	p := safecodec.NewFields(profileV1)
	require.NoError(t, p.Set("name", "ada"))
	require.NoError(t, p.Set("scores", []any{int32(4)}))
	require.NoError(t, p.Set("span", span))
	rec, err := reg.Encode(p, 2)
	require.NoError(t, err)

	v, err := rebuilt.Decode(rec, 2, rebuilt.AllowAll(), safecodec.Limits{MaxDepth: 2})
	require.NoError(t, err)
	f := v.(*safecodec.Fields)
	ratio, _ := f.Get("ratio")
	assert.Equal(t, 0.5, ratio)
	nested, _ := f.Get("span")
	zone, _ := nested.(*safecodec.Fields).Get("zone")
	assert.Equal(t, "UTC", zone)
}

func TestRegisterLayouts(t *testing.T) {
	newer := newRegistry(t, periodV1, periodV2)
	span := safecodec.NewFields(periodV2)
	require.NoError(t, span.Set("start", int64(1)))
	require.NoError(t, span.Set("end", int64(2)))
	require.NoError(t, span.Set("zone", "CET"))
	rec, err := newer.Encode(span, 1)
	require.NoError(t, err)
	allow := safecodec.NewAllowList(1)

	older := newRegistry(t, periodV1)
	_, err = older.Decode(rec, 1, allow, safecodec.Limits{})
	assert.ErrorIs(t, err, safecodec.ErrUnknownVersion)

	older = safecodec.NewRegistry()
	require.NoError(t, older.Register(safecodec.DefineFields(periodV1)))
	require.NoError(t, FromRegistry(newer).RegisterLayouts(older))
	require.NoError(t, older.Seal())
	assert.Equal(t, []safecodec.SchemaVersion{1, 2}, older.Versions(1))

	v, err := older.Decode(rec, 1, allow, safecodec.Limits{})
	require.NoError(t, err)
	f := v.(*safecodec.Fields)
	end, _ := f.Get("end")
	assert.Equal(t, int64(2), end)
	_, ok := f.Get("zone")
	assert.False(t, ok)
}

func TestTamperedManifest(t *testing.T) {
	m := FromRegistry(newRegistry(t, periodV1))

	t.Run("Fingerprint", func(t *testing.T) {
		bad := *m
		bad.Types = []Type{m.Types[0]}
		bad.Types[0].Fields = []Field{{Name: "start", Kind: "int64"}, {Name: "end", Kind: "int32"}}
		_, err := bad.Registry()
		assert.ErrorContains(t, err, "fingerprint")
	})

	t.Run("UnknownKey", func(t *testing.T) {
		data, err := cbor.Marshal(map[int]any{1: FormatVersion, 2: []any{}, 9: "extra"})
		require.NoError(t, err)
		_, err = Unmarshal(data)
		assert.Error(t, err)
	})

	t.Run("Format", func(t *testing.T) {
		data, err := cbor.Marshal(map[int]any{1: 99, 2: []any{}})
		require.NoError(t, err)
		_, err = Unmarshal(data)
		assert.ErrorContains(t, err, "unsupported format")
	})

	t.Run("Validate", func(t *testing.T) {
		dup := Manifest{Format: FormatVersion, Types: []Type{m.Types[0], m.Types[0]}}
		assert.ErrorContains(t, dup.Validate(), "listed twice")

		short := Manifest{Format: FormatVersion, Types: []Type{{ID: 1, Version: 1, Fingerprint: []byte{1}}}}
		assert.ErrorContains(t, short.Validate(), "fingerprint is 1 bytes")

		kind := Manifest{Format: FormatVersion, Types: []Type{{ID: 1, Version: 1,
			Fingerprint: make([]byte, 32), Fields: []Field{{Name: "x", Kind: "uint8"}}}}}
		assert.ErrorIs(t, kind.Validate(), safecodec.ErrInvalidDescriptor)
	})
}

func TestDiff(t *testing.T) {
	periodV1b := safecodec.NewSchema(1, "Period", 1).Int64("start").Int32("end").Bool("open", safecodec.Optional(nil)).MustBuild()
	before := FromRegistry(newRegistry(t, periodV1, profileV1))
	after := FromRegistry(newRegistry(t, periodV1b, periodV2))

	changes := Diff(before, after)
	require.Len(t, changes, 3)

	assert.Equal(t, Change{Kind: Changed, ID: 1, Name: "Period", Version: 1, Fields: []string{"end", "open"}}, changes[0])
	assert.Equal(t, Change{Kind: Added, ID: 1, Name: "Period", Version: 2}, changes[1])
	assert.Equal(t, Change{Kind: Removed, ID: 2, Name: "Profile", Version: 1}, changes[2])
	assert.Equal(t, `changed Period(#1) v1 fields [end open]`, changes[0].String())

	assert.Empty(t, Diff(before, before))
}
