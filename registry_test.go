package safecodec

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	t.Run("SameShapeTwice", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(periodType()))
		require.NoError(t, reg.Register(uncheckedPeriodType()))
		assert.Equal(t, []SchemaVersion{1}, reg.Versions(periodID))
	})

	t.Run("DifferentShapeSameVersion", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(periodType()))
		other := NewSchema(periodID, "Period", 1).Int64("start").MustBuild()
		err := reg.Register(DefineFields(other))
		assert.ErrorIs(t, err, ErrDuplicateType)
	})

	t.Run("NameTakenByOtherType", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(periodType()))
		err := reg.Register(DefineFields(NewSchema(99, "Period", 1).Int32("x").MustBuild()))
		assert.ErrorIs(t, err, ErrDuplicateType)
	})

	t.Run("Sealed", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(periodType()))
		require.NoError(t, reg.Seal())
		require.NoError(t, reg.Seal())
		assert.True(t, reg.Sealed())

		err := reg.Register(tagType())
		assert.ErrorIs(t, err, ErrRegistrySealed)
	})

	t.Run("RacingSeal", func(t *testing.T) {
		reg := NewRegistry()
		var (
			wg     sync.WaitGroup
			sealed int
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, reg.Seal())
			sealed = len(reg.Descriptors())
		}()
		for i := range 64 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				desc := NewSchema(TypeID(1000+i), fmt.Sprintf("Racer%d", i), 1).Int32("n").MustBuild()
				err := reg.Register(DefineFields(desc))
				if err != nil {
					assert.ErrorIs(t, err, ErrRegistrySealed)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, sealed, len(reg.Descriptors()), "a registration landed after Seal returned")
	})

	t.Run("ReferenceTypeNeedsCopy", func(t *testing.T) {
		reg := NewRegistry()
		bare := Define[*Period](periodDesc).
			EncodeWith(func(w *FieldWriter, p *Period) {
				w.Int64("start", p.Start)
				w.Int64("end", p.End)
			}).
			DecodeWith(func(r *FieldReader) *Period {
				return &Period{Start: r.Int64("start"), End: r.Int64("end")}
			})
		assert.ErrorIs(t, reg.Register(bare), ErrInvalidDescriptor)

		copied := bare.CopyWith(func(p *Period) *Period {
			c := *p
			return &c
		})
		assert.NoError(t, reg.Register(copied))

		assert.NoError(t, reg.Register(Define[Tag](tagDesc)))
	})

	t.Run("DanglingReference", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(profileType()))
		err := reg.Seal()
		assert.ErrorIs(t, err, ErrUnknownType)
		var se *SchemaError
		require.ErrorAs(t, err, &se)
		assert.Contains(t, []string{"span", "tags"}, se.Field)
		assert.False(t, reg.Sealed())
	})

	t.Run("LogsRegistration", func(t *testing.T) {
		var buf bytes.Buffer
		reg := NewRegistry(WithLogger(zerolog.New(&buf)))
		require.NoError(t, reg.Register(periodType()))
		assert.Contains(t, buf.String(), `"type":"Period"`)
		assert.Contains(t, buf.String(), "schema registered")
	})
}

func TestRegistryLookups(t *testing.T) {
	reg := newTestRegistry()

	t.Run("Resolve", func(t *testing.T) {
		d, err := reg.Resolve(periodID, 1)
		require.NoError(t, err)
		assert.Equal(t, periodDesc.Fingerprint(), d.Fingerprint())

		_, err = reg.Resolve(periodID, 2)
		assert.ErrorIs(t, err, ErrUnknownVersion)
		_, err = reg.Resolve(404, 1)
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("Latest", func(t *testing.T) {
		accounts := accountRegistry(t, accountV2, accountV1)
		d, err := accounts.Latest(accountID)
		require.NoError(t, err)
		assert.Equal(t, SchemaVersion(2), d.Version())
		assert.Equal(t, []SchemaVersion{1, 2}, accounts.Versions(accountID))

		_, err = accounts.Latest(404)
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("Names", func(t *testing.T) {
		id, ok := reg.LookupName("Profile")
		assert.True(t, ok)
		assert.Equal(t, profileID, id)
		_, ok = reg.LookupName("Missing")
		assert.False(t, ok)
	})

	t.Run("Descriptors", func(t *testing.T) {
		var ids []TypeID
		for _, d := range reg.Descriptors() {
			ids = append(ids, d.ID())
		}
		assert.Equal(t, []TypeID{periodID, nodeID, profileID, tagID}, ids)
		assert.Equal(t, []TypeID{periodID, nodeID, profileID, tagID}, reg.AllowAll().IDs())
	})

	t.Run("UnregisteredEncode", func(t *testing.T) {
		_, err := reg.Encode(Period{}, 404)
		assert.ErrorIs(t, err, ErrUnregisteredType)
	})

	t.Run("WrongGoType", func(t *testing.T) {
		_, err := reg.Encode("period", periodID)
		assert.ErrorIs(t, err, ErrTypeMismatch)
		_, err = Decode[Tag](reg, mustEncode(t, reg, Period{1, 2}, periodID), periodID, reg.AllowAll(), Limits{})
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("RequiredFieldNotSet", func(t *testing.T) {
		raw := NewRegistry()
		require.NoError(t, raw.Register(DefineFields(periodDesc)))
		f := NewFields(periodDesc)
		require.NoError(t, f.Set("start", int64(1)))
		_, err := raw.Encode(f, periodID)
		assert.ErrorIs(t, err, ErrTypeMismatch)
		var se *SchemaError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "end", se.Field)
	})
}

func mustEncode(t *testing.T, reg *Registry, v any, id TypeID) []byte {
	t.Helper()
	data, err := reg.Encode(v, id)
	require.NoError(t, err)
	return data
}

func TestAppendRecord(t *testing.T) {
	reg := newTestRegistry()
	prefix := []byte{0xAB}
	out, err := reg.AppendRecord(prefix, Period{Start: 1, End: 2}, periodID)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), out[0])
	assert.Equal(t, mustEncode(t, reg, Period{Start: 1, End: 2}, periodID), out[1:])

	out, err = reg.AppendRecord(prefix, Period{Start: 2, End: 1}, periodID)
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.Equal(t, prefix, out)
}

func TestCompatibleFields(t *testing.T) {
	t.Run("AddedOptional", func(t *testing.T) {
		m, err := CompatibleFields(accountV1, accountV2)
		require.NoError(t, err)
		require.Len(t, m.Sources, 3)
		assert.Equal(t, 0, m.Sources[0].Writer)
		assert.Equal(t, 1, m.Sources[1].Writer)
		assert.True(t, m.Sources[2].Defaulted())
	})

	t.Run("Reordered", func(t *testing.T) {
		m, err := CompatibleFields(accountV2, accountV3)
		require.NoError(t, err)
		assert.Equal(t, 2, m.Sources[0].Writer)
		assert.Equal(t, 1, m.Sources[1].Writer)
	})

	t.Run("AddedRequired", func(t *testing.T) {
		v2 := NewSchema(accountID, "Account", 2).Text("owner").Int64("balance").Text("currency").MustBuild()
		_, err := CompatibleFields(accountV1, v2)
		assert.ErrorIs(t, err, ErrIncompatibleSchema)
		var se *SchemaError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "currency", se.Field)
		assert.Equal(t, SchemaVersion(1), se.WriterVersion)
		assert.Equal(t, SchemaVersion(2), se.ReaderVersion)
	})

	t.Run("KindChanged", func(t *testing.T) {
		v2 := NewSchema(accountID, "Account", 2).Text("owner").Int32("balance").MustBuild()
		_, err := CompatibleFields(accountV1, v2)
		assert.ErrorIs(t, err, ErrIncompatibleSchema)
	})

	t.Run("DifferentTypes", func(t *testing.T) {
		_, err := CompatibleFields(periodDesc, accountV1)
		assert.ErrorIs(t, err, ErrIncompatibleSchema)
	})

	t.Run("Cached", func(t *testing.T) {
		reg := accountRegistry(t, accountV1, accountV2)
		a, err := reg.CompatibleFields(accountV1, accountV2)
		require.NoError(t, err)
		b, err := reg.CompatibleFields(accountV1, accountV2)
		require.NoError(t, err)
		assert.Same(t, a, b)
	})
}
