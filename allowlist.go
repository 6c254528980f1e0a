package safecodec

import (
	"maps"
	"slices"
)

// AllowList is the set of TypeIDs a decode context admits. Anything not named
// is rejected; there is no way to express "everything except".
//
// An AllowList is immutable; With returns an extended copy. A nil *AllowList
// admits nothing.
type AllowList struct {
	ids map[TypeID]struct{}
}

func NewAllowList(ids ...TypeID) *AllowList {
	a := &AllowList{ids: make(map[TypeID]struct{}, len(ids))}
	for _, id := range ids {
		a.ids[id] = struct{}{}
	}
	return a
}

func (a *AllowList) Allows(id TypeID) bool {
	if a == nil {
		return false
	}
	_, ok := a.ids[id]
	return ok
}

// With returns a copy of a that also admits ids.
func (a *AllowList) With(ids ...TypeID) *AllowList {
	c := NewAllowList(ids...)
	if a != nil {
		maps.Copy(c.ids, a.ids)
	}
	return c
}

// IDs returns the admitted TypeIDs in ascending order.
func (a *AllowList) IDs() []TypeID {
	if a == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(a.ids))
}

func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.ids)
}
