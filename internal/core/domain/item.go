package domain

import "strings"

// ItemIdentity is the canonical stock-keeping identity: a normalized
// (name, unit) pair. Two spellings of the same material ("Cement  ", "cement")
// must always resolve to the same identity, otherwise a site ends up with
// duplicate records for one physical item.
type ItemIdentity struct {
	Name string
	Unit string
}

// NewItemIdentity normalizes and validates an item identity. Names and units
// are lower-cased, trimmed and inner whitespace is collapsed.
func NewItemIdentity(name, unit string) (ItemIdentity, error) {
	it := ItemIdentity{
		Name: normalize(name),
		Unit: normalize(unit),
	}
	if it.Name == "" || it.Unit == "" {
		return ItemIdentity{}, ErrInvalidItem
	}
	return it, nil
}

// Key returns the deterministic storage key for the identity. Record lookup
// and create-if-absent collapse into a single keyed write, so two concurrent
// first receipts can never produce two records.
func (i ItemIdentity) Key() string {
	return i.Name + "|" + i.Unit
}

func (i ItemIdentity) String() string {
	return i.Name + " (" + i.Unit + ")"
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
