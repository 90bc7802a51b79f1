package btree

import (
	"github.com/fxamacker/cbor/v2"
)

// Damage records are transient; repair tooling that wants to act on them
// later (or on another machine) needs a stable interchange form. The codec
// here is deterministic CBOR so identical walks produce identical reports.

type damageRecord struct {
	Level uint    `cbor:"1,keyasint"`
	Begin *uint64 `cbor:"2,keyasint,omitempty"`
	End   *uint64 `cbor:"3,keyasint,omitempty"`
	Desc  string  `cbor:"4,keyasint"`
}

var damageEncMode, damageEncModeErr = cbor.EncOptions{
	Sort: cbor.SortCoreDeterministic,
}.EncMode()

// MarshalDamage encodes a damage list for downstream tooling.
func MarshalDamage(damage []Damage) ([]byte, error) {
	if damageEncModeErr != nil {
		return nil, damageEncModeErr
	}
	recs := make([]damageRecord, 0, len(damage))
	for _, d := range damage {
		recs = append(recs, damageRecord{
			Level: d.Level,
			Begin: d.Keys.Begin,
			End:   d.Keys.End,
			Desc:  d.Desc,
		})
	}
	return damageEncMode.Marshal(recs)
}

// UnmarshalDamage decodes a report produced by MarshalDamage.
func UnmarshalDamage(data []byte) ([]Damage, error) {
	var recs []damageRecord
	if err := cbor.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	damage := make([]Damage, 0, len(recs))
	for _, r := range recs {
		damage = append(damage, Damage{
			Level: r.Level,
			Keys:  KeyRange{Begin: r.Begin, End: r.End},
			Desc:  r.Desc,
		})
	}
	return damage, nil
}
