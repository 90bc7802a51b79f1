package btreetesting

import "github.com/zkabelac/thin-provisioning-tools/btree"

// ValueEntry is one recorded value observation.
type ValueEntry[V any] struct {
	Key   uint64
	Value V
}

// RecordingValueVisitor appends every observed value to an ordered log.
// Assertions compare the log against the expected sequence, which keeps the
// tests free of mock-expectation machinery.
type RecordingValueVisitor[V any] struct {
	Values []ValueEntry[V]
}

func (v *RecordingValueVisitor[V]) Visit(key uint64, value V) {
	v.Values = append(v.Values, ValueEntry[V]{Key: key, Value: value})
}

// RecordingDamageVisitor appends every damage record to an ordered log.
type RecordingDamageVisitor struct {
	Damage []btree.Damage
}

func (v *RecordingDamageVisitor) Visit(d btree.Damage) {
	v.Damage = append(v.Damage, d)
}
