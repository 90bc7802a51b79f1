package btree_test

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/zkabelac/thin-provisioning-tools/btree"
)

func u64ptr(v uint64) *uint64 { return &v }

func TestDamageReportRoundTrip(t *testing.T) {
	in := []btree.Damage{
		{Level: 0, Keys: btree.KeyRange{Begin: u64ptr(100), End: u64ptr(250)}, Desc: "checksum mismatch"},
		{Level: 1, Keys: btree.KeyRange{Begin: u64ptr(7)}, Desc: "keys out of order"},
		{Level: 0, Keys: btree.KeyRange{}, Desc: "unreadable root"},
	}

	data, err := btree.MarshalDamage(in)
	assert.NilError(t, err)

	out, err := btree.UnmarshalDamage(data)
	assert.NilError(t, err)
	assert.DeepEqual(t, in, out)
}

func TestDamageReportEmpty(t *testing.T) {
	data, err := btree.MarshalDamage(nil)
	assert.NilError(t, err)

	out, err := btree.UnmarshalDamage(data)
	assert.NilError(t, err)
	assert.Assert(t, len(out) == 0)
}

func TestDamageReportDeterministic(t *testing.T) {
	in := []btree.Damage{
		{Level: 2, Keys: btree.KeyRange{Begin: u64ptr(1), End: u64ptr(2)}, Desc: "bad value size"},
	}
	a, err := btree.MarshalDamage(in)
	assert.NilError(t, err)
	b, err := btree.MarshalDamage(in)
	assert.NilError(t, err)
	assert.DeepEqual(t, a, b)
}

func TestDamageString(t *testing.T) {
	d := btree.Damage{Level: 1, Keys: btree.KeyRange{Begin: u64ptr(10)}, Desc: "io error"}
	assert.Equal(t, d.String(), "damage at level 1, keys [10, ..): io error")

	open := btree.KeyRange{}
	assert.Equal(t, open.String(), "[.., ..)")
}
