package reputation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitCreatesProbationEntry(t *testing.T) {
	r := New()

	actor, ok := r.Admit("10.0.0.1")
	assert.True(t, ok)
	assert.Equal(t, StatusProbation, actor.Status)
	assert.Zero(t, actor.Successes)
	assert.Zero(t, actor.Failures)

	_, known := r.Get("10.0.0.1")
	assert.True(t, known, "admission records the address")
	_, known = r.Get("10.0.0.2")
	assert.False(t, known)
}

func TestBanRequiresMoreThanThresholdFailures(t *testing.T) {
	r := New()

	for i := 1; i <= BanThreshold; i++ {
		assert.False(t, r.RecordFailure("10.0.0.1"), "failure %d must not ban", i)
	}
	actor, ok := r.Admit("10.0.0.1")
	assert.True(t, ok, "at the threshold the address is still admitted")
	assert.Equal(t, StatusProbation, actor.Status)

	assert.True(t, r.RecordFailure("10.0.0.1"), "failure %d crosses the threshold", BanThreshold+1)
	_, ok = r.Admit("10.0.0.1")
	assert.False(t, ok)
}

func TestBanIsTerminal(t *testing.T) {
	r := New()
	for i := 0; i <= BanThreshold; i++ {
		r.RecordFailure("10.0.0.1")
	}
	_, ok := r.Admit("10.0.0.1")
	require.False(t, ok)

	// successes after the ban change nothing
	for i := 0; i < 100; i++ {
		r.RecordSuccess("10.0.0.1")
	}
	_, ok = r.Admit("10.0.0.1")
	assert.False(t, ok)

	// further failures do not re-trigger the newly-banned signal
	assert.False(t, r.RecordFailure("10.0.0.1"))
}

func TestSuccessesDoNotOffsetFailures(t *testing.T) {
	r := New()
	for i := 0; i < 50; i++ {
		r.RecordSuccess("10.0.0.1")
	}
	for i := 0; i < BanThreshold; i++ {
		r.RecordFailure("10.0.0.1")
	}
	assert.True(t, r.RecordFailure("10.0.0.1"),
		"ban counts failures alone, whatever the success history")
}

func TestAddressesAreIndependent(t *testing.T) {
	r := New()
	for i := 0; i <= BanThreshold; i++ {
		r.RecordFailure("10.0.0.1")
	}

	_, ok := r.Admit("10.0.0.2")
	assert.True(t, ok)
}

func TestSnapshotCopies(t *testing.T) {
	r := New()
	for i := 0; i < 3; i++ {
		r.Admit(fmt.Sprintf("10.0.0.%d", i))
	}
	r.RecordSuccess("10.0.0.0")

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, uint32(1), snap["10.0.0.0"].Successes)

	entry := snap["10.0.0.1"]
	entry.Failures = 99
	fresh, _ := r.Get("10.0.0.1")
	assert.Zero(t, fresh.Failures, "snapshot mutations do not write back")
}
