package core_test

import (
	"PerpMetrics/internal/core"
	"PerpMetrics/internal/position"
	"PerpMetrics/internal/testutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest_StableAcrossRuns(t *testing.T) {
	first, err := newPipeline(nil).Run(decodeFixture(t), position.Options{})
	require.NoError(t, err)
	second, err := newPipeline(nil).Run(decodeFixture(t), position.Options{})
	require.NoError(t, err)

	a, err := core.Digest(first.Book)
	require.NoError(t, err)
	b, err := core.Digest(second.Book)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	afterFees, err := newPipeline(nil).Run(decodeFixture(t), position.Options{ShowPnlAfterFees: true})
	require.NoError(t, err)
	c, err := core.Digest(afterFees.Book)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestDigest_NilBook(t *testing.T) {
	_, err := core.Digest(nil)
	assert.Error(t, err)
}

func TestChangeTracker(t *testing.T) {
	tracker, err := core.NewChangeTracker(2)
	require.NoError(t, err)

	d1 := [32]byte{1}
	d2 := [32]byte{2}

	assert.True(t, tracker.Changed(testutil.Account, d1))
	assert.False(t, tracker.Changed(testutil.Account, d1))
	assert.True(t, tracker.Changed(testutil.Account, d2))

	tracker.Forget(testutil.Account)
	assert.True(t, tracker.Changed(testutil.Account, d2))

	tracker.Changed("b", d1)
	tracker.Changed("c", d1)
	assert.Equal(t, 2, tracker.Len())
	// Account was least recently used and has been evicted
	assert.True(t, tracker.Changed(testutil.Account, d2))
}

func TestChangeTracker_InvalidCapacity(t *testing.T) {
	_, err := core.NewChangeTracker(0)
	assert.Error(t, err)
}
