package replicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRangeSetRetiresOnCompletion(t *testing.T) {
	rs := newRangeSet()
	r := rs.create(0, 3, true)

	have := map[uint64]bool{}
	haveFn := func(i uint64) bool { return have[i] }

	rs.onBlock(0, haveFn)
	select {
	case <-r.Done():
		t.Fatal("range finished too early")
	case <-time.After(10 * time.Millisecond):
	}

	have[0], have[1], have[2] = true, true, true
	rs.onBlock(2, haveFn)

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("range never finished")
	}
	require.NoError(t, r.Err())
}

func TestRangeSetCancel(t *testing.T) {
	rs := newRangeSet()
	r := rs.create(0, 10, true)
	rs.cancel(r.ID)

	<-r.Done()
	require.ErrorIs(t, r.Err(), errRangeCancelled)
}

func TestRangeContainsOpenEnded(t *testing.T) {
	r := newRange(1, 5, 0, false)
	require.False(t, r.contains(4))
	require.True(t, r.contains(5))
	require.True(t, r.contains(100))
}
