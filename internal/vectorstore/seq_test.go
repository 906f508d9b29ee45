package vectorstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSequencer_StrictlyIncreasing(t *testing.T) {
	frozen := time.Unix(1700000000, 0)
	timeNow = func() time.Time { return frozen }
	t.Cleanup(func() { timeNow = time.Now })

	var s sequencer
	a := s.reserve(3)
	b := s.reserve(1)
	c := s.reserve(2)

	assert.Equal(t, frozen.UnixNano(), a)
	assert.Equal(t, a+3, b)
	assert.Equal(t, b+1, c)
}

func TestParseSeq(t *testing.T) {
	assert.Equal(t, int64(42), parseSeq(map[string]string{SeqKey: "42"}))
	assert.Equal(t, int64(-1), parseSeq(map[string]string{}))
	assert.Equal(t, int64(-1), parseSeq(map[string]string{SeqKey: "x"}))
}

func TestSortByDistance(t *testing.T) {
	recs := []seqRecord{
		{id: "late-close", seq: 9, distance: 0.1},
		{id: "far", seq: 1, distance: 0.9},
		{id: "early-close", seq: 2, distance: 0.1},
	}
	sortByDistance(recs)
	assert.Equal(t, "early-close", recs[0].id)
	assert.Equal(t, "late-close", recs[1].id)
	assert.Equal(t, "far", recs[2].id)
}

func TestDedupeLast(t *testing.T) {
	b := Batch{IDs: []string{"a", "b", "a", "c"}}
	assert.Equal(t, []int{1, 2, 3}, dedupeLast(b))
}

func TestCopyMetadataStripsSeq(t *testing.T) {
	out := copyMetadata(map[string]string{"a": "1", SeqKey: "7"})
	assert.Equal(t, map[string]string{"a": "1"}, out)
	assert.NotNil(t, copyMetadata(nil))
}
