package vectorstore

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// sequencer hands out strictly increasing insertion sequence numbers.
// It is seeded from the wall clock so that records written by a later
// process sort after records written by an earlier one.
type sequencer struct {
	mu   sync.Mutex
	last int64
}

// reserve returns the first of n consecutive sequence numbers.
func (s *sequencer) reserve(n int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := timeNow().UnixNano()
	if next <= s.last {
		next = s.last + 1
	}
	s.last = next + int64(n) - 1
	return next
}

func formatSeq(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

// parseSeq returns the sequence stored in metadata, or -1 when it is
// absent or malformed. Records without a sequence sort first.
func parseSeq(m map[string]string) int64 {
	v, ok := m[SeqKey]
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// seqRecord is an intermediate representation used to sort adapter output.
type seqRecord struct {
	seq      int64
	id       string
	vector   []float32
	text     string
	metadata map[string]string
	distance float32
}

// sortByInsertion orders records by sequence, then id.
func sortByInsertion(recs []seqRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].seq != recs[j].seq {
			return recs[i].seq < recs[j].seq
		}
		return recs[i].id < recs[j].id
	})
}

// sortByDistance orders records by distance, breaking ties by insertion.
func sortByDistance(recs []seqRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].distance != recs[j].distance {
			return recs[i].distance < recs[j].distance
		}
		if recs[i].seq != recs[j].seq {
			return recs[i].seq < recs[j].seq
		}
		return recs[i].id < recs[j].id
	})
}

func toBatch(recs []seqRecord, include Include) Batch {
	b := Batch{IDs: make([]string, len(recs))}
	if include.Vectors {
		b.Vectors = make([][]float32, len(recs))
	}
	if include.Texts {
		b.Texts = make([]string, len(recs))
	}
	if include.Metadatas {
		b.Metadatas = make([]map[string]string, len(recs))
	}
	for i, r := range recs {
		b.IDs[i] = r.id
		if include.Vectors {
			b.Vectors[i] = r.vector
		}
		if include.Texts {
			b.Texts[i] = r.text
		}
		if include.Metadatas {
			b.Metadatas[i] = copyMetadata(r.metadata)
		}
	}
	return b
}

func toMatches(recs []seqRecord) []Match {
	out := make([]Match, len(recs))
	for i, r := range recs {
		out[i] = Match{
			ID:       r.id,
			Text:     r.text,
			Metadata: copyMetadata(r.metadata),
			Distance: r.distance,
		}
	}
	return out
}

// dedupeLast keeps the last occurrence of each id, in order of that
// occurrence, so that a batch with repeated ids upserts deterministically.
func dedupeLast(b Batch) []int {
	last := make(map[string]int, len(b.IDs))
	for i, id := range b.IDs {
		last[id] = i
	}
	idx := make([]int, 0, len(last))
	for i, id := range b.IDs {
		if last[id] == i {
			idx = append(idx, i)
		}
	}
	return idx
}
