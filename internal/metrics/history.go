package metrics

// historyRing is a fixed-capacity ring of completed-request records; the
// oldest record is evicted first.
type historyRing struct {
	records []HistoryRecord
	next    int
	full    bool
}

func newHistoryRing(capacity int) *historyRing {
	return &historyRing{records: make([]HistoryRecord, capacity)}
}

func (r *historyRing) append(rec HistoryRecord) {
	r.records[r.next] = rec
	r.next++
	if r.next == len(r.records) {
		r.next = 0
		r.full = true
	}
}

func (r *historyRing) len() int {
	if r.full {
		return len(r.records)
	}
	return r.next
}

// tail returns up to limit most recent records, oldest first. limit <= 0
// returns everything retained.
func (r *historyRing) tail(limit int) []HistoryRecord {
	n := r.len()
	if n == 0 {
		return nil
	}
	out := make([]HistoryRecord, 0, n)
	start := 0
	if r.full {
		start = r.next
	}
	for i := 0; i < n; i++ {
		out = append(out, r.records[(start+i)%len(r.records)])
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
