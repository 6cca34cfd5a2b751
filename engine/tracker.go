package engine

import (
	"sort"
	"sync"
	"time"
)

// BatchStatus is a snapshot of a batch that has not returned yet
type BatchStatus struct {
	ID        string      `json:"id"`
	Kind      RequestKind `json:"kind"`
	Target    string      `json:"target"`
	State     BatchState  `json:"state"`
	Total     int         `json:"total"`
	Done      int         `json:"done"`
	Failed    int         `json:"failed"`
	StartedAt time.Time   `json:"startedAt"`
}

// Tracker holds the batches currently in flight. Entries are dropped as soon as a batch
// returns, nothing is kept afterwards.
type Tracker struct {
	mu      sync.Mutex
	batches map[string]*BatchStatus
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{batches: make(map[string]*BatchStatus)}
}

func (t *Tracker) begin(id string, req ConversionRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches[id] = &BatchStatus{
		ID:        id,
		Kind:      req.Kind,
		Target:    req.Target(),
		State:     StateReceived,
		StartedAt: time.Now(),
	}
}

func (t *Tracker) update(id string, fn func(*BatchStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if status, ok := t.batches[id]; ok {
		fn(status)
	}
}

func (t *Tracker) setState(id string, state BatchState) {
	t.update(id, func(s *BatchStatus) { s.State = state })
}

func (t *Tracker) setTotal(id string, total int) {
	t.update(id, func(s *BatchStatus) { s.Total = total })
}

func (t *Tracker) documentDone(id string, ok bool) {
	t.update(id, func(s *BatchStatus) {
		s.Done++
		if !ok {
			s.Failed++
		}
	})
}

func (t *Tracker) finish(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.batches, id)
}

// Active lists the in-flight batches, oldest first
func (t *Tracker) Active() []BatchStatus {
	t.mu.Lock()
	active := make([]BatchStatus, 0, len(t.batches))
	for _, status := range t.batches {
		active = append(active, *status)
	}
	t.mu.Unlock()

	sort.Slice(active, func(i, j int) bool {
		if active[i].StartedAt.Equal(active[j].StartedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].StartedAt.Before(active[j].StartedAt)
	})
	return active
}
