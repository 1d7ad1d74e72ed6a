package sentiment

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store persists per-subject prediction history and the last computed score.
type Store interface {
	AppendPrediction(ctx context.Context, subject string, p SourcePrediction) error
	Predictions(ctx context.Context, subject string) ([]SourcePrediction, error)
	SaveScore(ctx context.Context, subject string, s Score) error
}

// AtomicStore is a Store that can append to a subject, reload its history and
// save the recomputed score as one transaction. Stores shared between
// processes implement it; the tracker's in-process locks cannot reach them.
type AtomicStore interface {
	Store
	// UpdateScore appends p when it is non-nil, then saves and returns
	// score(history) without letting another writer in between.
	UpdateScore(ctx context.Context, subject string, p *SourcePrediction, score func([]SourcePrediction) Score) (Score, error)
}

// Tracker appends predictions to subjects and keeps their scores current.
// Append and the recomputation that follows it run under a per-subject lock.
// With an AtomicStore they also run inside the store's transaction, so a
// stored score covers every prediction committed before it, whichever
// process wrote them.
type Tracker struct {
	store Store
	opts  Options
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a tracker. A nil clock uses time.Now.
func NewTracker(store Store, opts Options, clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		store: store,
		opts:  opts,
		now:   clock,
		locks: make(map[string]*sync.Mutex),
	}
}

func (t *Tracker) lock(subject string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[subject]
	if !ok {
		l = &sync.Mutex{}
		t.locks[subject] = l
	}
	return l
}

// Append records p against subject and returns the recomputed score.
func (t *Tracker) Append(ctx context.Context, subject string, p SourcePrediction) (Score, error) {
	if subject == "" {
		return Score{}, fmt.Errorf("empty subject")
	}
	l := t.lock(subject)
	l.Lock()
	defer l.Unlock()

	if as, ok := t.store.(AtomicStore); ok {
		s, err := as.UpdateScore(ctx, subject, &p, t.score)
		if err != nil {
			return Score{}, fmt.Errorf("appending prediction: %w", err)
		}
		return s, nil
	}
	if err := t.store.AppendPrediction(ctx, subject, p); err != nil {
		return Score{}, fmt.Errorf("appending prediction: %w", err)
	}
	return t.recompute(ctx, subject)
}

// Refresh recomputes subject's score from its stored history, for example
// after time has passed and recency weights have shifted.
func (t *Tracker) Refresh(ctx context.Context, subject string) (Score, error) {
	l := t.lock(subject)
	l.Lock()
	defer l.Unlock()
	return t.recompute(ctx, subject)
}

// Current returns subject's score as of now without persisting it.
func (t *Tracker) Current(ctx context.Context, subject string) (Score, error) {
	preds, err := t.store.Predictions(ctx, subject)
	if err != nil {
		return Score{}, fmt.Errorf("loading predictions: %w", err)
	}
	return Aggregate(preds, t.now(), t.opts), nil
}

func (t *Tracker) score(preds []SourcePrediction) Score {
	return Aggregate(preds, t.now(), t.opts)
}

func (t *Tracker) recompute(ctx context.Context, subject string) (Score, error) {
	if as, ok := t.store.(AtomicStore); ok {
		s, err := as.UpdateScore(ctx, subject, nil, t.score)
		if err != nil {
			return Score{}, fmt.Errorf("recomputing score: %w", err)
		}
		return s, nil
	}
	preds, err := t.store.Predictions(ctx, subject)
	if err != nil {
		return Score{}, fmt.Errorf("loading predictions: %w", err)
	}
	s := t.score(preds)
	if err := t.store.SaveScore(ctx, subject, s); err != nil {
		return Score{}, fmt.Errorf("saving score: %w", err)
	}
	return s, nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	preds  map[string][]SourcePrediction
	scores map[string]Score
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		preds:  make(map[string][]SourcePrediction),
		scores: make(map[string]Score),
	}
}

func (m *MemoryStore) AppendPrediction(_ context.Context, subject string, p SourcePrediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preds[subject] = append(m.preds[subject], p)
	return nil
}

func (m *MemoryStore) Predictions(_ context.Context, subject string) ([]SourcePrediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SourcePrediction{}, m.preds[subject]...), nil
}

func (m *MemoryStore) SaveScore(_ context.Context, subject string, s Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[subject] = s
	return nil
}

// Score returns the last saved score for subject.
func (m *MemoryStore) Score(subject string) (Score, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scores[subject]
	return s, ok
}
