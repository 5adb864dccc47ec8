package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"sentinel/internal/domain"
)

type memStore struct {
	mu        sync.Mutex
	subs      map[string]domain.Subscription
	cycles    []domain.CycleRecord
	delivered map[string]domain.UTCTime
	closed    bool
}

// NewMemory returns a process-local Store.
func NewMemory() Store {
	return &memStore{
		subs:      map[string]domain.Subscription{},
		delivered: map[string]domain.UTCTime{},
	}
}

func cloneSub(s domain.Subscription) domain.Subscription {
	s.Channels = append([]domain.ChannelRef(nil), s.Channels...)
	s.Filter = append(domain.EventFilter(nil), s.Filter...)
	return s
}

func (m *memStore) Subscribe(_ context.Context, sub domain.Subscription, now domain.UTCTime) (domain.Subscription, bool, error) {
	sub.Status = domain.StatusActive
	if err := sub.Validate(); err != nil {
		return domain.Subscription{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.Subscription{}, false, ErrClosed
	}

	for id, cur := range m.subs {
		if cur.UserID != sub.UserID || cur.Repo != sub.Repo {
			continue
		}
		next, err := reactivate(cur, sub, now)
		if err != nil {
			return domain.Subscription{}, false, err
		}
		m.subs[id] = next
		return cloneSub(next), false, nil
	}

	sub = newSubscription(sub, now)
	m.subs[sub.ID] = cloneSub(sub)
	return sub, true, nil
}

// newSubscription fills identity and scheduling fields of a first subscribe.
func newSubscription(sub domain.Subscription, now domain.UTCTime) domain.Subscription {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.Status = domain.StatusActive
	sub.Channels = domain.DedupChannels(sub.Channels)
	sub.Filter = sub.Filter.Normalize()
	sub.LastWindowEnd = domain.UTCTime{}
	sub.NextDueAt = now
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return sub
}

// reactivate applies a repeated subscribe to an existing record. The
// watermark is kept so no activity is reported twice.
func reactivate(cur, req domain.Subscription, now domain.UTCTime) (domain.Subscription, error) {
	cur.Frequency = req.Frequency
	cur.Channels = domain.DedupChannels(req.Channels)
	cur.Filter = req.Filter.Normalize()
	cur.Status = domain.StatusActive
	cur.UpdatedAt = now
	if cur.HasRun() {
		next, err := cur.Frequency.Next(cur.LastWindowEnd)
		if err != nil {
			return domain.Subscription{}, err
		}
		cur.NextDueAt = next
	} else {
		cur.NextDueAt = now
	}
	return cur, nil
}

func (m *memStore) Get(_ context.Context, id string) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return domain.Subscription{}, ErrNotFound
	}
	return cloneSub(s), nil
}

func (m *memStore) GetByUserRepo(_ context.Context, userID string, repo domain.RepoID) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.UserID == userID && s.Repo == repo {
			return cloneSub(s), nil
		}
	}
	return domain.Subscription{}, ErrNotFound
}

func (m *memStore) List(_ context.Context, f ListFilter) ([]domain.Subscription, error) {
	m.mu.Lock()
	out := make([]domain.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		if f.match(s) {
			out = append(out, cloneSub(s))
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Repo < out[j].Repo
	})
	return out, nil
}

func (m *memStore) ListDue(_ context.Context, now domain.UTCTime) ([]domain.Subscription, error) {
	m.mu.Lock()
	out := make([]domain.Subscription, 0, 8)
	for _, s := range m.subs {
		if s.IsDue(now) {
			out = append(out, cloneSub(s))
		}
	}
	m.mu.Unlock()
	domain.SortSubscriptions(out)
	return out, nil
}

func (m *memStore) SetStatus(_ context.Context, id string, st domain.Status, now domain.UTCTime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = st
	s.UpdatedAt = now
	m.subs[id] = s
	return nil
}

func (m *memStore) UpdateChannels(_ context.Context, id string, chans []domain.ChannelRef, now domain.UTCTime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	s.Channels = domain.DedupChannels(chans)
	s.UpdatedAt = now
	m.subs[id] = s
	return nil
}

func (m *memStore) CompleteCycle(_ context.Context, rec domain.CycleRecord, prev, nextDue domain.UTCTime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[rec.SubscriptionID]
	if !ok {
		return ErrNotFound
	}
	if !s.LastWindowEnd.Equal(prev) {
		return ErrConflict
	}
	s.LastWindowEnd = rec.Window.Until
	s.NextDueAt = nextDue
	s.UpdatedAt = rec.FinishedAt
	m.subs[s.ID] = s
	m.cycles = append(m.cycles, rec)
	return nil
}

func (m *memStore) RecordCycle(_ context.Context, rec domain.CycleRecord) error {
	m.mu.Lock()
	m.cycles = append(m.cycles, rec)
	m.mu.Unlock()
	return nil
}

func (m *memStore) RecentCycles(_ context.Context, subscriptionID string, limit int) ([]domain.CycleRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CycleRecord, 0, limit)
	for i := len(m.cycles) - 1; i >= 0 && len(out) < limit; i-- {
		if subscriptionID == "" || m.cycles[i].SubscriptionID == subscriptionID {
			out = append(out, m.cycles[i])
		}
	}
	return out, nil
}

func (m *memStore) CountByStatus(_ context.Context) (map[domain.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[domain.Status]int{}
	for _, s := range m.subs {
		out[s.Status]++
	}
	return out, nil
}

func (m *memStore) Delivered(_ context.Context, reportKey, channel string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.delivered[reportKey+"|"+channel]
	return ok, nil
}

func (m *memStore) MarkDelivered(_ context.Context, reportKey, channel string, at domain.UTCTime) error {
	m.mu.Lock()
	m.delivered[reportKey+"|"+channel] = at
	m.mu.Unlock()
	return nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
