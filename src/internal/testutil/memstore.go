// Package testutil holds in-memory stand-ins for the database and the chat
// platform, shared by the service and api tests.
package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/store"
)

type memData struct {
	people   map[int64]model.Person
	channels map[int64]model.Channel
	configs  map[int64]model.PersonChannelConfig
	reviews  map[int64]model.AssignedReview
	nextID   int64
}

func (d *memData) clone() *memData {
	c := &memData{
		people:   make(map[int64]model.Person, len(d.people)),
		channels: make(map[int64]model.Channel, len(d.channels)),
		configs:  make(map[int64]model.PersonChannelConfig, len(d.configs)),
		reviews:  make(map[int64]model.AssignedReview, len(d.reviews)),
		nextID:   d.nextID,
	}
	for k, v := range d.people {
		c.people[k] = v
	}
	for k, v := range d.channels {
		c.channels[k] = v
	}
	for k, v := range d.configs {
		c.configs[k] = v
	}
	for k, v := range d.reviews {
		c.reviews[k] = v
	}
	return c
}

func (d *memData) id() int64 {
	d.nextID++
	return d.nextID
}

// MemStore is a store.Session factory backed by maps. Sessions are
// serialized and a failing session leaves the data untouched.
type MemStore struct {
	mu   sync.Mutex
	data *memData
}

func NewMemStore() *MemStore {
	return &MemStore{data: (&memData{}).clone()}
}

func (m *MemStore) WithSession(ctx context.Context, fn func(store.Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.data.clone()
	if err := fn(&MemSession{d: work}); err != nil {
		return err
	}
	m.data = work
	return nil
}

// Session returns a session writing straight into the store, for tests that
// drive the broker or engine without a runner.
func (m *MemStore) Session() *MemSession {
	return &MemSession{d: m.data}
}

type MemSession struct {
	d *memData
}

func (s *MemSession) PersonByExternalID(_ context.Context, externalID string) (*model.Person, error) {
	for _, p := range s.d.people {
		if p.ExternalID == externalID {
			return &p, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *MemSession) PersonByID(_ context.Context, id int64) (*model.Person, error) {
	p, ok := s.d.people[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &p, nil
}

func (s *MemSession) CreatePerson(ctx context.Context, p *model.Person) error {
	if existing, err := s.PersonByExternalID(ctx, p.ExternalID); err == nil {
		*p = *existing
		return nil
	}
	// Emails are unique; a second person with a taken email is stored without one.
	if p.Email != nil {
		for _, other := range s.d.people {
			if other.Email != nil && *other.Email == *p.Email {
				p.Email = nil
				break
			}
		}
	}
	p.ID = s.d.id()
	s.d.people[p.ID] = *p
	return nil
}

func (s *MemSession) UpdatePerson(_ context.Context, p *model.Person) error {
	if _, ok := s.d.people[p.ID]; !ok {
		return model.ErrNotFound
	}
	s.d.people[p.ID] = *p
	return nil
}

func (s *MemSession) DeletePerson(_ context.Context, personID int64) error {
	if _, ok := s.d.people[personID]; !ok {
		return model.ErrNotFound
	}
	delete(s.d.people, personID)
	for id, c := range s.d.configs {
		if c.PersonID == personID {
			delete(s.d.configs, id)
		}
	}
	return nil
}

func (s *MemSession) ChannelByExternalID(_ context.Context, externalID string) (*model.Channel, error) {
	for _, c := range s.d.channels {
		if c.ExternalID == externalID {
			return &c, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *MemSession) ChannelByID(_ context.Context, id int64) (*model.Channel, error) {
	c, ok := s.d.channels[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &c, nil
}

func (s *MemSession) CreateChannel(ctx context.Context, c *model.Channel) error {
	if existing, err := s.ChannelByExternalID(ctx, c.ExternalID); err == nil {
		*c = *existing
		return nil
	}
	c.ID = s.d.id()
	s.d.channels[c.ID] = *c
	return nil
}

// DeleteChannel mimics ON DELETE SET NULL on assigned_reviews.
func (s *MemSession) DeleteChannel(channelID int64) {
	delete(s.d.channels, channelID)
	for id, c := range s.d.configs {
		if c.ChannelID == channelID {
			delete(s.d.configs, id)
		}
	}
	for id, r := range s.d.reviews {
		if r.ChannelID != nil && *r.ChannelID == channelID {
			r.ChannelID = nil
			s.d.reviews[id] = r
		}
	}
}

func (s *MemSession) ConfigFor(_ context.Context, personID, channelID int64) (*model.PersonChannelConfig, error) {
	for _, c := range s.d.configs {
		if c.PersonID == personID && c.ChannelID == channelID {
			return &c, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *MemSession) CreateConfig(ctx context.Context, c *model.PersonChannelConfig) error {
	if existing, err := s.ConfigFor(ctx, c.PersonID, c.ChannelID); err == nil {
		*c = *existing
		return nil
	}
	c.ID = s.d.id()
	s.d.configs[c.ID] = *c
	return nil
}

func (s *MemSession) UpdateConfig(_ context.Context, c *model.PersonChannelConfig) error {
	if _, ok := s.d.configs[c.ID]; !ok {
		return model.ErrNotFound
	}
	s.d.configs[c.ID] = *c
	return nil
}

func (s *MemSession) sortedReviews(keep func(model.AssignedReview) bool) []model.AssignedReview {
	out := []model.AssignedReview{}
	for _, r := range s.d.reviews {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AssignedAt.Before(out[j].AssignedAt)
	})
	return out
}

func (s *MemSession) AssignmentsByPRURL(_ context.Context, prURL string) ([]model.AssignedReview, error) {
	return s.sortedReviews(func(r model.AssignedReview) bool { return r.PRURL == prURL }), nil
}

func (s *MemSession) ActiveAssignmentsFor(_ context.Context, personID int64) ([]model.AssignedReview, error) {
	return s.sortedReviews(func(r model.AssignedReview) bool {
		return r.AssigneeID == personID && r.CompletedAt == nil
	}), nil
}

func (s *MemSession) AssignmentByID(_ context.Context, id int64) (*model.AssignedReview, error) {
	r, ok := s.d.reviews[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &r, nil
}

func (s *MemSession) CreateAssignment(_ context.Context, a *model.AssignedReview) error {
	a.ID = s.d.id()
	s.d.reviews[a.ID] = *a
	return nil
}

func (s *MemSession) UpdateAssignment(_ context.Context, a *model.AssignedReview) error {
	stored, ok := s.d.reviews[a.ID]
	if !ok {
		return model.ErrNotFound
	}
	if stored.AcknowledgedAt == nil {
		stored.AcknowledgedAt = a.AcknowledgedAt
	}
	if stored.RerolledAt == nil {
		stored.RerolledAt = a.RerolledAt
	}
	if stored.CompletedAt == nil {
		stored.CompletedAt = a.CompletedAt
	}
	s.d.reviews[a.ID] = stored
	return nil
}

func (s *MemSession) LockPRReference(context.Context, string) error { return nil }

func (s *MemSession) CountReviewsInvolving(_ context.Context, personID int64) (int, error) {
	n := 0
	for _, r := range s.d.reviews {
		if r.AssigneeID == personID || r.RequestorID == personID {
			n++
		}
	}
	return n, nil
}

func (s *MemSession) DeleteReviewsInvolving(_ context.Context, personID int64) error {
	for id, r := range s.d.reviews {
		if r.AssigneeID == personID || r.RequestorID == personID {
			delete(s.d.reviews, id)
		}
	}
	return nil
}

func (s *MemSession) AssignmentsPerAssignee(context.Context) (map[string]int, error) {
	out := map[string]int{}
	for _, r := range s.d.reviews {
		out[s.d.people[r.AssigneeID].ExternalID]++
	}
	return out, nil
}

func (s *MemSession) AssignmentsPerPR(context.Context) (map[string]int, error) {
	out := map[string]int{}
	for _, r := range s.d.reviews {
		out[r.PRURL]++
	}
	return out, nil
}

// Count helpers for assertions.

func (s *MemSession) PeopleCount() int { return len(s.d.people) }
func (s *MemSession) ChannelCount() int { return len(s.d.channels) }
func (s *MemSession) ConfigCount() int { return len(s.d.configs) }
func (s *MemSession) ReviewCount() int { return len(s.d.reviews) }
