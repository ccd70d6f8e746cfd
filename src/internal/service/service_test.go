package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/broker"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/presence"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/store"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const mockPR = "https://github.com/mock/mock/pull/1"

type MockRandSource struct {
	values []int64
	index  int
}

func NewMockRandSource(values ...int64) *MockRandSource {
	return &MockRandSource{values: values}
}

func (m *MockRandSource) Int63() int64 {
	if m.index >= len(m.values) {
		m.index = 0
	}
	val := m.values[m.index]
	m.index++
	return val
}

func (m *MockRandSource) Seed(int64) {}

type fixture struct {
	svc   *Service
	store *testutil.MemStore
	dir   *testutil.FakeDirectory
	host  *testutil.FakeCodeHost
	now   time.Time
}

func newFixture(t *testing.T, provider func(*testutil.FakeDirectory) presence.Provider) *fixture {
	t.Helper()
	f := &fixture{
		store: testutil.NewMemStore(),
		dir:   testutil.NewFakeDirectory(),
		host:  testutil.NewFakeCodeHost(),
		now:   time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC),
	}
	f.dir.Channels["channel"] = "channel"
	f.host.Authors[mockPR] = "bob"

	var p presence.Provider = presence.FromStatusSource(f.dir)
	if provider != nil {
		p = provider(f.dir)
	}
	b := broker.New(f.dir, p, true, zap.NewNop())
	// A source that always yields 0 makes the engine pick the first candidate.
	f.svc = NewService(f.store, b, f.host, model.DeleteRestrict, rand.New(NewMockRandSource(0)), zap.NewNop())
	f.svc.engine.now = func() time.Time { return f.now }
	f.svc.lifecycle.now = func() time.Time { return f.now }
	return f
}

// addMember puts id in channel and, when username is set, pre-records the
// person with that code host username.
func (f *fixture) addMember(t *testing.T, channel, id, name, username string, active bool) {
	t.Helper()
	f.dir.AddMember(channel, id, name, active)
	if username == "" {
		return
	}
	ctx := context.Background()
	require.NoError(t, f.store.WithSession(ctx, func(s store.Session) error {
		u := username
		return s.CreatePerson(ctx, &model.Person{ExternalID: id, Name: name, CodeHostUsername: &u})
	}))
}

func (f *fixture) assignment(t *testing.T, id int64) model.AssignedReview {
	t.Helper()
	a, err := f.store.Session().AssignmentByID(context.Background(), id)
	require.NoError(t, err)
	return *a
}

func (f *fixture) person(t *testing.T, externalID string) model.Person {
	t.Helper()
	p, err := f.store.Session().PersonByExternalID(context.Background(), externalID)
	require.NoError(t, err)
	return *p
}

func bobAndJane(t *testing.T, f *fixture, janeActive bool) {
	f.addMember(t, "channel", "bob", "Bob Bobsson", "bob", true)
	f.addMember(t, "channel", "jane", "Jane Janesson", "jane", janeActive)
}

func TestPerformAssignment_PicksOtherReviewer(t *testing.T) {
	f := newFixture(t, nil)
	bobAndJane(t, f, true)

	res, err := f.svc.PerformAssignment(context.Background(), "bob", "channel", mockPR)
	require.NoError(t, err)
	assert.True(t, res.Successful)
	require.NotNil(t, res.Reviewer)
	assert.Equal(t, "jane", res.Reviewer.ExternalID)
	assert.Empty(t, res.Errors)

	require.NotNil(t, res.Assignment)
	stored := f.assignment(t, res.Assignment.ID)
	assert.Equal(t, f.person(t, "jane").ID, stored.AssigneeID)
	assert.Equal(t, f.person(t, "bob").ID, stored.RequestorID)
	assert.Equal(t, mockPR, stored.PRURL)
	assert.Equal(t, f.now, stored.AssignedAt)
	assert.NotNil(t, stored.ChannelID)
	assert.Nil(t, stored.AcknowledgedAt)
	assert.Nil(t, stored.RerolledAt)
	assert.Nil(t, stored.CompletedAt)
}

func TestPerformAssignment_NoEligibleReviewers(t *testing.T) {
	f := newFixture(t, nil)
	bobAndJane(t, f, false)

	res, err := f.svc.PerformAssignment(context.Background(), "bob", "channel", mockPR)
	require.NoError(t, err)
	assert.False(t, res.Successful)
	assert.Nil(t, res.Reviewer)
	assert.Equal(t, []string{"No eligible reviewers for " + mockPR}, res.Errors)
	assert.Equal(t, 0, f.store.Session().ReviewCount())
}

func TestPerformAssignment_SingleCandidateAlwaysChosen(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		f := newFixture(t, nil)
		f.svc.engine.rnd = rand.New(rand.NewSource(seed))
		f.addMember(t, "channel", "sam", "Sam", "sam", true)
		f.addMember(t, "channel", "rita", "Rita", "rita", true)
		f.addMember(t, "channel", "ola", "Ola", "ola", false)
		f.host.Authors[mockPR] = "ola"

		res, err := f.svc.PerformAssignment(context.Background(), "sam", "channel", mockPR)
		require.NoError(t, err)
		require.True(t, res.Successful)
		assert.Equal(t, "rita", res.Reviewer.ExternalID, "seed %d", seed)
	}
}

func TestPerformAssignment_ChoiceIsRandomAcrossCandidates(t *testing.T) {
	seen := map[string]bool{}
	for seed := int64(1); seed <= 60; seed++ {
		f := newFixture(t, nil)
		f.svc.engine.rnd = rand.New(rand.NewSource(seed))
		f.addMember(t, "channel", "bob", "Bob", "bob", true)
		for _, id := range []string{"a", "b", "c"} {
			f.addMember(t, "channel", id, id, id, true)
		}

		res, err := f.svc.PerformAssignment(context.Background(), "bob", "channel", mockPR)
		require.NoError(t, err)
		seen[res.Reviewer.ExternalID] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)
}

func TestPerformAssignment_ExcludesAuthorByUsername(t *testing.T) {
	f := newFixture(t, nil)
	f.addMember(t, "channel", "req", "Requestor", "req", true)
	f.addMember(t, "channel", "author", "Author", "bob", true)
	f.addMember(t, "channel", "other", "Other", "other", true)

	res, err := f.svc.PerformAssignment(context.Background(), "req", "channel", mockPR)
	require.NoError(t, err)
	assert.Equal(t, "other", res.Reviewer.ExternalID)
}

func TestPerformAssignment_UsernameMatchIsCaseSensitive(t *testing.T) {
	f := newFixture(t, nil)
	f.addMember(t, "channel", "req", "Requestor", "req", true)
	f.addMember(t, "channel", "upper", "Upper", "Bob", true)

	res, err := f.svc.PerformAssignment(context.Background(), "req", "channel", mockPR)
	require.NoError(t, err)
	require.True(t, res.Successful)
	assert.Equal(t, "upper", res.Reviewer.ExternalID)
}

func TestPerformAssignment_RecordsRequestorUsername(t *testing.T) {
	f := newFixture(t, nil)
	f.dir.AddMember("channel", "bob", "Bob Bobsson", true)
	f.addMember(t, "channel", "jane", "Jane", "jane", true)

	res, err := f.svc.PerformAssignment(context.Background(), "bob", "channel", mockPR)
	require.NoError(t, err)
	assert.Equal(t, []string{"Assuming that Bob Bobsson is bob on github"}, res.Messages)
	assert.Equal(t, "bob", f.person(t, "bob").Username())

	f.host.Authors["https://github.com/mock/mock/pull/2"] = "bob"
	res, err = f.svc.PerformAssignment(context.Background(), "bob", "channel", "https://github.com/mock/mock/pull/2")
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
}

func TestPerformAssignment_SkipsNonReviewers(t *testing.T) {
	f := newFixture(t, nil)
	bobAndJane(t, f, true)
	f.addMember(t, "channel", "sam", "Sam", "sam", true)

	_, err := f.svc.SetChannelPreferences(context.Background(), "jane", "channel", false, false)
	require.NoError(t, err)

	res, err := f.svc.PerformAssignment(context.Background(), "bob", "channel", mockPR)
	require.NoError(t, err)
	assert.Equal(t, "sam", res.Reviewer.ExternalID)
}

func TestPerformAssignment_NotifyFlagFromConfig(t *testing.T) {
	f := newFixture(t, nil)
	bobAndJane(t, f, true)
	_, err := f.svc.SetChannelPreferences(context.Background(), "jane", "channel", true, true)
	require.NoError(t, err)

	res, err := f.svc.PerformAssignment(context.Background(), "bob", "channel", mockPR)
	require.NoError(t, err)
	assert.True(t, res.NotifyReviewer)
}

func TestPerformAssignment_InvalidReferenceFailsFast(t *testing.T) {
	f := newFixture(t, nil)
	bobAndJane(t, f, true)

	_, err := f.svc.PerformAssignment(context.Background(), "bob", "channel", "https://example.com/not_a_github_pr")
	assert.ErrorIs(t, err, model.ErrInvalidReference)
	assert.Equal(t, 0, f.host.Fetches)
	assert.Equal(t, 0, f.store.Session().ChannelCount())
}

func TestPerformAssignment_CodeHostErrorPropagates(t *testing.T) {
	f := newFixture(t, nil)
	bobAndJane(t, f, true)
	f.host.Err = errors.New("github is down")

	_, err := f.svc.PerformAssignment(context.Background(), "bob", "channel", mockPR)
	assert.ErrorIs(t, err, f.host.Err)
}

func TestPerformAssignment_CollaboratorFailureRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.dir.AddMember("channel", "carol", "Carol", true)
	f.dir.PresenceErr = errors.New("slack timeout")

	_, err := f.svc.PerformAssignment(context.Background(), "carol", "channel", mockPR)
	assert.ErrorIs(t, err, f.dir.PresenceErr)

	s := f.store.Session()
	assert.Equal(t, 0, s.PeopleCount())
	assert.Equal(t, 0, s.ChannelCount())
}

func TestPerformAssignment_PresenceIsCached(t *testing.T) {
	f := newFixture(t, func(dir *testutil.FakeDirectory) presence.Provider {
		return presence.NewCache(presence.FromStatusSource(dir), presence.DefaultExpiry)
	})
	bobAndJane(t, f, true)
	f.host.Authors["https://github.com/mock/mock/pull/2"] = "bob"

	_, err := f.svc.PerformAssignment(context.Background(), "bob", "channel", mockPR)
	require.NoError(t, err)
	_, err = f.svc.PerformAssignment(context.Background(), "bob", "channel", "https://github.com/mock/mock/pull/2")
	require.NoError(t, err)

	assert.Equal(t, 1, f.dir.PresenceCalls["jane"])
	assert.Equal(t, 1, f.dir.PresenceCalls["bob"])
}

func TestPerformAssignment_DoesNotReassignSamePR(t *testing.T) {
	f := newFixture(t, nil)
	bobAndJane(t, f, true)

	first, err := f.svc.PerformAssignment(context.Background(), "bob", "channel", mockPR)
	require.NoError(t, err)
	require.True(t, first.Successful)

	second, err := f.svc.PerformAssignment(context.Background(), "bob", "channel", mockPR)
	require.NoError(t, err)
	assert.False(t, second.Successful)
	assert.Equal(t, 1, f.store.Session().ReviewCount())
}

func TestEligibleReviewers(t *testing.T) {
	f := newFixture(t, nil)
	bobAndJane(t, f, true)
	f.addMember(t, "channel", "away", "Away", "away", false)

	people, err := f.svc.EligibleReviewers(context.Background(), "channel")
	require.NoError(t, err)
	ids := make([]string, 0, len(people))
	for _, p := range people {
		ids = append(ids, p.ExternalID)
	}
	assert.Equal(t, []string{"bob", "jane"}, ids)
}

func TestSetCodeHostUsername(t *testing.T) {
	f := newFixture(t, nil)
	f.dir.AddMember("channel", "bob", "Bob", true)

	p, err := f.svc.SetCodeHostUsername(context.Background(), "bob", "bob-the-dev")
	require.NoError(t, err)
	assert.Equal(t, "bob-the-dev", p.Username())
	assert.Equal(t, "bob-the-dev", f.person(t, "bob").Username())

	_, err = f.svc.SetCodeHostUsername(context.Background(), "bob", "-nope")
	assert.ErrorIs(t, err, model.ErrInvalidUsername)
	assert.Equal(t, "bob-the-dev", f.person(t, "bob").Username())
}

func TestDeletePerson_RestrictKeepsHistory(t *testing.T) {
	f := newFixture(t, nil)
	bobAndJane(t, f, true)
	_, err := f.svc.PerformAssignment(context.Background(), "bob", "channel", mockPR)
	require.NoError(t, err)

	err = f.svc.DeletePerson(context.Background(), "jane")
	assert.ErrorIs(t, err, model.ErrPersonHasReviews)
	assert.Equal(t, 1, f.store.Session().ReviewCount())
	assert.Equal(t, 2, f.store.Session().PeopleCount())
}

func TestDeletePerson_Cascade(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.deletePolicy = model.DeleteCascade
	bobAndJane(t, f, true)
	_, err := f.svc.PerformAssignment(context.Background(), "bob", "channel", mockPR)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeletePerson(context.Background(), "jane"))
	assert.Equal(t, 0, f.store.Session().ReviewCount())
	assert.Equal(t, 1, f.store.Session().PeopleCount())

	assert.ErrorIs(t, f.svc.DeletePerson(context.Background(), "jane"), model.ErrNotFound)
}

func TestGetStats(t *testing.T) {
	f := newFixture(t, nil)
	bobAndJane(t, f, true)
	f.host.Authors["https://github.com/mock/mock/pull/2"] = "bob"
	_, err := f.svc.PerformAssignment(context.Background(), "bob", "channel", mockPR)
	require.NoError(t, err)
	_, err = f.svc.PerformAssignment(context.Background(), "bob", "channel", "https://github.com/mock/mock/pull/2")
	require.NoError(t, err)

	stats, err := f.svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"jane": 2}, stats.AssigneeAssignments)
	assert.Equal(t, map[string]int{mockPR: 1, "https://github.com/mock/mock/pull/2": 1}, stats.PRAssignments)
}
