package testutil

import (
	"context"
	"regexp"
	"strconv"
	"sync"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/broker"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/codehost"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"
)

// FakeDirectory is a chat workspace held in memory. It implements
// broker.Directory and presence.StatusSource.
type FakeDirectory struct {
	mu sync.Mutex

	Profiles map[string]broker.UserProfile
	Channels map[string]string
	Members  map[string][]string
	Statuses map[string]string
	// PageSize splits ChannelMembers into pages; 0 returns everything at once.
	PageSize int
	Err      error

	// PresenceErr fails only presence lookups.
	PresenceErr error

	PresenceCalls map[string]int
}

func NewFakeDirectory() *FakeDirectory {
	return &FakeDirectory{
		Profiles:      map[string]broker.UserProfile{},
		Channels:      map[string]string{},
		Members:       map[string][]string{},
		Statuses:      map[string]string{},
		PresenceCalls: map[string]int{},
	}
}

// AddMember registers a user with a display name and presence in channel.
func (d *FakeDirectory) AddMember(channel, id, name string, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Profiles[id] = broker.UserProfile{DisplayName: name, Email: id + "@example.com"}
	d.Members[channel] = append(d.Members[channel], id)
	if active {
		d.Statuses[id] = "active"
	} else {
		d.Statuses[id] = "away"
	}
}

func (d *FakeDirectory) SetActive(id string, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if active {
		d.Statuses[id] = "active"
	} else {
		d.Statuses[id] = "away"
	}
}

func (d *FakeDirectory) UserProfile(_ context.Context, externalID string) (*broker.UserProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	p, ok := d.Profiles[externalID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (d *FakeDirectory) ChannelInfo(_ context.Context, externalID string) (*broker.ChannelInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	name, ok := d.Channels[externalID]
	if !ok {
		return nil, nil
	}
	return &broker.ChannelInfo{Name: name}, nil
}

// ChannelMembers uses the stringified offset as cursor.
func (d *FakeDirectory) ChannelMembers(_ context.Context, channelExternalID, cursor string) ([]string, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, "", d.Err
	}
	all := d.Members[channelExternalID]
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", err
		}
		start = n
	}
	if d.PageSize <= 0 || start+d.PageSize >= len(all) {
		return append([]string(nil), all[start:]...), "", nil
	}
	end := start + d.PageSize
	return append([]string(nil), all[start:end]...), strconv.Itoa(end), nil
}

func (d *FakeDirectory) UserPresence(_ context.Context, externalID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PresenceCalls[externalID]++
	if d.PresenceErr != nil {
		return "", d.PresenceErr
	}
	if d.Err != nil {
		return "", d.Err
	}
	return d.Statuses[externalID], nil
}

var fakePRRE = regexp.MustCompile(`^https://github\.com/[^/]+/[^/]+/pull/[0-9]+$`)

// FakeCodeHost knows the author of each PR url in Authors.
type FakeCodeHost struct {
	mu      sync.Mutex
	Authors map[string]string
	Err     error
	Fetches int
}

func NewFakeCodeHost() *FakeCodeHost {
	return &FakeCodeHost{Authors: map[string]string{}}
}

func (h *FakeCodeHost) LooksLikePRReference(text string) bool {
	return fakePRRE.MatchString(text)
}

func (h *FakeCodeHost) FetchPR(_ context.Context, reference string) (model.PullRequest, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !fakePRRE.MatchString(reference) {
		return model.PullRequest{}, model.ErrInvalidReference
	}
	h.Fetches++
	if h.Err != nil {
		return model.PullRequest{}, h.Err
	}
	return model.PullRequest{Author: h.Authors[reference], URL: reference}, nil
}

func (h *FakeCodeHost) ValidUsername(name string) bool {
	return codehost.ValidUsername(name)
}
