// Package broker translates chat platform identities into stored rows,
// creating people, channels and per-channel configs the first time they are seen.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/presence"

	"go.uber.org/zap"
)

const (
	UnknownPersonName  = "Unknown"
	UnknownChannelName = "unknown"
)

type UserProfile struct {
	DisplayName string
	Email       string
}

type ChannelInfo struct {
	Name string
}

// Directory is the chat platform's view of people and channels.
// UserProfile and ChannelInfo return nil, nil when the platform has no record.
type Directory interface {
	UserProfile(ctx context.Context, externalID string) (*UserProfile, error)
	ChannelInfo(ctx context.Context, externalID string) (*ChannelInfo, error)
	ChannelMembers(ctx context.Context, channelExternalID, cursor string) (members []string, next string, err error)
}

// Session is the slice of a unit of work the broker and the assignment
// engine need. Lookups return model.ErrNotFound on a miss. Create* fill in
// the stored row, which is the pre-existing one when the natural key is taken.
type Session interface {
	PersonByExternalID(ctx context.Context, externalID string) (*model.Person, error)
	PersonByID(ctx context.Context, id int64) (*model.Person, error)
	CreatePerson(ctx context.Context, p *model.Person) error
	UpdatePerson(ctx context.Context, p *model.Person) error

	ChannelByExternalID(ctx context.Context, externalID string) (*model.Channel, error)
	ChannelByID(ctx context.Context, id int64) (*model.Channel, error)
	CreateChannel(ctx context.Context, c *model.Channel) error

	ConfigFor(ctx context.Context, personID, channelID int64) (*model.PersonChannelConfig, error)
	CreateConfig(ctx context.Context, c *model.PersonChannelConfig) error
	UpdateConfig(ctx context.Context, c *model.PersonChannelConfig) error

	AssignmentsByPRURL(ctx context.Context, prURL string) ([]model.AssignedReview, error)
	ActiveAssignmentsFor(ctx context.Context, personID int64) ([]model.AssignedReview, error)
	AssignmentByID(ctx context.Context, id int64) (*model.AssignedReview, error)
	CreateAssignment(ctx context.Context, a *model.AssignedReview) error
	UpdateAssignment(ctx context.Context, a *model.AssignedReview) error
}

type Broker struct {
	dir                    Directory
	presence               presence.Provider
	newMembersAreReviewers bool
	log                    *zap.Logger
}

func New(dir Directory, p presence.Provider, newMembersAreReviewers bool, logger *zap.Logger) *Broker {
	return &Broker{
		dir:                    dir,
		presence:               p,
		newMembersAreReviewers: newMembersAreReviewers,
		log:                    logger,
	}
}

func (b *Broker) ResolveOrCreatePerson(ctx context.Context, s Session, externalID string) (*model.Person, error) {
	p, err := s.PersonByExternalID(ctx, externalID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	profile, err := b.dir.UserProfile(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("directory user %s: %w", externalID, err)
	}
	p = &model.Person{ExternalID: externalID, Name: UnknownPersonName}
	if profile != nil {
		if profile.DisplayName != "" {
			p.Name = profile.DisplayName
		}
		if profile.Email != "" {
			email := profile.Email
			p.Email = &email
		}
	}
	if err := s.CreatePerson(ctx, p); err != nil {
		return nil, err
	}
	b.log.Info("created person", zap.String("external_id", externalID), zap.String("name", p.Name))
	return p, nil
}

func (b *Broker) ResolveOrCreateChannel(ctx context.Context, s Session, externalID string) (*model.Channel, error) {
	c, err := s.ChannelByExternalID(ctx, externalID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	info, err := b.dir.ChannelInfo(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("directory channel %s: %w", externalID, err)
	}
	c = &model.Channel{
		ExternalID:             externalID,
		Name:                   UnknownChannelName,
		NewMembersAreReviewers: b.newMembersAreReviewers,
	}
	if info != nil && info.Name != "" {
		c.Name = info.Name
	}
	if err := s.CreateChannel(ctx, c); err != nil {
		return nil, err
	}
	b.log.Info("created channel", zap.String("external_id", externalID), zap.String("name", c.Name))
	return c, nil
}

// ResolveOrCreateConfig copies the channel default into a new config only at
// creation time; later changes to the default do not touch existing rows.
func (b *Broker) ResolveOrCreateConfig(ctx context.Context, s Session, person *model.Person, channel *model.Channel) (*model.PersonChannelConfig, error) {
	cfg, err := s.ConfigFor(ctx, person.ID, channel.ID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	cfg = &model.PersonChannelConfig{
		PersonID:  person.ID,
		ChannelID: channel.ID,
		Reviewer:  channel.NewMembersAreReviewers,
	}
	if err := s.CreateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (b *Broker) FindAssignmentsByPRReference(ctx context.Context, s Session, prURL string) ([]model.AssignedReview, error) {
	return s.AssignmentsByPRURL(ctx, prURL)
}

// FindActiveAssignmentsForPerson lists incomplete assignments oldest first.
// An unknown person has none.
func (b *Broker) FindActiveAssignmentsForPerson(ctx context.Context, s Session, externalID string) ([]model.AssignedReview, error) {
	p, err := s.PersonByExternalID(ctx, externalID)
	if errors.Is(err, model.ErrNotFound) {
		return []model.AssignedReview{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.ActiveAssignmentsFor(ctx, p.ID)
}

func (b *Broker) FindAssignmentByID(ctx context.Context, s Session, id int64) (*model.AssignedReview, error) {
	return s.AssignmentByID(ctx, id)
}

// ListChannelMemberIDs walks every page of the channel's membership.
func (b *Broker) ListChannelMemberIDs(ctx context.Context, channelExternalID string) ([]string, error) {
	var all []string
	cursor := ""
	for {
		members, next, err := b.dir.ChannelMembers(ctx, channelExternalID, cursor)
		if err != nil {
			return nil, fmt.Errorf("directory members of %s: %w", channelExternalID, err)
		}
		all = append(all, members...)
		if next == "" {
			break
		}
		cursor = next
	}
	b.log.Debug("ListChannelMemberIDs: success", zap.String("channel", channelExternalID), zap.Int("count", len(all)))
	return all, nil
}

func (b *Broker) Presence(ctx context.Context, externalID string) (bool, error) {
	return b.presence.Presence(ctx, externalID)
}
