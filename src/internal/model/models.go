package model

import "time"

type Person struct {
	ID               int64   `json:"id" db:"id"`
	ExternalID       string  `json:"external_id" db:"external_id"`
	Name             string  `json:"name" db:"name"`
	CodeHostUsername *string `json:"code_host_username,omitempty" db:"code_host_username"`
	PasswordHash     *string `json:"-" db:"password_hash"`
	Email            *string `json:"email,omitempty" db:"email"`
}

// Username returns the recorded code host username or "" when unset.
func (p Person) Username() string {
	if p.CodeHostUsername == nil {
		return ""
	}
	return *p.CodeHostUsername
}

type Channel struct {
	ID                     int64  `json:"id" db:"id"`
	ExternalID             string `json:"external_id" db:"external_id"`
	Name                   string `json:"name" db:"name"`
	NewMembersAreReviewers bool   `json:"new_members_are_reviewers" db:"new_members_are_reviewers"`
}

type PersonChannelConfig struct {
	ID                 int64 `json:"id" db:"id"`
	PersonID           int64 `json:"person_id" db:"person_id"`
	ChannelID          int64 `json:"channel_id" db:"channel_id"`
	Reviewer           bool  `json:"reviewer" db:"reviewer"`
	NotifyOnAssignment bool  `json:"notify_on_assignment" db:"notify_on_assignment"`
}

type AssignedReview struct {
	ID             int64      `json:"id" db:"id"`
	AssigneeID     int64      `json:"assignee_id" db:"assignee_id"`
	RequestorID    int64      `json:"requestor_id" db:"requestor_id"`
	ChannelID      *int64     `json:"channel_id,omitempty" db:"channel_id"`
	PRURL          string     `json:"pr_url" db:"pr_url"`
	AssignedAt     time.Time  `json:"assigned_at" db:"assigned_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	RerolledAt     *time.Time `json:"rerolled_at,omitempty" db:"rerolled_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

func (a AssignedReview) Active() bool { return a.CompletedAt == nil }

// PullRequest is what the code host tells us about a PR.
type PullRequest struct {
	Author string `json:"author"`
	URL    string `json:"url"`
}

type AssignmentResult struct {
	Messages   []string        `json:"messages"`
	Errors     []string        `json:"errors"`
	Successful bool            `json:"successful"`
	Reviewer   *Person         `json:"reviewer,omitempty"`
	Assignment *AssignedReview `json:"assignment,omitempty"`
	// ChannelID and PRURL echo where the request came from, for announcing the outcome.
	ChannelID string `json:"channel_id,omitempty"`
	PRURL     string `json:"pr_url,omitempty"`
	// NotifyReviewer is set when the reviewer asked to be pinged directly in this channel.
	NotifyReviewer bool `json:"-"`
}

type DeletePolicy string

const (
	DeleteRestrict DeletePolicy = "restrict"
	DeleteCascade  DeletePolicy = "cascade"
)

type AppError string

func (e AppError) Error() string { return string(e) }

const (
	ErrNotFound         = AppError("NOT_FOUND")
	ErrForbidden        = AppError("FORBIDDEN")
	ErrInvalidReference = AppError("INVALID_REFERENCE")
	ErrInvalidUsername  = AppError("INVALID_USERNAME")
	ErrAlreadyRerolled  = AppError("ALREADY_REROLLED")
	ErrPersonHasReviews = AppError("PERSON_HAS_REVIEWS")
)
