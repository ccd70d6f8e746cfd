// Package codehost talks to GitHub about pull requests.
package codehost

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"

	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"
)

const (
	DefaultHost = "github.com"

	maxUsernameLen = 39
)

type Reference struct {
	Owner  string
	Repo   string
	Number int
}

type Client struct {
	gh     *github.Client
	host   string
	exact  *regexp.Regexp
	inText *regexp.Regexp
	log    *zap.Logger
}

// New builds a client for github.com, or for an Enterprise server when
// apiURL is set.
func New(token, apiURL, host string, logger *zap.Logger) (*Client, error) {
	gh := github.NewClient(nil)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	if apiURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(apiURL, apiURL)
		if err != nil {
			return nil, fmt.Errorf("github enterprise url: %w", err)
		}
	}
	return NewWithClient(gh, host, logger), nil
}

func NewWithClient(gh *github.Client, host string, logger *zap.Logger) *Client {
	if host == "" {
		host = DefaultHost
	}
	pattern := `https://` + regexp.QuoteMeta(host) + `/([^/\s]+)/([^/\s]+)/pull/([0-9]+)`
	return &Client{
		gh:     gh,
		host:   host,
		exact:  regexp.MustCompile(`^` + pattern + `(?:[/?#]\S*)?$`),
		inText: regexp.MustCompile(pattern),
		log:    logger,
	}
}

func (c *Client) Host() string { return c.host }

// ParseReference splits a PR url into owner, repo and number.
func (c *Client) ParseReference(text string) (Reference, bool) {
	m := c.exact.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Reference{}, false
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return Reference{}, false
	}
	return Reference{Owner: m[1], Repo: m[2], Number: n}, true
}

func (c *Client) LooksLikePRReference(text string) bool {
	_, ok := c.ParseReference(text)
	return ok
}

// FindPRReference returns the first PR url found anywhere in text, or "".
func (c *Client) FindPRReference(text string) string {
	return c.inText.FindString(text)
}

func (c *Client) ValidUsername(name string) bool {
	return ValidUsername(name)
}

// FetchPR looks up the author and canonical url of a PR. References that do
// not parse fail with model.ErrInvalidReference before any request is made.
func (c *Client) FetchPR(ctx context.Context, reference string) (model.PullRequest, error) {
	ref, ok := c.ParseReference(reference)
	if !ok {
		return model.PullRequest{}, model.ErrInvalidReference
	}
	c.log.Debug("FetchPR: start", zap.String("owner", ref.Owner), zap.String("repo", ref.Repo), zap.Int("number", ref.Number))

	pr, _, err := c.gh.PullRequests.Get(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		c.log.Error("FetchPR: request failed", zap.String("reference", reference), zap.Error(err))
		return model.PullRequest{}, fmt.Errorf("fetch %s/%s#%d: %w", ref.Owner, ref.Repo, ref.Number, err)
	}

	out := model.PullRequest{
		Author: pr.GetUser().GetLogin(),
		URL:    pr.GetHTMLURL(),
	}
	if out.URL == "" {
		out.URL = fmt.Sprintf("https://%s/%s/%s/pull/%d", c.host, ref.Owner, ref.Repo, ref.Number)
	}
	c.log.Debug("FetchPR: success", zap.String("url", out.URL), zap.String("author", out.Author))
	return out, nil
}

// ValidUsername checks GitHub's login grammar: 1 to 39 lowercase letters,
// digits or hyphens, no leading, trailing or doubled hyphen.
func ValidUsername(name string) bool {
	if len(name) == 0 || len(name) > maxUsernameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
		case ch == '-':
			if i == 0 || i == len(name)-1 || name[i-1] == '-' {
				return false
			}
		default:
			return false
		}
	}
	return true
}
