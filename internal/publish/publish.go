// Package publish posts the rendered report as a pull-request comment.
// Publishing is best-effort: every failure here is logged and swallowed
// so it never changes the analysis outputs or the completion code.
package publish

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// marker identifies planguard comments so a re-run updates the existing
// comment instead of stacking new ones.
const marker = "<!-- planguard:report -->"

// issuesAPI is the slice of the go-github Issues service the publisher
// uses; PR comments are issue comments in the GitHub API.
type issuesAPI interface {
	CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
	EditComment(ctx context.Context, owner, repo string, commentID int64, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
	ListComments(ctx context.Context, owner, repo string, number int, opts *github.IssueListCommentsOptions) ([]*github.IssueComment, *github.Response, error)
}

// Publisher posts reports to a repository's pull requests.
type Publisher struct {
	issues issuesAPI
	owner  string
	repo   string
}

// NewPublisher builds a Publisher for the "owner/name" repository using
// a token-authenticated client.
func NewPublisher(token, repository string) (*Publisher, error) {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return nil, err
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))
	return &Publisher{issues: client.Issues, owner: owner, repo: repo}, nil
}

// splitRepository parses an "owner/name" repository identifier.
func splitRepository(repository string) (owner, repo string, err error) {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("publish: repository %q is not in owner/name form", repository)
	}
	return parts[0], parts[1], nil
}

// Publish posts the report on the given PR, updating the existing
// planguard comment if one is present. A zero PR number means the run
// was not triggered by a pull request; that is a successful no-op.
// Returned errors are advisory — callers log them and continue.
func (p *Publisher) Publish(ctx context.Context, prNumber int, report string) error {
	log := zerolog.Ctx(ctx)
	if prNumber <= 0 {
		log.Info().Msg("no pull request context; skipping comment")
		return nil
	}

	body := marker + "\n" + report

	existing, err := p.findMarkerComment(ctx, prNumber)
	if err != nil {
		return fmt.Errorf("publish: list comments on #%d: %w", prNumber, err)
	}

	if existing != nil {
		_, _, err = p.issues.EditComment(ctx, p.owner, p.repo, existing.GetID(),
			&github.IssueComment{Body: github.String(body)})
		if err != nil {
			return fmt.Errorf("publish: update comment %d: %w", existing.GetID(), err)
		}
		log.Info().Int64("comment_id", existing.GetID()).Msg("updated report comment")
		return nil
	}

	created, _, err := p.issues.CreateComment(ctx, p.owner, p.repo, prNumber,
		&github.IssueComment{Body: github.String(body)})
	if err != nil {
		return fmt.Errorf("publish: create comment on #%d: %w", prNumber, err)
	}
	log.Info().Int64("comment_id", created.GetID()).Msg("created report comment")
	return nil
}

// findMarkerComment returns the first existing comment carrying the
// planguard marker, or nil when none exists.
func (p *Publisher) findMarkerComment(ctx context.Context, prNumber int) (*github.IssueComment, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		comments, resp, err := p.issues.ListComments(ctx, p.owner, p.repo, prNumber, opts)
		if err != nil {
			return nil, err
		}
		for _, c := range comments {
			if strings.Contains(c.GetBody(), marker) {
				return c, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}
