// Package gitprovider implements the narrow PR-comment leg of the Git
// provider collaborator (spec.md §6: "PR comment upsert"). Everything else
// about GitHub/GitLab apps — webhook delivery, installation auth — is out
// of scope (spec.md §1): this module only needs to push one status comment
// per preview environment (spec.md §4.7 point 4).
package gitprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
)

const errUpsertComment = "cannot upsert pull request comment"

// Commenter posts or updates a single marked comment on a GitHub pull
// request, implementing internal/cloner.PRCommenter.
type Commenter struct {
	apiBaseURL string
	token      string
	http       *http.Client
}

// New builds a Commenter authenticating to the GitHub REST API with token
// (a GitHub App installation token, minted and refreshed by the caller;
// this module does not perform the App auth handshake itself — spec.md §1
// treats Git providers as external collaborators).
func New(apiBaseURL, token string) *Commenter {
	if apiBaseURL == "" {
		apiBaseURL = "https://api.github.com"
	}
	return &Commenter{apiBaseURL: apiBaseURL, token: token, http: http.DefaultClient}
}

// UpsertComment finds this module's existing marker comment on the pull
// request (identified by its API URL) and edits it, or creates a new one.
func (c *Commenter) UpsertComment(ctx context.Context, pullRequestURL, body string) error {
	existing, err := c.findExistingComment(ctx, pullRequestURL)
	if err != nil {
		return err
	}
	if existing != "" {
		return c.do(ctx, http.MethodPatch, existing, body)
	}
	return c.do(ctx, http.MethodPost, pullRequestURL+"/comments", body)
}

const marker = "<!-- zaneops-compose-stack-core-preview -->"

func (c *Commenter) findExistingComment(ctx context.Context, pullRequestURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pullRequestURL+"/comments", nil)
	if err != nil {
		return "", errors.Wrap(err, errUpsertComment)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errUpsertComment)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", nil
	}

	var comments []struct {
		URL  string `json:"url"`
		Body string `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&comments); err != nil {
		return "", errors.Wrap(err, errUpsertComment)
	}
	for _, com := range comments {
		if bytes.Contains([]byte(com.Body), []byte(marker)) {
			return com.URL, nil
		}
	}
	return "", nil
}

func (c *Commenter) do(ctx context.Context, method, endpoint, body string) error {
	payload, err := json.Marshal(map[string]string{"body": marker + "\n" + body})
	if err != nil {
		return errors.Wrap(err, errUpsertComment)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, errUpsertComment)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errUpsertComment)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("%s: github returned status %d", errUpsertComment, resp.StatusCode)
	}
	return nil
}

func (c *Commenter) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
}
