// Package logstore implements the Log store collaborator (SPEC_FULL.md §6:
// "ingest(batch), search(query), delete(query)") against Loki, the backend
// spec.md §6 names via LOKI_HOST. The Compose Stack Core only ever needs
// the delete leg, to purge a stack's retained logs on archive (spec.md
// §4.5 "Archive flow"); ingestion and search are out of scope (spec.md §1).
package logstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const errPurge = "cannot purge stack logs"

// Client purges a stack's logs from Loki via its compactor delete API
// (`/loki/api/v1/delete`), matched by the `zane_stack` label the platform's
// log shipper attaches (spec.md §4.3 "Logging driver ... with tag
// {zane.stack, zane.service}").
type Client struct {
	host string
	http *http.Client
}

// New builds a Client talking to Loki at host (LOKI_HOST).
func New(host string) *Client {
	return &Client{host: host, http: &http.Client{Timeout: 10 * time.Second}}
}

// PurgeStack requests deletion of every log line labeled with stackID,
// implementing internal/workflow.LogStore.
func (c *Client) PurgeStack(ctx context.Context, stackID string) error {
	if c.host == "" {
		return nil
	}

	query := fmt.Sprintf(`{zane_stack="%s"}`, stackID)
	now := time.Now().UTC()
	params := url.Values{
		"query": {query},
		"start": {"0"},
		"end":   {fmt.Sprintf("%d", now.UnixNano())},
	}

	endpoint := fmt.Sprintf("http://%s/loki/api/v1/delete?%s", c.host, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, errPurge)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errPurge)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Errorf("%s: loki returned status %d", errPurge, resp.StatusCode)
	}
	return nil
}
