// Package proxy defines the reverse-proxy collaborator interface (SPEC_FULL.md
// §6 "Collaborator interfaces") and a Caddy Admin API-backed implementation,
// grounded on the teacher's DockerClient-as-narrow-interface idiom so an
// in-memory fake can substitute for the real Caddy instance in tests.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/zaneops/compose-core/internal/domain"
)

const errApplyRoutes = "cannot apply routes to reverse proxy"
const errLookupRoute = "cannot look up route in reverse proxy"

// Client is the Proxy collaborator: it reconciles the reverse proxy's route
// table for one stack against the URLs the Spec Compiler extracted.
type Client interface {
	// ApplyRoutes replaces every route previously registered for stackID with
	// routes in a single request; routes are not diffed one by one against
	// the live route table.
	ApplyRoutes(ctx context.Context, stackID string, routes map[string][]domain.UrlRoute) error
	// RemoveRoutes tears down every route registered for stackID.
	RemoveRoutes(ctx context.Context, stackID string) error
	// LookupRoute reports whether a route colliding with (routeDomain,
	// basePath) is already live in the reverse proxy, the Proxy collaborator
	// capability spec.md §6 names as lookupRoute(route).
	LookupRoute(ctx context.Context, routeDomain, basePath string) (bool, error)
}

// caddyClient talks to Caddy's admin API (CADDY_PROXY_ADMIN_HOST from
// spec.md §6) to reconcile a named route group per stack.
type caddyClient struct {
	adminHost string
	http      *http.Client
}

// New builds a Client backed by the Caddy admin API at adminHost.
func New(adminHost string) Client {
	return &caddyClient{adminHost: adminHost, http: http.DefaultClient}
}

type caddyRoute struct {
	Match  []caddyMatch  `json:"match"`
	Handle []caddyHandle `json:"handle"`
}

type caddyMatch struct {
	Host []string `json:"host,omitempty"`
	Path []string `json:"path,omitempty"`
}

type caddyHandle struct {
	Handler   string   `json:"handler"`
	Upstreams []caddyUpstream `json:"upstreams,omitempty"`
}

type caddyUpstream struct {
	Dial string `json:"dial"`
}

func (c *caddyClient) ApplyRoutes(ctx context.Context, stackID string, routes map[string][]domain.UrlRoute) error {
	var payload []caddyRoute
	for service, rs := range routes {
		for _, r := range rs {
			payload = append(payload, caddyRoute{
				Match: []caddyMatch{{Host: []string{r.Domain}, Path: []string{r.BasePath + "*"}}},
				Handle: []caddyHandle{{
					Handler:   "reverse_proxy",
					Upstreams: []caddyUpstream{{Dial: fmt.Sprintf("%s:%d", service, r.Port)}},
				}},
			})
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errApplyRoutes)
	}

	url := fmt.Sprintf("%s/id/%s/routes", c.adminHost, stackID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errApplyRoutes)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errApplyRoutes)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Errorf("%s: unexpected status %d", errApplyRoutes, resp.StatusCode)
	}
	return nil
}

func (c *caddyClient) RemoveRoutes(ctx context.Context, stackID string) error {
	url := fmt.Sprintf("%s/id/%s", c.adminHost, stackID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return errors.Wrap(err, "cannot remove routes from reverse proxy")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "cannot remove routes from reverse proxy")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return errors.Errorf("cannot remove routes from reverse proxy: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// LookupRoute fetches Caddy's live route table and reports whether any
// registered route collides with (routeDomain, basePath), wildcard-shadowing
// included (domain.RoutesCollide). This is a live, defense-in-depth check:
// the Change Ledger's database-backed registry of active routes
// (internal/store's ListActiveRoutes) is authoritative for which stack owns
// a route, but a direct lookup catches the rare case where the proxy's
// table and the database have drifted apart.
func (c *caddyClient) LookupRoute(ctx context.Context, routeDomain, basePath string) (bool, error) {
	url := fmt.Sprintf("%s/config/apps/http/servers/srv0/routes", c.adminHost)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, errors.Wrap(err, errLookupRoute)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, errors.Wrap(err, errLookupRoute)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		return false, errors.Errorf("%s: unexpected status %d", errLookupRoute, resp.StatusCode)
	}

	var routes []caddyRoute
	if err := json.NewDecoder(resp.Body).Decode(&routes); err != nil {
		return false, errors.Wrap(err, errLookupRoute)
	}

	candidate := domain.UrlRoute{Domain: routeDomain, BasePath: basePath}
	for _, r := range routes {
		for _, m := range r.Match {
			for _, h := range m.Host {
				for _, p := range m.Path {
					live := domain.UrlRoute{Domain: h, BasePath: strings.TrimSuffix(p, "*")}
					if domain.RoutesCollide(candidate, live) {
						return true, nil
					}
				}
			}
		}
	}
	return false, nil
}
