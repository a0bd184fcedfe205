// Package cloner implements the Environment Cloner (SPEC_FULL.md §4.7):
// it clones a source environment's shared variables and candidate stacks
// into a fresh (possibly preview) environment, rewriting only the values
// that must stay unique per environment (generate_domain overrides), and
// optionally enqueues a deploy on each clone.
package cloner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/zaneops/compose-core/internal/apperr"
	"github.com/zaneops/compose-core/internal/domain"
	"github.com/zaneops/compose-core/internal/identity"
	"github.com/zaneops/compose-core/internal/ledger"
	"github.com/zaneops/compose-core/internal/resolver"
	"github.com/zaneops/compose-core/internal/store"
)

// PRCommenter posts or updates a single comment on a pull request with
// deployment status and preview URL (spec.md §4.7 point 4).
type PRCommenter interface {
	UpsertComment(ctx context.Context, pullRequestURL, body string) error
}

// PreviewRequest carries the PR-webhook-sourced metadata for a preview
// environment clone.
type PreviewRequest struct {
	PullRequestURL string
	HeadRepoURL    string
	Branch         string
	CommitSHA      string
	AuthEnabled    bool
	TTL            *time.Duration
	ExtraVars      map[string]string
}

// CloneRequest describes one clone operation.
type CloneRequest struct {
	SourceEnvironmentID string
	TargetName          string
	Only                []string // stack slugs to clone; empty means "all"
	TriggerStackSlug    string   // always cloned even if absent from Only
	DeployAfterClone    bool
	Preview             *PreviewRequest
}

// Cloner performs environment clones.
type Cloner struct {
	store      *store.Store
	rootDomain string
	ledger     *ledger.Ledger
	commenter  PRCommenter
}

// New builds a Cloner. commenter may be nil when preview PR commenting is
// not wired (e.g. in tests).
func New(s *store.Store, rootDomain string, l *ledger.Ledger, commenter PRCommenter) *Cloner {
	return &Cloner{store: s, rootDomain: rootDomain, ledger: l, commenter: commenter}
}

// Clone executes spec.md §4.7's four steps and returns the new Environment.
func (c *Cloner) Clone(ctx context.Context, req CloneRequest) (*domain.Environment, error) {
	source, err := c.store.Environments.Get(ctx, req.SourceEnvironmentID)
	if err != nil {
		return nil, err
	}

	env := &domain.Environment{
		ID:        uuid.NewString(),
		ProjectID: source.ProjectID,
		Name:      req.TargetName,
		IsPreview: req.Preview != nil,
	}
	if req.Preview != nil {
		env.PreviewMetadata = &domain.PreviewEnvMetadata{
			PullRequestURL: req.Preview.PullRequestURL,
			HeadRepoURL:    req.Preview.HeadRepoURL,
			Branch:         req.Preview.Branch,
			CommitSHA:      req.Preview.CommitSHA,
			AuthEnabled:    req.Preview.AuthEnabled,
		}
		if req.Preview.TTL != nil {
			expires := time.Now().Add(*req.Preview.TTL)
			env.PreviewMetadata.ExpiresAt = &expires
		}
	}
	if err := c.store.Environments.Insert(ctx, env); err != nil {
		return nil, err
	}

	if err := c.cloneSharedVariables(ctx, req, env.ID); err != nil {
		return nil, err
	}

	candidates, err := c.candidateStacks(ctx, req)
	if err != nil {
		return nil, err
	}

	clonedIDs := make([]string, 0, len(candidates))
	for _, src := range candidates {
		cloned, err := c.cloneStack(ctx, src, env.ID)
		if err != nil {
			return nil, err
		}
		clonedIDs = append(clonedIDs, cloned.ID)
	}

	if req.DeployAfterClone {
		for _, stackID := range clonedIDs {
			if _, err := c.ledger.ApplyPending(ctx, stackID, "preview environment clone"); err != nil {
				return nil, err
			}
		}
	}

	if req.Preview != nil && c.commenter != nil {
		if err := c.commenter.UpsertComment(ctx, req.Preview.PullRequestURL, previewCommentBody(env)); err != nil {
			return nil, err
		}
	}

	return env, nil
}

func (c *Cloner) cloneSharedVariables(ctx context.Context, req CloneRequest, targetEnvID string) error {
	vars, err := c.store.EnvVars.ListByEnvironment(ctx, req.SourceEnvironmentID)
	if err != nil {
		return err
	}
	for _, v := range vars {
		if err := c.store.EnvVars.Insert(ctx, &domain.EnvironmentVariable{
			ID:            uuid.NewString(),
			EnvironmentID: targetEnvID,
			Key:           v.Key,
			Value:         v.Value,
		}); err != nil {
			return err
		}
	}
	if req.Preview == nil {
		return nil
	}
	for k, v := range req.Preview.ExtraVars {
		if err := c.store.EnvVars.Insert(ctx, &domain.EnvironmentVariable{
			ID:            uuid.NewString(),
			EnvironmentID: targetEnvID,
			Key:           k,
			Value:         v,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cloner) candidateStacks(ctx context.Context, req CloneRequest) ([]*domain.ComposeStack, error) {
	all, err := c.store.Stacks.ListByEnvironment(ctx, req.SourceEnvironmentID)
	if err != nil {
		return nil, err
	}
	if len(req.Only) == 0 {
		return all, nil
	}

	wanted := map[string]bool{}
	for _, slug := range req.Only {
		wanted[slug] = true
	}
	if req.TriggerStackSlug != "" {
		wanted[req.TriggerStackSlug] = true
	}

	var out []*domain.ComposeStack
	for _, s := range all {
		if wanted[s.Slug] {
			out = append(out, s)
		}
	}
	return out, nil
}

// cloneStack creates a sibling ComposeStack sharing slug and
// network_alias_prefix, with a fresh hash_prefix and deploy_token, and
// queues a pending compose_content change holding the source's user_content
// re-normalized to preserve key order (spec.md §4.7 point 3).
func (c *Cloner) cloneStack(ctx context.Context, src *domain.ComposeStack, targetEnvID string) (*domain.ComposeStack, error) {
	normalized, err := reorderYAML(src.UserContent)
	if err != nil {
		return nil, err
	}

	cloned := &domain.ComposeStack{
		ID:                 uuid.NewString(),
		Slug:               src.Slug,
		ProjectID:          src.ProjectID,
		EnvironmentID:      targetEnvID,
		HashPrefix:         identity.NewHashPrefix(),
		NetworkAliasPrefix: src.NetworkAliasPrefix,
		DeployToken:        identity.NewDeployToken(),
	}
	if err := c.store.Stacks.Insert(ctx, cloned); err != nil {
		return nil, err
	}

	if normalized != nil {
		if _, err := c.ledger.AddComposeContentChange(ctx, cloned.ID, *normalized); err != nil {
			return nil, err
		}
	}

	if err := c.cloneOverrides(ctx, src, cloned); err != nil {
		return nil, err
	}

	return cloned, nil
}

// cloneOverrides copies every env override from src to cloned, except those
// whose source value was generated from {{ generate_domain }}: those are
// regenerated so each clone gets a distinct domain (spec.md §4.7 point 3,
// §8 invariant 5, S6).
func (c *Cloner) cloneOverrides(ctx context.Context, src, cloned *domain.ComposeStack) error {
	existing, err := c.store.Overrides.ListByStack(ctx, src.ID)
	if err != nil {
		return err
	}

	res := resolver.New(c.rootDomain, cloned.ProjectID, cloned.Slug)

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, o := range existing {
		value := o.Value
		if o.SourceGenerator == "generate_domain" {
			value = res.GenerateDomain()
		}
		if err := c.store.Overrides.Upsert(ctx, tx, &domain.ComposeStackEnvOverride{
			ID:              uuid.NewString(),
			StackID:         cloned.ID,
			Service:         o.Service,
			Key:             o.Key,
			Value:           value,
			SourceGenerator: o.SourceGenerator,
		}); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// reorderYAML round-trips YAML text through a yaml.Node to normalize
// formatting while preserving key order, or returns nil for a stack that
// has never been deployed (nil UserContent).
func reorderYAML(userContent *string) (*string, error) {
	if userContent == nil {
		return nil, nil
	}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(*userContent), &node); err != nil {
		return nil, apperr.New(apperr.InvalidCompose, "cannot re-normalize source compose content: "+err.Error())
	}
	out, err := yaml.Marshal(&node)
	if err != nil {
		return nil, apperr.New(apperr.InvalidCompose, "cannot re-normalize source compose content: "+err.Error())
	}
	result := string(out)
	return &result, nil
}

func previewCommentBody(env *domain.Environment) string {
	if env.PreviewMetadata == nil {
		return ""
	}
	return "Preview environment `" + env.Name + "` created for " + env.PreviewMetadata.Branch + "."
}
