// Package ledger implements the Change Ledger (SPEC_FULL.md §4.4): pending
// mutations to a stack's compose content or env overrides accumulate until
// an apply call resolves, compiles, and snapshots them atomically inside one
// database transaction, then hands the snapshot to a deploy starter.
package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zaneops/compose-core/internal/apperr"
	"github.com/zaneops/compose-core/internal/compiler"
	"github.com/zaneops/compose-core/internal/compose"
	"github.com/zaneops/compose-core/internal/domain"
	"github.com/zaneops/compose-core/internal/proxy"
	"github.com/zaneops/compose-core/internal/resolver"
	"github.com/zaneops/compose-core/internal/store"
)

const (
	errDuplicatePendingContent = "a compose_content change is already pending for this stack"
	errDuplicatePendingEnv     = "an env_override change is already pending for this item"
	errApply                   = "cannot apply pending changes"
)

// DeployStarter starts the durable deploy workflow for a freshly queued
// deployment, implemented by internal/workflow.
type DeployStarter interface {
	StartDeploy(ctx context.Context, deployment *domain.ComposeStackDeployment) error
}

// Ledger mutates a stack's pending changes and applies them.
type Ledger struct {
	store         *store.Store
	rootDomain    string
	deployStarter DeployStarter
	proxy         proxy.Client
}

// New builds a Ledger. proxy may be nil in tests that don't exercise the
// live reverse-proxy defense-in-depth route check (checkRouteConflicts
// falls back to the database-backed registry alone in that case).
func New(s *store.Store, rootDomain string, starter DeployStarter, px proxy.Client) *Ledger {
	return &Ledger{store: s, rootDomain: rootDomain, deployStarter: starter, proxy: px}
}

// AddComposeContentChange stages a replacement compose document. Only one
// compose_content change may be pending at a time (spec.md §4.4); a second
// attempt is rejected with Conflict.
func (l *Ledger) AddComposeContentChange(ctx context.Context, stackID, newContent string) (*domain.ComposeStackChange, error) {
	pending, err := l.store.Changes.PendingForField(ctx, stackID, domain.ChangeFieldComposeContent)
	if err != nil {
		return nil, errors.Wrap(err, "cannot check pending compose_content changes")
	}
	if len(pending) > 0 {
		return nil, apperr.New(apperr.Conflict, errDuplicatePendingContent)
	}

	stack, err := l.store.Stacks.Get(ctx, stackID)
	if err != nil {
		return nil, err
	}

	if err := l.checkRouteConflicts(ctx, stack, newContent); err != nil {
		return nil, err
	}

	change := &domain.ComposeStackChange{
		ID:       uuid.NewString(),
		StackID:  stackID,
		Field:    domain.ChangeFieldComposeContent,
		Type:     domain.ChangeTypeUpdate,
		OldValue: stack.UserContent,
		NewValue: &newContent,
	}

	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cannot begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := l.store.Changes.Insert(ctx, tx, change); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "cannot commit transaction")
	}

	return change, nil
}

// checkRouteConflicts rejects a submitted compose document whose declared
// routes collide with routes already deployed by another stack in the same
// environment (spec.md §3, §4.1: "No two ACTIVE stacks may publish the same
// (domain, base_path)"). Only literal, fully-expanded domains can be checked
// here: env-var and generator references resolve at apply time, not ingest
// time, so compose.ExtractDeclaredRoutes skips anything still containing
// `${...}`.
func (l *Ledger) checkRouteConflicts(ctx context.Context, stack *domain.ComposeStack, newContent string) error {
	parser := compose.NewParser(stack.Slug)
	spec, err := parser.Parse(ctx, newContent)
	if err != nil {
		return err
	}

	declared := compose.ExtractDeclaredRoutes(spec)
	if len(declared) == 0 {
		return nil
	}

	active, err := l.store.Stacks.ListActiveRoutes(ctx, stack.EnvironmentID, stack.ID)
	if err != nil {
		return errors.Wrap(err, "cannot list active routes")
	}

	for _, d := range declared {
		for _, a := range active {
			if domain.RoutesCollide(d, a) {
				return apperr.New(apperr.UrlConflict,
					"route "+d.Domain+d.BasePath+" is already published by another stack in this environment")
			}
		}

		if l.proxy == nil {
			continue
		}
		live, err := l.proxy.LookupRoute(ctx, d.Domain, d.BasePath)
		if err != nil {
			return errors.Wrap(err, "cannot look up route in reverse proxy")
		}
		if live {
			return apperr.New(apperr.UrlConflict,
				"route "+d.Domain+d.BasePath+" is already live in the reverse proxy")
		}
	}
	return nil
}

// AddEnvOverrideChange stages a (service?, key, value) override. Only one
// pending change per item_id (the override's key, optionally
// service-scoped) is permitted.
func (l *Ledger) AddEnvOverrideChange(ctx context.Context, stackID string, service *string, key, value string) (*domain.ComposeStackChange, error) {
	itemID := key
	if service != nil {
		itemID = *service + ":" + key
	}

	pending, err := l.store.Changes.PendingForField(ctx, stackID, domain.ChangeFieldEnvOverride)
	if err != nil {
		return nil, errors.Wrap(err, "cannot check pending env_override changes")
	}
	for _, p := range pending {
		if p.ItemID != nil && *p.ItemID == itemID {
			return nil, apperr.New(apperr.Conflict, errDuplicatePendingEnv)
		}
	}

	change := &domain.ComposeStackChange{
		ID:       uuid.NewString(),
		StackID:  stackID,
		Field:    domain.ChangeFieldEnvOverride,
		Type:     domain.ChangeTypeUpdate,
		ItemID:   &itemID,
		NewValue: &value,
	}

	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cannot begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := l.store.Changes.Insert(ctx, tx, change); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "cannot commit transaction")
	}

	return change, nil
}

// ApplyPending resolves and compiles every pending change for a stack inside
// one transaction, freezes a StackSnapshot, queues a ComposeStackDeployment,
// marks the changes applied, and starts the deploy workflow — all-or-nothing
// per spec.md §4.4: "applying a batch of pending changes is atomic; either
// every pending change transitions to applied and exactly one new deployment
// is queued, or none of that happens."
func (l *Ledger) ApplyPending(ctx context.Context, stackID, commitMessage string) (*domain.ComposeStackDeployment, error) {
	stack, err := l.store.Stacks.Get(ctx, stackID)
	if err != nil {
		return nil, err
	}

	pendingContent, err := l.store.Changes.PendingForField(ctx, stackID, domain.ChangeFieldComposeContent)
	if err != nil {
		return nil, errors.Wrap(err, errApply)
	}
	pendingEnv, err := l.store.Changes.PendingForField(ctx, stackID, domain.ChangeFieldEnvOverride)
	if err != nil {
		return nil, errors.Wrap(err, errApply)
	}
	if len(pendingContent) == 0 && len(pendingEnv) == 0 {
		return nil, apperr.New(apperr.Conflict, "no pending changes to apply")
	}

	userContent := ""
	if stack.UserContent != nil {
		userContent = *stack.UserContent
	}
	if len(pendingContent) > 0 && pendingContent[len(pendingContent)-1].NewValue != nil {
		userContent = *pendingContent[len(pendingContent)-1].NewValue
	}

	existingOverrides, err := l.store.Overrides.ListByStack(ctx, stackID)
	if err != nil {
		return nil, errors.Wrap(err, errApply)
	}
	overrideByItem := map[string]domain.ComposeStackEnvOverride{}
	for _, o := range existingOverrides {
		overrideByItem[o.Key] = o
	}
	for _, c := range pendingEnv {
		if c.ItemID == nil || c.NewValue == nil {
			continue
		}
		overrideByItem[*c.ItemID] = domain.ComposeStackEnvOverride{StackID: stackID, Key: *c.ItemID, Value: *c.NewValue}
	}
	var mergedOverrides []domain.ComposeStackEnvOverride
	for _, o := range overrideByItem {
		mergedOverrides = append(mergedOverrides, o)
	}

	parser := compose.NewParser(stack.Slug)
	spec, err := parser.Parse(ctx, userContent)
	if err != nil {
		return nil, err
	}

	res := resolver.New(l.rootDomain, stack.ProjectID, stack.Slug)
	newOverrides, err := res.Resolve(spec, mergedOverrides)
	if err != nil {
		return nil, err
	}

	comp := compiler.New(compiler.Identity{
		StackID:            stack.ID,
		ProjectID:          stack.ProjectID,
		EnvironmentID:      stack.EnvironmentID,
		HashPrefix:         stack.HashPrefix,
		NetworkAliasPrefix: stack.NetworkAliasPrefix,
		EnvNetworkName:     "env-" + stack.EnvironmentID,
		ZaneInternalDomain: "zane.internal",
		FluentdHost:        "fluentd:24224",
	})
	artifacts, err := comp.Compile(spec, userContent)
	if err != nil {
		return nil, err
	}

	deploymentHash := uuid.NewString()
	snapshot := domain.StackSnapshot{
		StackID:            stack.ID,
		HashPrefix:         stack.HashPrefix,
		NetworkAliasPrefix: stack.NetworkAliasPrefix,
		ProjectID:          stack.ProjectID,
		EnvironmentID:      stack.EnvironmentID,
		UserContent:        userContent,
		ComputedContent:    artifacts.ComputedContent,
		URLs:               artifacts.URLs,
		Configs:            artifacts.Configs,
		EnvOverrides:       mergedOverrides,
	}
	deployment := &domain.ComposeStackDeployment{
		Hash:          deploymentHash,
		StackID:       stack.ID,
		Status:        domain.DeploymentQueued,
		StackSnapshot: snapshot,
		CommitMessage: commitMessage,
	}

	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errApply)
	}
	defer tx.Rollback(ctx)

	for _, o := range newOverrides {
		o.StackID = stackID
		o.ID = uuid.NewString()
		if err := l.store.Overrides.Upsert(ctx, tx, &o); err != nil {
			return nil, err
		}
	}

	if err := l.store.Stacks.UpdateComputed(ctx, tx, stackID, artifacts.ComputedContent, artifacts.URLs, artifacts.Configs); err != nil {
		return nil, err
	}

	if err := l.store.Deployments.Insert(ctx, tx, deployment); err != nil {
		return nil, err
	}

	for _, c := range append(pendingContent, pendingEnv...) {
		if err := l.store.Changes.MarkApplied(ctx, tx, c.ID, deploymentHash); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, errApply)
	}

	if l.deployStarter != nil {
		if err := l.deployStarter.StartDeploy(ctx, deployment); err != nil {
			return deployment, err
		}
	}

	return deployment, nil
}
