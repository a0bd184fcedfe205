package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zaneops/compose-core/internal/apperr"
	"github.com/zaneops/compose-core/internal/cloner"
	"github.com/zaneops/compose-core/internal/dokploy"
	"github.com/zaneops/compose-core/internal/domain"
	"github.com/zaneops/compose-core/internal/identity"
	"github.com/zaneops/compose-core/internal/monitor"
)

// handleListStacks implements GET /stacks (spec.md §6).
func (s *Server) handleListStacks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project, err := s.store.Projects.GetBySlug(ctx, chi.URLParam(r, "projectSlug"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	env, err := s.store.Environments.GetByName(ctx, project.ID, chi.URLParam(r, "envName"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	stacks, err := s.store.Stacks.ListByEnvironment(ctx, env.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stacks)
}

type createStackRequest struct {
	Slug        string `json:"slug"`
	UserContent string `json:"user_content"`
}

// handleCreateStack implements POST /stacks: it creates an empty stack and
// enqueues the submitted source as its first pending compose_content
// change (spec.md §3 "Lifecycle"). The first deploy applies it.
func (s *Server) handleCreateStack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project, err := s.store.Projects.GetBySlug(ctx, chi.URLParam(r, "projectSlug"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	env, err := s.store.Environments.GetByName(ctx, project.ID, chi.URLParam(r, "envName"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req createStackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, apperr.New(apperr.InvalidCompose, "cannot decode request body"))
		return
	}

	stack, err := s.createStack(ctx, project.ID, env.ID, req.Slug, req.UserContent)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, stack)
}

type createFromDokployRequest struct {
	Slug        string `json:"slug"`
	UserContent string `json:"user_content"`
}

// handleCreateStackFromDokploy implements POST /stacks/from-dokploy (spec.md
// §4.8, §6): the submitted user_content is a base64 Dokploy envelope, which
// the adapter translates into our compose dialect before the rest of stack
// creation proceeds identically to handleCreateStack.
func (s *Server) handleCreateStackFromDokploy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project, err := s.store.Projects.GetBySlug(ctx, chi.URLParam(r, "projectSlug"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	env, err := s.store.Environments.GetByName(ctx, project.ID, chi.URLParam(r, "envName"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req createFromDokployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, apperr.New(apperr.InvalidCompose, "cannot decode request body"))
		return
	}

	converted, err := dokploy.ToZaneops(req.UserContent)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	stack, err := s.createStack(ctx, project.ID, env.ID, req.Slug, converted)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, stack)
}

// createStack is the shared body of handleCreateStack and
// handleCreateStackFromDokploy: it inserts a bare stack (no user_content
// yet, per spec.md §3 "Lifecycle") and stages the submitted source as its
// first pending compose_content change.
func (s *Server) createStack(ctx context.Context, projectID, environmentID, slug, userContent string) (*domain.ComposeStack, error) {
	if slug == "" {
		slug = identity.NewHashPrefix()
	}

	stack := &domain.ComposeStack{
		ID:                 uuid.NewString(),
		Slug:               slug,
		ProjectID:          projectID,
		EnvironmentID:      environmentID,
		HashPrefix:         identity.NewHashPrefix(),
		NetworkAliasPrefix: "zn-" + slug,
		DeployToken:        identity.NewDeployToken(),
		DesiredState:       domain.DesiredStateStart,
	}
	if err := s.store.Stacks.Insert(ctx, stack); err != nil {
		return nil, err
	}

	if _, err := s.ledger.AddComposeContentChange(ctx, stack.ID, userContent); err != nil {
		return nil, err
	}

	if s.scheduler != nil {
		if err := s.scheduler.EnsureSchedules(ctx, stack.ID); err != nil {
			return nil, err
		}
	}

	return stack, nil
}

// toggle applies the Monitor & Toggle component's start/stop scaling
// (spec.md §4.6) using the Server's orchestrator client.
func (s *Server) toggle(ctx context.Context, stackID string, desired domain.DesiredState) error {
	return monitor.Toggle(ctx, s.orch, s.store, stackID, desired)
}

// handleGetStack implements GET /stacks/<slug>: detail with pending changes
// (spec.md §6).
func (s *Server) handleGetStack(w http.ResponseWriter, r *http.Request) {
	stack, err := s.stackContext(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	changes, err := s.store.Changes.ListByStack(r.Context(), stack.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stackDetailResponse{ComposeStack: stack, PendingChanges: pendingOnly(changes)})
}

type stackDetailResponse struct {
	*domain.ComposeStack
	PendingChanges []*domain.ComposeStackChange `json:"pending_changes"`
}

func pendingOnly(changes []*domain.ComposeStackChange) []*domain.ComposeStackChange {
	var out []*domain.ComposeStackChange
	for _, c := range changes {
		if !c.Applied {
			out = append(out, c)
		}
	}
	return out
}

type archiveStackRequest struct {
	DeleteConfigs *bool `json:"delete_configs"`
	DeleteVolumes *bool `json:"delete_volumes"`
}

// handleArchiveStack implements DELETE /stacks/<slug> (spec.md §4.5 "Archive
// flow", §6). Both delete flags default to true per spec.md §4.5.
func (s *Server) handleArchiveStack(w http.ResponseWriter, r *http.Request) {
	stack, err := s.stackContext(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req archiveStackRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, s.logger, apperr.New(apperr.InvalidCompose, "cannot decode request body"))
			return
		}
	}
	deleteConfigs := boolOrDefault(req.DeleteConfigs, true)
	deleteVolumes := boolOrDefault(req.DeleteVolumes, true)

	snapshot := stackSnapshotForArchive(stack)
	if s.archiver != nil {
		if err := s.archiver.StartArchive(r.Context(), snapshot, deleteConfigs, deleteVolumes); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}

	if err := s.store.Stacks.Delete(r.Context(), stack.ID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func stackSnapshotForArchive(stack *domain.ComposeStack) domain.StackSnapshot {
	computed := ""
	if stack.ComputedContent != nil {
		computed = *stack.ComputedContent
	}
	userContent := ""
	if stack.UserContent != nil {
		userContent = *stack.UserContent
	}
	return domain.StackSnapshot{
		StackID:            stack.ID,
		HashPrefix:         stack.HashPrefix,
		NetworkAliasPrefix: stack.NetworkAliasPrefix,
		ProjectID:          stack.ProjectID,
		EnvironmentID:      stack.EnvironmentID,
		UserContent:        userContent,
		ComputedContent:    computed,
		URLs:               stack.URLs,
		Configs:            stack.Configs,
	}
}

type requestChangeRequest struct {
	Field      domain.ChangeField `json:"field"`
	ComposeContent string         `json:"compose_content,omitempty"`
	Service    *string            `json:"service,omitempty"`
	Key        string             `json:"key,omitempty"`
	Value      string             `json:"value,omitempty"`
}

// handleRequestChange implements PUT /stacks/<slug>/request-change (spec.md
// §4.4, §6): it stages exactly one pending ComposeStackChange.
func (s *Server) handleRequestChange(w http.ResponseWriter, r *http.Request) {
	stack, err := s.stackContext(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req requestChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, apperr.New(apperr.InvalidCompose, "cannot decode request body"))
		return
	}

	var change *domain.ComposeStackChange
	switch req.Field {
	case domain.ChangeFieldComposeContent:
		change, err = s.ledger.AddComposeContentChange(r.Context(), stack.ID, req.ComposeContent)
	case domain.ChangeFieldEnvOverride:
		change, err = s.ledger.AddEnvOverrideChange(r.Context(), stack.ID, req.Service, req.Key, req.Value)
	default:
		err = apperr.New(apperr.InvalidCompose, "field must be compose_content or env_overrides")
	}
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

type deployRequest struct {
	CommitMessage string `json:"commit_message"`
}

// handleDeploy implements PUT /stacks/<slug>/deploy: apply every pending
// change and queue a deployment (spec.md §4.4, §4.5, §6).
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	stack, err := s.stackContext(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req deployRequest
	if r.ContentLength > 0 {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	deployment, err := s.ledger.ApplyPending(r.Context(), stack.ID, req.CommitMessage)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

// handleWebhookDeploy implements PUT /stacks/webhook/<deploy_token>: the
// tokened equivalent of handleDeploy, used by CI pipelines without a
// project/environment-scoped credential (spec.md §6).
func (s *Server) handleWebhookDeploy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stack, err := s.store.Stacks.GetByDeployToken(ctx, chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req deployRequest
	if r.ContentLength > 0 {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.CommitMessage == "" {
		req.CommitMessage = "webhook deploy"
	}

	deployment, err := s.ledger.ApplyPending(ctx, stack.ID, req.CommitMessage)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

type toggleRequest struct {
	DesiredState domain.DesiredState `json:"desired_state"`
}

// handleToggle implements PUT /stacks/<slug>/toggle (spec.md §4.6, §6).
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	stack, err := s.stackContext(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, apperr.New(apperr.InvalidCompose, "cannot decode request body"))
		return
	}
	if req.DesiredState != domain.DesiredStateStart && req.DesiredState != domain.DesiredStateStop {
		writeError(w, s.logger, apperr.New(apperr.InvalidCompose, "desired_state must be start or stop"))
		return
	}

	if err := s.toggle(r.Context(), stack.ID, req.DesiredState); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]domain.DesiredState{"desired_state": req.DesiredState})
}

// handleGetDeployment implements GET /stacks/<slug>/deployments/<hash>
// (spec.md §6).
func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	stack, err := s.stackContext(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	deployment, err := s.store.Deployments.Get(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if deployment.StackID != stack.ID {
		writeError(w, s.logger, apperr.New(apperr.NotFound, "deployment not found for this stack"))
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

// handleCancelDeployment implements PUT
// /stacks/<slug>/deployments/<hash>/cancel (spec.md §4.5 "Cancel endpoint",
// §8 invariant 7).
func (s *Server) handleCancelDeployment(w http.ResponseWriter, r *http.Request) {
	stack, err := s.stackContext(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	ctx := r.Context()
	deployment, err := s.store.Deployments.Get(ctx, chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if deployment.StackID != stack.ID {
		writeError(w, s.logger, apperr.New(apperr.NotFound, "deployment not found for this stack"))
		return
	}
	if deployment.Status.IsTerminal() {
		writeError(w, s.logger, apperr.New(apperr.Conflict, "deployment "+deployment.Hash+" is already in a terminal state"))
		return
	}

	reason := "Deployment cancelled."
	if deployment.StartedAt == nil {
		if err := s.store.Deployments.TransitionStatus(ctx, deployment.Hash, domain.DeploymentCancelled, &reason); err != nil {
			writeError(w, s.logger, err)
			return
		}
	} else if s.deploys != nil {
		if err := s.deploys.CancelDeploy(ctx, stack.ID); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}

	deployment, err = s.store.Deployments.Get(ctx, deployment.Hash)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

type gitWebhookRequest struct {
	Action                string `json:"action"`
	SourceEnvironmentName string `json:"source_environment_name"`
	TargetEnvironmentName string `json:"target_environment_name"`
	PullRequestURL        string `json:"pull_request_url"`
	HeadRepoURL           string `json:"head_repo_url"`
	Branch                string `json:"branch"`
	CommitSHA             string `json:"commit_sha"`
	TriggerStackSlug      string `json:"trigger_stack_slug"`
}

// handleGitWebhook implements the PR-triggered leg of the Environment
// Cloner (spec.md §4.7 point 4): an "opened"/"synchronize" action clones
// the source environment into a new preview environment for the pull
// request and deploys the clones; any other
// action is accepted and ignored, since only the events this module cares
// about are modeled (spec.md §1 "Git providers ... accessed only through
// the events they deliver").
func (s *Server) handleGitWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cloner == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var req gitWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, apperr.New(apperr.InvalidCompose, "cannot decode webhook payload"))
		return
	}
	if req.Action != "opened" && req.Action != "synchronize" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ctx := r.Context()
	project, err := s.store.Projects.GetBySlug(ctx, chi.URLParam(r, "projectSlug"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	sourceEnv, err := s.store.Environments.GetByName(ctx, project.ID, req.SourceEnvironmentName)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	env, err := s.cloner.Clone(ctx, cloner.CloneRequest{
		SourceEnvironmentID: sourceEnv.ID,
		TargetName:          req.TargetEnvironmentName,
		TriggerStackSlug:    req.TriggerStackSlug,
		DeployAfterClone:    true,
		Preview: &cloner.PreviewRequest{
			PullRequestURL: req.PullRequestURL,
			HeadRepoURL:    req.HeadRepoURL,
			Branch:         req.Branch,
			CommitSHA:      req.CommitSHA,
			AuthEnabled:    true,
		},
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}
