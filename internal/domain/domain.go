// Package domain declares the entities of the Compose Stack Core: Project,
// Environment, ComposeStack, ComposeStackChange, ComposeStackEnvOverride,
// ComposeStackDeployment, and UrlRoute. These are plain Go structs, shared by
// every other internal package; persistence lives in internal/store.
package domain

import "time"

// Project owns one or more Environments.
type Project struct {
	ID    string `db:"id"`
	Slug  string `db:"slug"`
	Owner string `db:"owner"`
}

// Environment is a named partition of a Project's stacks. Exactly one
// Environment per Project may have Name "production".
type Environment struct {
	ID              string               `db:"id"`
	ProjectID       string               `db:"project_id"`
	Name            string               `db:"name"`
	IsPreview       bool                 `db:"is_preview"`
	PreviewMetadata *PreviewEnvMetadata  `db:"preview_metadata"`
}

// PreviewEnvMetadata is attached to an Environment created by cloning for a
// pull request preview. Recovered from original_source/zane_api/models/main.py
// (spec.md §4.7 references this shape without fully defining it).
type PreviewEnvMetadata struct {
	PullRequestURL string     `json:"pull_request_url"`
	HeadRepoURL    string     `json:"head_repo_url"`
	Branch         string     `json:"branch"`
	CommitSHA      string     `json:"commit_sha"`
	AuthEnabled    bool       `json:"auth_enabled"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// EnvironmentVariable is a shared variable available to every stack in an
// Environment, cloned alongside the environment by the Environment Cloner
// (spec.md §4.7 point 2).
type EnvironmentVariable struct {
	ID            string `db:"id"`
	EnvironmentID string `db:"environment_id"`
	Key           string `db:"key"`
	Value         string `db:"value"`
}

// UrlRoute is a (domain, base_path, strip_prefix, port) tuple registered
// with the reverse proxy, pointing at a stack service.
type UrlRoute struct {
	Domain        string `json:"domain"`
	BasePath      string `json:"base_path"`
	StripPrefix   bool   `json:"strip_prefix"`
	Port          int    `json:"port"`
	ServiceName   string `json:"-"`
	OriginalIndex int    `json:"-"`
}

// ComposeStack is a named, multi-service deployable unit defined by one
// compose document.
type ComposeStack struct {
	ID                 string                `db:"id"`
	Slug               string                `db:"slug"`
	ProjectID          string                `db:"project_id"`
	EnvironmentID      string                `db:"environment_id"`
	HashPrefix         string                `db:"hash_prefix"`
	NetworkAliasPrefix string                `db:"network_alias_prefix"`
	DeployToken        string                `db:"deploy_token"`
	UserContent        *string               `db:"user_content"`
	ComputedContent     *string              `db:"computed_content"`
	URLs               map[string][]UrlRoute `db:"urls"`
	Configs            map[string]string     `db:"configs"`
	ServiceStatuses    map[string]ServiceStatus `db:"service_statuses"`
	ToggleSnapshot     ToggleSnapshot        `db:"toggle_snapshot"`
	DesiredState       DesiredState          `db:"desired_state"`
}

// DesiredState is the Toggle component's start/stop target for a stack.
type DesiredState string

const (
	DesiredStateStart DesiredState = "start"
	DesiredStateStop  DesiredState = "stop"
)

// ToggleSnapshot remembers what a "stop" stripped from each service so a
// later "start" can restore it exactly (spec.md §4.6).
type ToggleSnapshot struct {
	ExposedPorts map[string][]int    `json:"exposed_ports,omitempty"`
	Replicas     map[string]uint64   `json:"replicas,omitempty"`
}

// ServiceMetricSample is one row the Metrics workflow writes per service per
// tick (spec.md §4.6).
type ServiceMetricSample struct {
	StackID     string    `db:"stack_id"`
	ServiceName string    `db:"service_name"`
	CPUPercent  float64   `db:"cpu_percent"`
	MemoryBytes uint64    `db:"memory_bytes"`
	NetTx       uint64    `db:"net_tx"`
	NetRx       uint64    `db:"net_rx"`
	DiskRead    uint64    `db:"disk_read"`
	DiskWrite   uint64    `db:"disk_write"`
	SampledAt   time.Time `db:"sampled_at"`
}

// ServiceStatus reports the aggregate health of one deployed service.
type ServiceStatus struct {
	DesiredReplicas int                  `json:"desired_replicas"`
	RunningReplicas int                  `json:"running_replicas"`
	Tasks           []ServiceTaskStatus  `json:"tasks"`
	Status          ServiceHealth        `json:"status"`
}

// ServiceTaskStatus is one Swarm task's contribution to a ServiceStatus.
type ServiceTaskStatus struct {
	State    string `json:"state"`
	Message  string `json:"message,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// ServiceHealth is the worst-of aggregate across a service's tasks.
type ServiceHealth string

const (
	ServiceHealthStarting  ServiceHealth = "STARTING"
	ServiceHealthHealthy   ServiceHealth = "HEALTHY"
	ServiceHealthUnhealthy ServiceHealth = "UNHEALTHY"
	ServiceHealthComplete  ServiceHealth = "COMPLETE"
)

// ChangeField names the field a ComposeStackChange targets.
type ChangeField string

const (
	ChangeFieldComposeContent ChangeField = "compose_content"
	ChangeFieldEnvOverride    ChangeField = "env_overrides"
)

// ChangeType classifies a ComposeStackChange.
type ChangeType string

const (
	ChangeTypeAdd    ChangeType = "ADD"
	ChangeTypeUpdate ChangeType = "UPDATE"
	ChangeTypeDelete ChangeType = "DELETE"
)

// ComposeStackChange is a pending or applied mutation to a stack.
type ComposeStackChange struct {
	ID           string      `db:"id"`
	StackID      string      `db:"stack_id"`
	Field        ChangeField `db:"field"`
	Type         ChangeType  `db:"type"`
	ItemID       *string     `db:"item_id"`
	OldValue     *string     `db:"old_value"`
	NewValue     *string     `db:"new_value"`
	Applied      bool        `db:"applied"`
	DeploymentID *string     `db:"deployment_id"`
	CreatedAt    time.Time   `db:"created_at"`
}

// ComposeStackEnvOverride is a resolved value for a generator placeholder or
// a user-supplied variable, keyed by (key, stack, service).
type ComposeStackEnvOverride struct {
	ID               string  `db:"id"`
	StackID          string  `db:"stack_id"`
	Service          *string `db:"service"`
	Key              string  `db:"key"`
	Value            string  `db:"value"`
	IsNewlyGenerated bool    `db:"-"`
	// SourceGenerator is the generator function name that produced Value
	// ("generate_domain", "generate_uuid", ...), empty for a user-supplied
	// value. The Environment Cloner uses it to single out generate_domain
	// overrides for regeneration (spec.md §4.7).
	SourceGenerator string `db:"source_generator"`
}

// DeploymentStatus is one state in the deployment state machine.
type DeploymentStatus string

const (
	DeploymentQueued    DeploymentStatus = "QUEUED"
	DeploymentDeploying DeploymentStatus = "DEPLOYING"
	DeploymentSucceeded DeploymentStatus = "SUCCEEDED"
	DeploymentFailed    DeploymentStatus = "FAILED"
	DeploymentCancelled DeploymentStatus = "CANCELLED"
	DeploymentRemoved   DeploymentStatus = "REMOVED"
)

// IsTerminal reports whether the status accepts no further transition.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case DeploymentSucceeded, DeploymentFailed, DeploymentCancelled, DeploymentRemoved:
		return true
	default:
		return false
	}
}

// ComposeStackDeployment is one attempt to converge a stack's swarm
// resources onto a snapshot taken at apply-time.
type ComposeStackDeployment struct {
	Hash          string           `db:"hash"`
	StackID       string           `db:"stack_id"`
	Status        DeploymentStatus `db:"status"`
	StatusReason  *string          `db:"status_reason"`
	StackSnapshot StackSnapshot    `db:"stack_snapshot"`
	CommitMessage string           `db:"commit_message"`
	QueuedAt      time.Time        `db:"queued_at"`
	StartedAt     *time.Time       `db:"started_at"`
	FinishedAt    *time.Time       `db:"finished_at"`
}

// StackSnapshot is the immutable JSON freeze of a stack taken inside the
// transaction that starts a deployment.
type StackSnapshot struct {
	StackID            string                   `json:"stack_id"`
	HashPrefix          string                   `json:"hash_prefix"`
	NetworkAliasPrefix  string                   `json:"network_alias_prefix"`
	ProjectID           string                   `json:"project_id"`
	EnvironmentID       string                   `json:"environment_id"`
	UserContent         string                   `json:"user_content"`
	ComputedContent     string                   `json:"computed_content"`
	URLs                map[string][]UrlRoute    `json:"urls"`
	Configs             map[string]string        `json:"configs"`
	EnvOverrides        []ComposeStackEnvOverride `json:"env_overrides"`
	ExposedPortsByService map[string][]int       `json:"exposed_ports_by_service,omitempty"`
}
