package domain

// ComposeSpec is the normalized, mutable in-memory form of a compose
// document as it flows through Parse -> Resolve -> Compile. It deliberately
// keeps only the canonical shape for each field (see SPEC_FULL.md §9): any
// shape compose-go exposes as list-or-map is normalized once, at parse time.
type ComposeSpec struct {
	Version  string                 `yaml:"version,omitempty"`
	XEnv     map[string]*EnvValue   `yaml:"x-env,omitempty"`
	Services map[string]*ServiceSpec `yaml:"services"`
	Networks map[string]*NetworkSpec `yaml:"networks,omitempty"`
	Volumes  map[string]*VolumeSpec  `yaml:"volumes,omitempty"`
	Configs  map[string]*ConfigSpec  `yaml:"configs,omitempty"`
	Extra    map[string]any          `yaml:"-"`
}

// EnvValue tracks whether a resolved x-env entry came from a freshly
// generated placeholder (spec.md §4.2: "a value is newly generated iff its
// placeholder was resolved in this pass").
type EnvValue struct {
	Value           string
	IsNewlyGenerated bool
}

// ServiceSpec is one compose service, renamed and enriched by the Spec
// Compiler. Field set adapted from the teacher's
// containerv1alpha1.ContainerParameters (apis/container/v1alpha1/types.go),
// trimmed to what the compose dialect (spec.md §6) actually carries and
// extended with deploy/network/logging fields Swarm needs.
type ServiceSpec struct {
	Name          string
	Image         string
	Command       []string
	Environment   map[string]*string
	Ports         []PortSpec
	Volumes       []ServiceVolume
	Networks      map[string]*ServiceNetwork
	Labels        map[string]string
	DependsOn     []string
	Restart       string
	WorkingDir    string
	User          string
	Hostname      string
	Logging       *LoggingSpec
	Deploy        DeploySpec
	ConfigMounts  []ConfigMount
}

// PortSpec is a published container port, adapted from
// containerv1alpha1.PortSpec.
type PortSpec struct {
	Target    int
	Published int
	Protocol  string
	HostIP    string
}

// ServiceVolume is one volume mount, adapted from
// containerv1alpha1.VolumeMount (bind vs named-volume distinction kept).
type ServiceVolume struct {
	Type     string // "bind" | "volume"
	Source   string
	Target   string
	ReadOnly bool
}

// ServiceNetwork is one network attachment with DNS aliases, adapted from
// containerv1alpha1.NetworkAttachment.
type ServiceNetwork struct {
	Aliases     []string
	Ipv4Address string
	Ipv6Address string
}

// LoggingSpec configures the log driver injected by the Spec Compiler
// (spec.md §4.3 point 3, "platform's log shipper").
type LoggingSpec struct {
	Driver  string
	Options map[string]string
}

// DeploySpec mirrors the compose `deploy:` stanza fields the compiler
// touches: update/restart policy, labels, mode, replicas.
type DeploySpec struct {
	Mode          string
	Replicas      *int
	Labels        map[string]string
	UpdateConfig  map[string]any
	RestartPolicy map[string]any
}

// ConfigMount is a service-level reference to a top-level config.
type ConfigMount struct {
	Source string
	Target string
}

// NetworkSpec is a top-level compose network definition.
type NetworkSpec struct {
	Driver   string
	External bool
	Labels   map[string]string
}

// VolumeSpec is a top-level compose volume definition.
type VolumeSpec struct {
	Driver     string
	DriverOpts map[string]string
	External   bool
	Labels     map[string]string
}

// ConfigSpec is a top-level compose config definition. Content is rewritten
// to a file reference by the Spec Compiler; IsDerivedFromContent records that
// so the original content can be materialized on disk at deploy time.
type ConfigSpec struct {
	Content             string
	File                string
	External            bool
	Labels              map[string]string
	IsDerivedFromContent bool
}

// CompiledArtifacts is the Spec Compiler's output bundle (spec.md §4.3
// "Outputs").
type CompiledArtifacts struct {
	ComputedSpec    *ComposeSpec
	ComputedContent string
	URLs            map[string][]UrlRoute
	Configs         map[string]string
	EnvOverrides    []ComposeStackEnvOverride
}
