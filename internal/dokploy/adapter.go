// Package dokploy implements the Third-party Compose Adapter (SPEC_FULL.md
// §4.8): it translates a Dokploy template (base64 JSON envelope holding a
// compose YAML document plus a TOML config block) into our compose dialect,
// so the result can flow through internal/compose, internal/resolver, and
// internal/compiler exactly like a natively authored stack. Ported 1:1 from
// original_source/backend/compose/adapters.py::DokployComposeAdapter.
package dokploy

import (
	"encoding/base64"
	"encoding/json"
	"regexp"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zaneops/compose-core/internal/apperr"
)

// passwordLikePattern matches Dokploy's password/base64/hash/jwt
// placeholders, all of which map to generate_password — ported 1:1 from
// adapters.py's DOKPLOY_PASSWORD_LIKE_PATTERN.
var passwordLikePattern = regexp.MustCompile(`^\$\{(?:password|base64|hash|jwt)(?::(\d+))?\}$`)

// placeholderMapping is adapters.py's PLACEHOLDER_MAPPING, ported 1:1.
var placeholderMapping = map[string]string{
	"${domain}":   "{{ generate_domain }}",
	"${email}":    "{{ generate_email }}",
	"${username}": "{{ generate_username }}",
	"${uuid}":     "{{ generate_uuid }}",
}

// errBindMount is returned when a Dokploy mount or service volume uses a
// "../files/..." relative bind source. adapters.py's handling of this case
// is commented-out dead code (SPEC_FULL.md §9's "Open Question resolution");
// we reject rather than silently transform, per spec.md §9's explicit call.
const errBindMount = "dokploy bind mounts rooted at ../files/ are not supported; use a named config or volume instead"

// envelope is the base64-decoded JSON payload the /stacks/from-dokploy
// endpoint receives (spec.md §4.8 point 1).
type envelope struct {
	Compose string `json:"compose"`
	Config  string `json:"config"`
}

// dokployConfig is the decoded [config] TOML block, shaped after
// original_source's DokployConfigObject (inferred from adapters.py's usage
// and tests/fixtures.py's DOKPLOY_POCKETBASE_TEMPLATE /
// DOKPLOY_VALKEY_TEMPLATE fixtures: config.env may be a TOML table or a
// "KEY=VALUE" string array; config.mounts may carry a filePath+content pair
// for inline configs, or a plain name+mountPath for a named volume mount).
type dokployConfig struct {
	Variables map[string]string `toml:"variables"`
	Config    struct {
		Domains []dokployDomain `toml:"domains"`
		Env     toml.Primitive  `toml:"env"`
		Mounts  []dokployMount  `toml:"mounts"`
	} `toml:"config"`
}

type dokployDomain struct {
	ServiceName string `toml:"serviceName"`
	Host        string `toml:"host"`
	Path        string `toml:"path"`
	Port        int    `toml:"port"`
}

type dokployMount struct {
	Name      string `toml:"name"`
	MountPath string `toml:"mountPath"`
	FilePath  string `toml:"filePath"`
	Content   string `toml:"content"`
}

// ToZaneops translates a base64-encoded Dokploy template into a ZaneOps
// compose document, mirroring adapters.py::DokployComposeAdapter.to_zaneops.
// Downstream processing (parse, resolve, compile) is identical to a native
// compose submission (spec.md §4.8 point 6).
func ToZaneops(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", apperr.Wrap(err, apperr.InvalidCompose, "dokploy template is not valid base64")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", apperr.Wrap(err, apperr.InvalidCompose, "dokploy template is not a valid {compose, config} envelope")
	}

	var composeDict map[string]any
	if err := yaml.Unmarshal([]byte(env.Compose), &composeDict); err != nil {
		return "", apperr.Wrap(err, apperr.InvalidCompose, "dokploy compose block is not valid YAML")
	}
	if composeDict == nil {
		composeDict = map[string]any{}
	}

	var meta toml.MetaData
	var cfg dokployConfig
	meta, err = toml.Decode(env.Config, &cfg)
	if err != nil {
		return "", apperr.Wrap(err, apperr.InvalidCompose, "dokploy config block is not valid TOML")
	}

	if err := rejectRelativeBindMounts(composeDict, cfg.Config.Mounts); err != nil {
		return "", err
	}

	xEnv := map[string]any{}
	for key, value := range cfg.Variables {
		xEnv[key] = convertPlaceholder(value)
	}
	for key, value := range decodeEnvBlock(meta, cfg.Config.Env) {
		xEnv[key] = value
	}
	if len(xEnv) > 0 {
		composeDict["x-env"] = xEnv
	}

	if err := injectRouteLabels(composeDict, cfg.Config.Domains); err != nil {
		return "", err
	}

	composeDict["configs"] = buildConfigs(cfg.Config.Mounts)

	out, err := marshalReordered(composeDict)
	if err != nil {
		return "", apperr.Wrap(err, apperr.InvalidCompose, "cannot serialize converted dokploy compose document")
	}
	return out, nil
}
