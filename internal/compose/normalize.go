package compose

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zaneops/compose-core/internal/apperr"
	"github.com/zaneops/compose-core/internal/domain"
)

// parseUserYAML parses raw compose YAML into a generic map, the same
// structural check processor.py::_parse_user_yaml performs (empty,
// non-mapping, or syntactically invalid content is rejected).
func parseUserYAML(content string) (map[string]any, error) {
	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, apperr.Wrap(err, apperr.InvalidCompose, "invalid YAML syntax")
	}
	if parsed == nil {
		return nil, apperr.New(apperr.InvalidCompose, "empty compose file")
	}
	return parsed, nil
}

func marshalYAML(v any) (string, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// stubConfigContents replaces configs[*].content with a placeholder file:
// reference, so a second validation pass can surface unrelated errors
// (processor.py::validate_compose_file's retry trick).
func stubConfigContents(raw map[string]any) map[string]any {
	stubbed := make(map[string]any, len(raw))
	for k, v := range raw {
		stubbed[k] = v
	}
	configs, ok := stubbed["configs"].(map[string]any)
	if !ok {
		return stubbed
	}
	newConfigs := make(map[string]any, len(configs))
	for name, c := range configs {
		cfg, ok := c.(map[string]any)
		if !ok {
			newConfigs[name] = c
			continue
		}
		if _, hasContent := cfg["content"]; hasContent {
			cfg = cloneMap(cfg)
			delete(cfg, "content")
			cfg["file"] = "./placeholder.conf"
		}
		newConfigs[name] = cfg
	}
	stubbed["configs"] = newConfigs
	return stubbed
}

func cloneMap(m map[string]any) map[string]any {
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// normalize converts the raw YAML map into the canonical domain.ComposeSpec
// shape, collapsing each compose field that compose allows as either a list
// or a map (environment, volumes, command, ports) into one representation,
// per SPEC_FULL.md §9's "model as a tagged variant during parse; normalize
// immediately into one canonical shape" guidance.
func normalize(raw map[string]any) *domain.ComposeSpec {
	spec := &domain.ComposeSpec{
		Services: map[string]*domain.ServiceSpec{},
		Networks: map[string]*domain.NetworkSpec{},
		Volumes:  map[string]*domain.VolumeSpec{},
		Configs:  map[string]*domain.ConfigSpec{},
		XEnv:     map[string]*domain.EnvValue{},
	}

	if v, ok := raw["version"].(string); ok {
		spec.Version = v
	}

	if xenv, ok := asMap(raw["x-env"]); ok {
		for k, v := range xenv {
			spec.XEnv[k] = &domain.EnvValue{Value: fmt.Sprint(v)}
		}
	}

	if services, ok := asMap(raw["services"]); ok {
		for name, svcRaw := range services {
			svcMap, _ := asMap(svcRaw)
			spec.Services[name] = normalizeService(name, svcMap)
		}
	}

	if networks, ok := asMap(raw["networks"]); ok {
		for name, nRaw := range networks {
			nMap, _ := asMap(nRaw)
			spec.Networks[name] = &domain.NetworkSpec{
				Driver:   stringField(nMap, "driver"),
				External: boolField(nMap, "external"),
				Labels:   normalizeLabels(nMap["labels"]),
			}
		}
	}

	if volumes, ok := asMap(raw["volumes"]); ok {
		for name, vRaw := range volumes {
			vMap, _ := asMap(vRaw)
			spec.Volumes[name] = &domain.VolumeSpec{
				Driver:     stringField(vMap, "driver"),
				DriverOpts: normalizeStringMap(vMap["driver_opts"]),
				External:   boolField(vMap, "external"),
				Labels:     normalizeLabels(vMap["labels"]),
			}
		}
	}

	if configs, ok := asMap(raw["configs"]); ok {
		for name, cRaw := range configs {
			cMap, _ := asMap(cRaw)
			spec.Configs[name] = &domain.ConfigSpec{
				Content:  stringField(cMap, "content"),
				File:     stringField(cMap, "file"),
				External: boolField(cMap, "external"),
				Labels:   normalizeLabels(cMap["labels"]),
			}
		}
	}

	return spec
}

func normalizeService(name string, m map[string]any) *domain.ServiceSpec {
	svc := &domain.ServiceSpec{
		Name:        name,
		Image:       stringField(m, "image"),
		Environment: normalizeEnvironment(m["environment"]),
		Labels:      normalizeLabels(m["labels"]),
		Restart:     stringField(m, "restart"),
		WorkingDir:  stringField(m, "working_dir"),
		User:        stringField(m, "user"),
		Hostname:    stringField(m, "hostname"),
	}

	svc.Command = normalizeStringList(m["command"])
	svc.DependsOn = normalizeDependsOn(m["depends_on"])
	svc.Ports = normalizePorts(m["ports"])
	svc.Volumes = normalizeVolumes(m["volumes"])
	svc.Networks = normalizeNetworks(m["networks"])
	svc.Deploy = normalizeDeploy(m["deploy"])
	svc.ConfigMounts = normalizeConfigMounts(m["configs"])

	return svc
}

func normalizeEnvironment(v any) map[string]*string {
	out := map[string]*string{}
	switch val := v.(type) {
	case map[string]any:
		for k, raw := range val {
			if raw == nil {
				out[k] = nil
				continue
			}
			s := fmt.Sprint(raw)
			out[k] = &s
		}
	case []any:
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				continue
			}
			parts := strings.SplitN(s, "=", 2)
			if len(parts) == 2 {
				v := parts[1]
				out[parts[0]] = &v
			} else {
				out[parts[0]] = nil
			}
		}
	}
	return out
}

func normalizeStringList(v any) []string {
	switch val := v.(type) {
	case string:
		return strings.Fields(val)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}

func normalizeDependsOn(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case map[string]any:
		out := make([]string, 0, len(val))
		for k := range val {
			out = append(out, k)
		}
		return out
	default:
		return nil
	}
}

// portShorthand matches "HOSTIP:HOSTPORT:TARGET/proto", "HOSTPORT:TARGET",
// or "TARGET".
var portShorthand = regexp.MustCompile(`^(?:(?:([\d.]+):)?(\d+):)?(\d+)(?:/(\w+))?$`)

func normalizePorts(v any) []domain.PortSpec {
	var out []domain.PortSpec
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			switch p := item.(type) {
			case string:
				if m := portShorthand.FindStringSubmatch(p); m != nil {
					target, _ := strconv.Atoi(m[3])
					published := 0
					if m[2] != "" {
						published, _ = strconv.Atoi(m[2])
					}
					out = append(out, domain.PortSpec{
						Target:    target,
						Published: published,
						HostIP:    m[1],
						Protocol:  m[4],
					})
				}
			case int:
				out = append(out, domain.PortSpec{Target: p})
			case map[string]any:
				out = append(out, domain.PortSpec{
					Target:    intField(p, "target"),
					Published: intField(p, "published"),
					Protocol:  stringField(p, "protocol"),
					HostIP:    stringField(p, "host_ip"),
				})
			}
		}
	}
	return out
}

func normalizeVolumes(v any) []domain.ServiceVolume {
	var out []domain.ServiceVolume
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		switch vol := item.(type) {
		case string:
			parts := strings.SplitN(vol, ":", 3)
			sv := domain.ServiceVolume{Type: "volume"}
			switch len(parts) {
			case 1:
				sv.Target = parts[0]
			case 2, 3:
				sv.Source = parts[0]
				sv.Target = parts[1]
				if len(parts) == 3 {
					sv.ReadOnly = strings.Contains(parts[2], "ro")
				}
				if strings.HasPrefix(sv.Source, "/") || strings.HasPrefix(sv.Source, ".") {
					sv.Type = "bind"
				}
			}
			out = append(out, sv)
		case map[string]any:
			out = append(out, domain.ServiceVolume{
				Type:     stringField(vol, "type"),
				Source:   stringField(vol, "source"),
				Target:   stringField(vol, "target"),
				ReadOnly: boolField(vol, "read_only"),
			})
		}
	}
	return out
}

func normalizeNetworks(v any) map[string]*domain.ServiceNetwork {
	out := map[string]*domain.ServiceNetwork{}
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if name, ok := item.(string); ok {
				out[name] = &domain.ServiceNetwork{}
			}
		}
	case map[string]any:
		for name, cfgRaw := range val {
			cfg, _ := asMap(cfgRaw)
			sn := &domain.ServiceNetwork{
				Ipv4Address: stringField(cfg, "ipv4_address"),
				Ipv6Address: stringField(cfg, "ipv6_address"),
				Aliases:     normalizeStringList(cfg["aliases"]),
			}
			out[name] = sn
		}
	}
	return out
}

func normalizeDeploy(v any) domain.DeploySpec {
	m, _ := asMap(v)
	d := domain.DeploySpec{
		Mode:   stringField(m, "mode"),
		Labels: normalizeLabels(m["labels"]),
	}
	if uc, ok := asMap(m["update_config"]); ok {
		d.UpdateConfig = uc
	}
	if rp, ok := asMap(m["restart_policy"]); ok {
		d.RestartPolicy = rp
	}
	return d
}

func normalizeConfigMounts(v any) []domain.ConfigMount {
	var out []domain.ConfigMount
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		switch c := item.(type) {
		case string:
			out = append(out, domain.ConfigMount{Source: c, Target: "/" + c})
		case map[string]any:
			out = append(out, domain.ConfigMount{
				Source: stringField(c, "source"),
				Target: stringField(c, "target"),
			})
		}
	}
	return out
}

func normalizeLabels(v any) map[string]string {
	return normalizeStringMap(v)
}

func normalizeStringMap(v any) map[string]string {
	out := map[string]string{}
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			out[k] = fmt.Sprint(item)
		}
	case []any:
		for _, item := range val {
			s := fmt.Sprint(item)
			parts := strings.SplitN(s, "=", 2)
			if len(parts) == 2 {
				out[parts[0]] = parts[1]
			} else {
				out[parts[0]] = ""
			}
		}
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

func boolField(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func intField(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// routeLabelRegex extracts the index from a zane.http.routes.{i}.domain
// style deploy label, grounded on processor.py's domain_label_regex.
var routeLabelRegex = regexp.MustCompile(`^zane\.http\.routes\.(\d+)\.domain$`)

// validateRouteLabels enforces spec.md §4.1's URL-route label rules on
// ports: a route with a domain label but no port label is rejected, and a
// literal port must be an integer >= 1 (a port containing `${` is accepted
// as is). A route without a domain label is not examined. The domain and
// base_path values themselves are not validated here.
func validateRouteLabels(spec *domain.ComposeSpec) error {
	for name, svc := range spec.Services {
		if svc.Deploy.Labels == nil {
			continue
		}
		seen := map[string]bool{}
		for label := range svc.Deploy.Labels {
			m := routeLabelRegex.FindStringSubmatch(label)
			if m == nil {
				continue
			}
			idx := m[1]
			if seen[idx] {
				continue
			}
			seen[idx] = true

			portKey := "zane.http.routes." + idx + ".port"
			portVal, hasPort := svc.Deploy.Labels[portKey]
			if !hasPort {
				return apperr.New(apperr.InvalidCompose,
					"service '"+name+"' route "+idx+" is missing a port").
					WithField("services." + name + ".deploy.labels." + portKey)
			}
			if port, err := strconv.Atoi(portVal); err != nil || port < 1 {
				if !strings.Contains(portVal, "${") {
					return apperr.New(apperr.InvalidCompose,
						"service '"+name+"' route "+idx+" has an invalid port").
						WithField("services." + name + ".deploy.labels." + portKey)
				}
			}
		}
	}
	return validateNoRouteCollisions(spec)
}

// declaredRoute is one route label group as declared on a service, before
// URL extraction proper (spec.md §4.3) runs; used only for the collision
// check below.
type declaredRoute struct {
	owner string
	route domain.UrlRoute
}

// validateNoRouteCollisions rejects two declared routes inside one stack
// colliding on (domain, base_path); a wildcard must not shadow a route in
// the same stack (spec.md §4.1, §3).
func validateNoRouteCollisions(spec *domain.ComposeSpec) error {
	var declared []declaredRoute
	for name, svc := range spec.Services {
		domains := map[string]string{}
		paths := map[string]string{}
		for label, v := range svc.Deploy.Labels {
			m := routeLabelRegex.FindStringSubmatch(label)
			if m == nil {
				continue
			}
			domains[m[1]] = v
			if bp, ok := svc.Deploy.Labels["zane.http.routes."+m[1]+".base_path"]; ok {
				paths[m[1]] = bp
			} else {
				paths[m[1]] = "/"
			}
		}
		for idx, d := range domains {
			declared = append(declared, declaredRoute{owner: name, route: domain.UrlRoute{Domain: d, BasePath: paths[idx]}})
		}
	}

	for i := 0; i < len(declared); i++ {
		for j := i + 1; j < len(declared); j++ {
			if domain.RoutesCollide(declared[i].route, declared[j].route) {
				return apperr.New(apperr.UrlConflict,
					"route "+declared[i].route.Domain+declared[i].route.BasePath+" declared by both '"+declared[i].owner+"' and '"+declared[j].owner+"'")
			}
		}
	}
	return nil
}

// ExtractDeclaredRoutes reads the literal (pre-expansion) domain/base_path
// pairs declared via zane.http.routes.{i}.* labels, for the ingest-time
// cross-stack collision check (spec.md §3 "No two ACTIVE stacks may publish
// the same (domain, base_path)"). Routes whose domain still contains an
// unexpanded `${...}` reference are skipped: they cannot be compared until
// x-env resolution runs, which happens only at deploy time.
func ExtractDeclaredRoutes(spec *domain.ComposeSpec) []domain.UrlRoute {
	var out []domain.UrlRoute
	for name, svc := range spec.Services {
		for label, v := range svc.Deploy.Labels {
			m := routeLabelRegex.FindStringSubmatch(label)
			if m == nil || strings.Contains(v, "${") {
				continue
			}
			idx := m[1]
			basePath := svc.Deploy.Labels["zane.http.routes."+idx+".base_path"]
			if basePath == "" {
				basePath = "/"
			}
			out = append(out, domain.UrlRoute{Domain: v, BasePath: basePath, ServiceName: name})
		}
	}
	return out
}
