package compiler

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zaneops/compose-core/internal/domain"
	"github.com/zaneops/compose-core/internal/resolver"
)

// generateDeployableYAML converts a compiled ComposeSpec back to YAML for
// `docker stack deploy`, reconciling it against the user's original source
// (spec.md §4.3 point 7), then expands any remaining ${} references against
// x-env. Grounded on processor.py::generate_deployable_yaml.
func generateDeployableYAML(spec *domain.ComposeSpec, userContent string, hashPrefix string, xenv map[string]string) (string, error) {
	var userDoc map[string]any
	if err := yaml.Unmarshal([]byte(userContent), &userDoc); err != nil {
		return "", err
	}

	reconciled := reconcileWithUserContent(spec, userDoc, hashPrefix)

	out, err := marshalOrdered(reconciled)
	if err != nil {
		return "", err
	}

	return resolver.Expand(out, xenv), nil
}

// reconcileWithUserContent merges the computed spec with the parsed user
// document: for each service/volume key the user set that the compiler
// didn't override, the user's value wins; same for untouched top-level
// keys. Ported from processor.py::_reconcile_computed_spec_with_user_content.
func reconcileWithUserContent(spec *domain.ComposeSpec, userDoc map[string]any, hashPrefix string) map[string]any {
	computed := toDict(spec)

	userServices, _ := userDoc["services"].(map[string]any)
	computedServices, _ := computed["services"].(map[string]any)
	reconciledServices := map[string]any{}

	for originalName, rawUserSvc := range userServices {
		hashedName := hashPrefix + "_" + originalName
		userSvc, _ := rawUserSvc.(map[string]any)
		computedSvc, ok := computedServices[hashedName].(map[string]any)
		if !ok {
			computedSvc = map[string]any{}
		}

		for k, v := range userSvc {
			if _, exists := computedSvc[k]; !exists {
				computedSvc[k] = v
			}
		}
		reconciledServices[hashedName] = computedSvc
	}
	computed["services"] = reconciledServices

	userVolumes, _ := userDoc["volumes"].(map[string]any)
	computedVolumes, _ := computed["volumes"].(map[string]any)
	if len(userVolumes) > 0 {
		reconciledVolumes := map[string]any{}
		for name, rawUserVol := range userVolumes {
			computedVol, ok := computedVolumes[name].(map[string]any)
			if !ok {
				computedVol = map[string]any{}
			}
			if userVol, ok := rawUserVol.(map[string]any); ok {
				for k, v := range userVol {
					if _, exists := computedVol[k]; !exists {
						computedVol[k] = v
					}
				}
			}
			reconciledVolumes[name] = computedVol
		}
		computed["volumes"] = reconciledVolumes
	}

	for k, v := range userDoc {
		if _, exists := computed[k]; !exists {
			computed[k] = v
		}
	}

	return dropEmpty(computed)
}

func dropEmpty(m map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			if len(val) == 0 {
				continue
			}
		case []any:
			if len(val) == 0 {
				continue
			}
		}
		out[k] = v
	}
	return out
}

// toDict converts a ComposeSpec to a plain map holding version, x-env,
// services, networks, volumes and configs; the top-level key order is fixed
// later, at emission time, by orderedTopLevel (spec.md §4.3 point 5).
func toDict(spec *domain.ComposeSpec) map[string]any {
	out := map[string]any{}
	if spec.Version != "" {
		out["version"] = spec.Version
	}
	if len(spec.XEnv) > 0 {
		xenv := map[string]any{}
		for k, v := range spec.XEnv {
			xenv[k] = v.Value
		}
		out["x-env"] = xenv
	}

	services := map[string]any{}
	for name, svc := range spec.Services {
		services[name] = serviceToDict(svc)
	}
	out["services"] = services

	if len(spec.Networks) > 0 {
		networks := map[string]any{}
		for name, n := range spec.Networks {
			networks[name] = map[string]any{
				"driver":   emptyToNil(n.Driver),
				"external": n.External,
				"labels":   n.Labels,
			}
		}
		out["networks"] = networks
	}

	if len(spec.Volumes) > 0 {
		volumes := map[string]any{}
		for name, v := range spec.Volumes {
			volumes[name] = map[string]any{
				"driver":      emptyToNil(v.Driver),
				"driver_opts": v.DriverOpts,
				"external":    v.External,
				"labels":      v.Labels,
			}
		}
		out["volumes"] = volumes
	}

	if len(spec.Configs) > 0 {
		configs := map[string]any{}
		for name, c := range spec.Configs {
			entry := map[string]any{"labels": c.Labels, "external": c.External}
			if c.File != "" {
				entry["file"] = c.File
			}
			configs[name] = entry
		}
		out["configs"] = configs
	}

	return out
}

func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func serviceToDict(svc *domain.ServiceSpec) map[string]any {
	m := map[string]any{"image": svc.Image}

	env := map[string]any{}
	for k, v := range svc.Environment {
		if v == nil {
			env[k] = nil
		} else {
			env[k] = quoted(*v)
		}
	}
	m["environment"] = env

	if len(svc.Command) > 0 {
		m["command"] = svc.Command
	}
	if len(svc.Labels) > 0 {
		m["labels"] = svc.Labels
	}
	if svc.Restart != "" {
		m["restart"] = svc.Restart
	}
	if svc.WorkingDir != "" {
		m["working_dir"] = svc.WorkingDir
	}
	if svc.User != "" {
		m["user"] = svc.User
	}
	if svc.Hostname != "" {
		m["hostname"] = svc.Hostname
	}
	if len(svc.DependsOn) > 0 {
		sorted := append([]string{}, svc.DependsOn...)
		sort.Strings(sorted)
		m["depends_on"] = sorted
	}

	if len(svc.Ports) > 0 {
		var ports []any
		for _, p := range svc.Ports {
			entry := map[string]any{"target": p.Target}
			if p.Published != 0 {
				entry["published"] = p.Published
			}
			if p.Protocol != "" {
				entry["protocol"] = p.Protocol
			}
			if p.HostIP != "" {
				entry["host_ip"] = p.HostIP
			}
			ports = append(ports, entry)
		}
		m["ports"] = ports
	}

	if len(svc.Volumes) > 0 {
		var vols []any
		for _, v := range svc.Volumes {
			vols = append(vols, map[string]any{
				"type":      v.Type,
				"source":    v.Source,
				"target":    v.Target,
				"read_only": v.ReadOnly,
			})
		}
		m["volumes"] = vols
	}

	if len(svc.Networks) > 0 {
		networks := map[string]any{}
		for name, n := range svc.Networks {
			entry := map[string]any{}
			if len(n.Aliases) > 0 {
				entry["aliases"] = n.Aliases
			}
			if n.Ipv4Address != "" {
				entry["ipv4_address"] = n.Ipv4Address
			}
			if n.Ipv6Address != "" {
				entry["ipv6_address"] = n.Ipv6Address
			}
			networks[name] = entry
		}
		m["networks"] = networks
	}

	if svc.Logging != nil {
		opts := map[string]any{}
		for k, v := range svc.Logging.Options {
			opts[k] = v
		}
		m["logging"] = map[string]any{
			"driver":  svc.Logging.Driver,
			"options": opts,
		}
	}

	deploy := map[string]any{}
	if svc.Deploy.Mode != "" {
		deploy["mode"] = svc.Deploy.Mode
	}
	if svc.Deploy.UpdateConfig != nil {
		deploy["update_config"] = svc.Deploy.UpdateConfig
	}
	if svc.Deploy.RestartPolicy != nil {
		deploy["restart_policy"] = svc.Deploy.RestartPolicy
	}
	if len(svc.Deploy.Labels) > 0 {
		deploy["labels"] = svc.Deploy.Labels
	}
	if len(deploy) > 0 {
		m["deploy"] = deploy
	}

	if len(svc.ConfigMounts) > 0 {
		var mounts []any
		for _, cm := range svc.ConfigMounts {
			mounts = append(mounts, map[string]any{"source": cm.Source, "target": cm.Target})
		}
		m["configs"] = mounts
	}

	return m
}

// quoted marks a string that must always be serialized with explicit double
// quotes, mirroring processor.py's `quoted(str)` class and its custom
// SafeDumper representer ("always quote env variables... to not confuse
// them with other value types").
type quoted string

// MarshalYAML implements yaml.Marshaler, forcing double-quote style.
func (q quoted) MarshalYAML() (any, error) {
	return yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!str",
		Value: string(q),
		Style: yaml.DoubleQuotedStyle,
	}, nil
}

// marshalOrdered serializes m deterministically, UTF-8 throughout: top-level
// keys in the order orderedTopLevel fixes, env values double-quoted by the
// quoted marshaler above. Everything below the top level goes through
// yaml.v3's default encoding of Go maps: nested keys are emitted in sorted
// order, not insertion order, and nil values are written as `null`, not as an
// empty scalar.
func marshalOrdered(m map[string]any) (string, error) {
	root := orderedTopLevel(m)

	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return "", err
	}
	_ = enc.Close()
	return sb.String(), nil
}

// orderedTopLevel builds a yaml.Node document with top-level keys in the
// order version?, x-env?, services, then the remaining keys sorted by name
// (spec.md §4.3 point 5); the user document's own order of those remaining
// keys is not kept.
func orderedTopLevel(m map[string]any) *yaml.Node {
	doc := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	addKey := func(key string) {
		if v, ok := m[key]; ok {
			appendPair(doc, key, v)
			delete(m, key)
		}
	}
	addKey("version")
	addKey("x-env")
	addKey("services")

	rest := make([]string, 0, len(m))
	for k := range m {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		appendPair(doc, k, m[k])
	}

	return doc
}

func appendPair(doc *yaml.Node, key string, value any) {
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	var valNode yaml.Node
	_ = valNode.Encode(value)
	doc.Content = append(doc.Content, keyNode, &valNode)
}
