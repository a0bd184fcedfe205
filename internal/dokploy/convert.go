package dokploy

import (
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zaneops/compose-core/internal/apperr"
)

// convertPlaceholder ports adapters.py's
// _convert_dokploy_placeholder_to_zaneops 1:1: a direct mapping lookup,
// then the password-like regex with an optional length argument (default
// 32), falling back to the original value unchanged.
func convertPlaceholder(value string) string {
	if mapped, ok := placeholderMapping[value]; ok {
		return mapped
	}
	if m := passwordLikePattern.FindStringSubmatch(value); m != nil {
		length := m[1]
		if length == "" {
			length = "32"
		}
		return "{{ generate_password | " + length + " }}"
	}
	return value
}

// decodeEnvBlock handles config.env's two observed TOML shapes: a table of
// KEY = "VALUE" pairs (DOKPLOY_POCKETBASE_TEMPLATE) or an array of
// "KEY=VALUE" strings (DOKPLOY_VALKEY_TEMPLATE). adapters.py's Python dict
// merge (`x_env.update(config.env)`) works over either shape dynamically;
// Go needs the primitive decoded against each candidate shape explicitly.
func decodeEnvBlock(meta toml.MetaData, prim toml.Primitive) map[string]string {
	out := map[string]string{}

	var asTable map[string]string
	if err := meta.PrimitiveDecode(prim, &asTable); err == nil && len(asTable) > 0 {
		for k, v := range asTable {
			out[k] = v
		}
		return out
	}

	var asList []string
	if err := meta.PrimitiveDecode(prim, &asList); err == nil {
		for _, entry := range asList {
			k, v, ok := strings.Cut(entry, "=")
			if !ok {
				continue
			}
			out[k] = v
		}
	}
	return out
}

// injectRouteLabels ports adapters.py's "handle domains" block: for each
// config.domains entry, deploy.labels["zane.http.routes.{i}.*"] is set on
// the named service, indexed per-service in declaration order (spec.md
// §4.8 point 4).
func injectRouteLabels(composeDict map[string]any, domains []dokployDomain) error {
	services, _ := composeDict["services"].(map[string]any)
	if services == nil {
		return apperr.New(apperr.InvalidCompose, "dokploy compose block has no services")
	}

	indexByService := map[string]int{}
	for _, d := range domains {
		svcRaw, ok := services[d.ServiceName]
		if !ok {
			continue
		}
		svc, ok := svcRaw.(map[string]any)
		if !ok {
			svc = map[string]any{}
			services[d.ServiceName] = svc
		}

		deploy, _ := svc["deploy"].(map[string]any)
		if deploy == nil {
			deploy = map[string]any{}
		}
		labels, _ := deploy["labels"].(map[string]any)
		if labels == nil {
			labels = map[string]any{}
		}

		idx := indexByService[d.ServiceName]
		indexByService[d.ServiceName] = idx + 1

		prefix := "zane.http.routes." + strconv.Itoa(idx) + "."
		labels[prefix+"domain"] = d.Host
		path := d.Path
		if path == "" {
			path = "/"
		}
		labels[prefix+"base_path"] = path
		labels[prefix+"port"] = d.Port

		deploy["labels"] = labels
		svc["deploy"] = deploy
	}
	return nil
}

// buildConfigs ports adapters.py's "handle configs" block: every mount
// carrying inline content becomes a top-level configs entry keyed by its
// filePath (spec.md §4.8 point 5). Mounts without content (plain named
// volume mounts such as DOKPLOY_POCKETBASE_TEMPLATE's pocketbase-data) are
// left for the service's own volumes section and produce no configs entry.
func buildConfigs(mounts []dokployMount) map[string]any {
	out := map[string]any{}
	for _, m := range mounts {
		if m.FilePath == "" || m.Content == "" {
			continue
		}
		out[m.FilePath] = map[string]any{"content": m.Content}
	}
	return out
}

// rejectRelativeBindMounts enforces SPEC_FULL.md §9's resolution of the
// "../files/..." Open Question: adapters.py's path-rewrite for these is
// dead, commented-out code, so a mount or service volume rooted there is
// rejected outright rather than guessed at.
func rejectRelativeBindMounts(composeDict map[string]any, mounts []dokployMount) error {
	for _, m := range mounts {
		if strings.HasPrefix(m.MountPath, "../files/") || strings.HasPrefix(m.FilePath, "../files/") {
			return apperr.New(apperr.InvalidCompose, errBindMount)
		}
	}

	services, _ := composeDict["services"].(map[string]any)
	for name, raw := range services {
		svc, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		vols, _ := svc["volumes"].([]any)
		for _, v := range vols {
			switch vol := v.(type) {
			case string:
				source, _, _ := strings.Cut(vol, ":")
				if strings.HasPrefix(source, "../files/") {
					return apperr.New(apperr.InvalidCompose, "service '"+name+"': "+errBindMount)
				}
			case map[string]any:
				if src, _ := vol["source"].(string); strings.HasPrefix(src, "../files/") {
					return apperr.New(apperr.InvalidCompose, "service '"+name+"': "+errBindMount)
				}
			}
		}
	}
	return nil
}

// marshalReordered emits the converted document with spec.md §4.3 point 5's
// top-level key order (version?, x-env?, services, then the rest), the same
// ordering discipline internal/compiler's marshalOrdered applies to the
// compiled deployable YAML (spec.md §4.8 point 6: "reorder top-level keys
// and emit YAML").
func marshalReordered(m map[string]any) (string, error) {
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

	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	_ = enc.Close()
	return sb.String(), nil
}

func appendPair(doc *yaml.Node, key string, value any) {
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	var valNode yaml.Node
	_ = valNode.Encode(value)
	doc.Content = append(doc.Content, keyNode, &valNode)
}
