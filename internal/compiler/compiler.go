// Package compiler implements the Spec Compiler (SPEC_FULL.md §4.3): it
// injects platform-managed fields into a resolved domain.ComposeSpec and
// produces a deployable YAML document plus derived artifacts. Grounded
// step-by-step on original_source/backend/compose/processor.py's
// process_compose_spec / generate_deployable_yaml /
// _reconcile_computed_spec_with_user_content.
package compiler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zaneops/compose-core/internal/apperr"
	"github.com/zaneops/compose-core/internal/domain"
	"github.com/zaneops/compose-core/internal/resolver"
)

// Identity carries the stack identity values the compiler needs but that
// live outside the compose document itself.
type Identity struct {
	StackID            string
	ProjectID          string
	EnvironmentID      string
	HashPrefix         string
	NetworkAliasPrefix string
	EnvNetworkName     string
	ZaneInternalDomain string
	FluentdHost        string
}

// Compiler compiles a resolved ComposeSpec into deployable artifacts.
type Compiler struct {
	identity Identity
}

// New builds a Compiler bound to one stack's identity.
func New(identity Identity) *Compiler {
	return &Compiler{identity: identity}
}

// Compile runs the full pipeline described in spec.md §4.3 steps 1-7 and
// returns the artifact bundle from step "Outputs".
func (c *Compiler) Compile(spec *domain.ComposeSpec, userContent string) (*domain.CompiledArtifacts, error) {
	c.injectNetworks(spec)

	renamed, err := c.renameServices(spec)
	if err != nil {
		return nil, err
	}
	spec.Services = renamed

	mergedEnv := resolver.MergedEnv(spec)

	for name, svc := range spec.Services {
		c.injectPerService(name, svc, mergedEnv)
	}

	c.labelVolumesAndConfigs(spec)

	configs := c.projectConfigContents(spec, mergedEnv)

	urls, err := c.extractServiceURLs(spec, mergedEnv)
	if err != nil {
		return nil, err
	}

	computedContent, err := generateDeployableYAML(spec, userContent, c.identity.HashPrefix, mergedEnv)
	if err != nil {
		return nil, err
	}

	return &domain.CompiledArtifacts{
		ComputedSpec:    spec,
		ComputedContent: computedContent,
		URLs:            urls,
		Configs:         configs,
	}, nil
}

// injectNetworks adds the global `zane` network and the environment-scoped
// network as external networks (spec.md §4.3 point 1).
func (c *Compiler) injectNetworks(spec *domain.ComposeSpec) {
	if spec.Networks == nil {
		spec.Networks = map[string]*domain.NetworkSpec{}
	}
	if _, ok := spec.Networks[c.identity.EnvNetworkName]; !ok {
		spec.Networks[c.identity.EnvNetworkName] = &domain.NetworkSpec{External: true}
	}
	if _, ok := spec.Networks["zane"]; !ok {
		spec.Networks["zane"] = &domain.NetworkSpec{External: true}
	}
}

// renameServices renames every service S -> <hash_prefix>_S and rewrites
// depends_on references for names that resolve to a sibling service only
// (spec.md §4.3 point 2).
func (c *Compiler) renameServices(spec *domain.ComposeSpec) (map[string]*domain.ServiceSpec, error) {
	renamed := make(map[string]*domain.ServiceSpec, len(spec.Services))
	for original, svc := range spec.Services {
		hashed := c.identity.HashPrefix + "_" + original
		svc.Name = hashed
		renamed[hashed] = svc
	}

	for _, svc := range renamed {
		var deps []string
		for _, dep := range svc.DependsOn {
			hashed := c.identity.HashPrefix + "_" + dep
			if _, ok := renamed[hashed]; ok {
				dep = hashed
			}
			deps = append(deps, dep)
		}
		svc.DependsOn = deps
	}

	return renamed, nil
}

// injectPerService applies spec.md §4.3 point 3's per-service injection:
// network aliases, logging, update/restart policy defaults, tracking
// labels, and environment merge.
func (c *Compiler) injectPerService(hashedName string, svc *domain.ServiceSpec, xenv map[string]string) {
	originalName := strings.TrimPrefix(hashedName, c.identity.HashPrefix+"_")

	if svc.Networks == nil {
		svc.Networks = map[string]*domain.ServiceNetwork{}
	}
	svc.Networks["zane"] = &domain.ServiceNetwork{
		Aliases: []string{hashedName + "." + c.identity.ZaneInternalDomain},
	}
	svc.Networks[c.identity.EnvNetworkName] = &domain.ServiceNetwork{
		Aliases: []string{c.identity.NetworkAliasPrefix + "-" + originalName},
	}
	if _, ok := svc.Networks["default"]; !ok {
		svc.Networks["default"] = &domain.ServiceNetwork{}
	}
	def := svc.Networks["default"]
	if !contains(def.Aliases, originalName) {
		def.Aliases = append(def.Aliases, originalName)
	}

	tag := fmt.Sprintf(`{"zane.stack":%q,"zane.service":%q}`, c.identity.StackID, originalName)
	svc.Logging = &domain.LoggingSpec{
		Driver: "fluentd",
		Options: map[string]string{
			"fluentd-address":              c.identity.FluentdHost,
			"tag":                          tag,
			"fluentd-max-retries":          "10",
			"fluentd-sub-second-precision": "true",
			"fluentd-async":                "true",
			"mode":                         "non-blocking",
		},
	}

	if svc.Deploy.UpdateConfig == nil {
		svc.Deploy.UpdateConfig = map[string]any{
			"parallelism":    1,
			"delay":          "5s",
			"order":          "start-first",
			"failure_action": "rollback",
		}
	}

	mode := svc.Deploy.Mode
	if mode == "" {
		mode = "replicated"
	}
	if mode == "replicated" || mode == "global" {
		if svc.Deploy.RestartPolicy == nil {
			svc.Deploy.RestartPolicy = map[string]any{"condition": "any"}
		}
	}

	if svc.Deploy.Labels == nil {
		svc.Deploy.Labels = map[string]string{}
	}
	svc.Deploy.Labels["zane-managed"] = "true"
	svc.Deploy.Labels["zane-stack"] = c.identity.StackID
	svc.Deploy.Labels["zane-project"] = c.identity.ProjectID
	svc.Deploy.Labels["zane-environment"] = c.identity.EnvironmentID

	merged := map[string]*string{}
	for k, v := range xenv {
		val := v
		merged[k] = &val
	}
	for k, v := range svc.Environment {
		if _, inXEnv := merged[k]; v == nil && inXEnv {
			// A service key declared without a value takes the x-env value.
			continue
		}
		merged[k] = v
	}
	svc.Environment = merged
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// labelVolumesAndConfigs adds tracking labels to non-external volumes and
// configs and rewrites inline config content to a file reference (spec.md
// §4.3 point 4).
func (c *Compiler) labelVolumesAndConfigs(spec *domain.ComposeSpec) {
	for _, v := range spec.Volumes {
		if v.External {
			continue
		}
		if v.Labels == nil {
			v.Labels = map[string]string{}
		}
		v.Labels["zane-managed"] = "true"
		v.Labels["zane-stack"] = c.identity.StackID
		v.Labels["zane-project"] = c.identity.ProjectID
	}

	for name, cfg := range spec.Configs {
		if !cfg.External {
			if cfg.Labels == nil {
				cfg.Labels = map[string]string{}
			}
			cfg.Labels["zane-managed"] = "true"
			cfg.Labels["zane-stack"] = c.identity.StackID
			cfg.Labels["zane-project"] = c.identity.ProjectID
		}

		if cfg.Content != "" {
			cfg.File = fmt.Sprintf("./%s_%s.conf", c.identity.HashPrefix, name)
			cfg.IsDerivedFromContent = true
		}
	}
}

func (c *Compiler) projectConfigContents(spec *domain.ComposeSpec, xenv map[string]string) map[string]string {
	out := map[string]string{}
	for name, cfg := range spec.Configs {
		if cfg.IsDerivedFromContent && cfg.Content != "" {
			out[name] = resolver.Expand(cfg.Content, xenv)
		}
	}
	return out
}

var routeLabelRegex = regexp.MustCompile(`^zane\.http\.routes\.(\d+)\.domain$`)

// extractServiceURLs parses zane.http.routes.{i}.* deploy labels into
// UrlRoutes, keyed by original service name (spec.md §4.3 "Outputs").
func (c *Compiler) extractServiceURLs(spec *domain.ComposeSpec, xenv map[string]string) (map[string][]domain.UrlRoute, error) {
	out := map[string][]domain.UrlRoute{}

	for hashedName, svc := range spec.Services {
		if len(svc.Deploy.Labels) == 0 {
			continue
		}
		originalName := strings.TrimPrefix(hashedName, c.identity.HashPrefix+"_")

		var routes []domain.UrlRoute
		for label := range svc.Deploy.Labels {
			m := routeLabelRegex.FindStringSubmatch(label)
			if m == nil {
				continue
			}
			idx := m[1]

			domainVal, hasDomain := svc.Deploy.Labels["zane.http.routes."+idx+".domain"]
			if !hasDomain {
				// Missing domain: silently drop this route, keep other labels.
				continue
			}
			portRaw, hasPort := svc.Deploy.Labels["zane.http.routes."+idx+".port"]
			if !hasPort {
				return nil, apperr.New(apperr.InvalidCompose, "route "+idx+" missing port").
					WithField("services." + originalName + ".deploy.labels")
			}
			basePath := svc.Deploy.Labels["zane.http.routes."+idx+".base_path"]
			if basePath == "" {
				basePath = "/"
			}
			stripPrefix := strings.ToLower(svc.Deploy.Labels["zane.http.routes."+idx+".strip_prefix"])
			if stripPrefix == "" {
				stripPrefix = "true"
			}

			port, err := strconv.Atoi(resolver.Expand(portRaw, xenv))
			if err != nil || port < 1 {
				return nil, apperr.New(apperr.InvalidCompose, "route "+idx+" has an invalid port")
			}

			idxInt, _ := strconv.Atoi(idx)
			routes = append(routes, domain.UrlRoute{
				Domain:        resolver.Expand(domainVal, xenv),
				BasePath:      resolver.Expand(basePath, xenv),
				StripPrefix:   resolver.Expand(stripPrefix, xenv) == "true",
				Port:          port,
				ServiceName:   originalName,
				OriginalIndex: idxInt,
			})
		}

		if len(routes) > 0 {
			out[originalName] = routes
		}
	}

	if err := rejectCollisions(out); err != nil {
		return nil, err
	}

	return out, nil
}

func rejectCollisions(urls map[string][]domain.UrlRoute) error {
	type owned struct {
		svc   string
		route domain.UrlRoute
	}
	var all []owned
	for svc, routes := range urls {
		for _, r := range routes {
			all = append(all, owned{svc: svc, route: r})
		}
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[i].svc == all[j].svc {
				continue
			}
			if domain.RoutesCollide(all[i].route, all[j].route) {
				return apperr.New(apperr.UrlConflict,
					fmt.Sprintf("route %s%s collides between '%s' and '%s'", all[i].route.Domain, all[i].route.BasePath, all[i].svc, all[j].svc))
			}
		}
	}
	return nil
}
