package compiler

import (
	"strings"
	"testing"

	"github.com/zaneops/compose-core/internal/apperr"
	"github.com/zaneops/compose-core/internal/domain"
)

func baseSpec() *domain.ComposeSpec {
	value := "postgres:16"
	return &domain.ComposeSpec{
		XEnv: map[string]*domain.EnvValue{
			"DB_NAME": {Value: "app"},
		},
		Services: map[string]*domain.ServiceSpec{
			"web": {
				Name:      "web",
				Image:     "nginx:latest",
				DependsOn: []string{"db"},
				Environment: map[string]*string{
					"DB_NAME": nil,
				},
				Deploy: domain.DeploySpec{},
			},
			"db": {
				Name:        "db",
				Image:       "postgres:16",
				Environment: map[string]*string{"POSTGRES_DB": &value},
			},
		},
		Volumes: map[string]*domain.VolumeSpec{
			"data": {},
		},
	}
}

func identity() Identity {
	return Identity{
		StackID:            "stack-1",
		ProjectID:          "proj-1",
		EnvironmentID:      "env-1",
		HashPrefix:         "abc123",
		NetworkAliasPrefix: "env-prod",
		EnvNetworkName:     "env-prod-network",
		ZaneInternalDomain: "zane.internal",
		FluentdHost:        "fluentd:24224",
	}
}

const userContent = `
services:
  web:
    image: nginx:latest
    depends_on:
      - db
  db:
    image: postgres:16
volumes:
  data: {}
`

func TestCompiler_InjectsNetworks(t *testing.T) {
	spec := baseSpec()
	c := New(identity())

	artifacts, err := c.Compile(spec, userContent)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if _, ok := artifacts.ComputedSpec.Networks["zane"]; !ok {
		t.Errorf("expected zane network to be injected")
	}
	if _, ok := artifacts.ComputedSpec.Networks["env-prod-network"]; !ok {
		t.Errorf("expected environment network to be injected")
	}
}

func TestCompiler_RenamesServicesAndDependsOn(t *testing.T) {
	spec := baseSpec()
	c := New(identity())

	artifacts, err := c.Compile(spec, userContent)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	webSvc, ok := artifacts.ComputedSpec.Services["abc123_web"]
	if !ok {
		t.Fatalf("expected renamed service abc123_web, got %v", keysOf(artifacts.ComputedSpec.Services))
	}
	if len(webSvc.DependsOn) != 1 || webSvc.DependsOn[0] != "abc123_db" {
		t.Errorf("expected depends_on rewritten to abc123_db, got %v", webSvc.DependsOn)
	}
}

func TestCompiler_InjectsLoggingAndPolicies(t *testing.T) {
	spec := baseSpec()
	c := New(identity())

	artifacts, err := c.Compile(spec, userContent)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	svc := artifacts.ComputedSpec.Services["abc123_web"]
	if svc.Logging == nil || svc.Logging.Driver != "fluentd" {
		t.Errorf("expected fluentd logging injected, got %+v", svc.Logging)
	}
	if svc.Deploy.UpdateConfig == nil {
		t.Errorf("expected default update_config injected")
	}
	if svc.Deploy.RestartPolicy == nil {
		t.Errorf("expected default restart_policy injected")
	}
	if svc.Deploy.Labels["zane-managed"] != "true" {
		t.Errorf("expected zane-managed label, got %v", svc.Deploy.Labels)
	}
}

func TestCompiler_MergesEnvironment(t *testing.T) {
	spec := baseSpec()
	c := New(identity())

	artifacts, err := c.Compile(spec, userContent)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	svc := artifacts.ComputedSpec.Services["abc123_web"]
	v, ok := svc.Environment["DB_NAME"]
	if !ok || v == nil || *v != "app" {
		t.Errorf("expected DB_NAME merged in from x-env, got %v", svc.Environment)
	}
}

func TestCompiler_ExtractsServiceURLs(t *testing.T) {
	spec := baseSpec()
	spec.Services["web"].Deploy.Labels = map[string]string{
		"zane.http.routes.0.domain": "app.example.com",
		"zane.http.routes.0.port":   "8080",
	}
	c := New(identity())

	artifacts, err := c.Compile(spec, userContent)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	routes, ok := artifacts.URLs["web"]
	if !ok || len(routes) != 1 {
		t.Fatalf("expected one route for web, got %+v", artifacts.URLs)
	}
	if routes[0].Domain != "app.example.com" || routes[0].Port != 8080 {
		t.Errorf("unexpected route %+v", routes[0])
	}
	if routes[0].BasePath != "/" {
		t.Errorf("expected default base_path '/', got %q", routes[0].BasePath)
	}
}

func TestCompiler_RejectsRouteMissingPort(t *testing.T) {
	spec := baseSpec()
	spec.Services["web"].Deploy.Labels = map[string]string{
		"zane.http.routes.0.domain": "app.example.com",
	}
	c := New(identity())

	_, err := c.Compile(spec, userContent)
	if err == nil {
		t.Fatalf("expected error for route missing port")
	}
	if apperr.KindOf(err) != apperr.InvalidCompose {
		t.Errorf("expected InvalidCompose, got %v", apperr.KindOf(err))
	}
}

func TestCompiler_RejectsURLCollisions(t *testing.T) {
	spec := baseSpec()
	spec.Services["web"].Deploy.Labels = map[string]string{
		"zane.http.routes.0.domain": "app.example.com",
		"zane.http.routes.0.port":   "8080",
	}
	spec.Services["db"].Deploy.Labels = map[string]string{
		"zane.http.routes.0.domain": "app.example.com",
		"zane.http.routes.0.port":   "5432",
	}
	c := New(identity())

	_, err := c.Compile(spec, userContent)
	if err == nil {
		t.Fatalf("expected collision error")
	}
	if apperr.KindOf(err) != apperr.UrlConflict {
		t.Errorf("expected UrlConflict, got %v", apperr.KindOf(err))
	}
}

func TestCompiler_GeneratesDeployableYAML(t *testing.T) {
	spec := baseSpec()
	c := New(identity())

	artifacts, err := c.Compile(spec, userContent)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if artifacts.ComputedContent == "" {
		t.Fatalf("expected non-empty computed content")
	}
	if !strings.Contains(artifacts.ComputedContent, "abc123_web") {
		t.Errorf("expected computed content to reference renamed service, got:\n%s", artifacts.ComputedContent)
	}
	if strings.Contains(artifacts.ComputedContent, "${") {
		t.Errorf("expected no remaining unexpanded ${} references, got:\n%s", artifacts.ComputedContent)
	}
}

func TestCompiler_LabelsNonExternalVolumes(t *testing.T) {
	spec := baseSpec()
	c := New(identity())

	artifacts, err := c.Compile(spec, userContent)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	vol := artifacts.ComputedSpec.Volumes["data"]
	if vol.Labels["zane-managed"] != "true" {
		t.Errorf("expected data volume to be labeled, got %+v", vol.Labels)
	}
}

func keysOf(m map[string]*domain.ServiceSpec) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
