package resolver

import (
	"strings"
	"testing"

	"github.com/zaneops/compose-core/internal/domain"
)

func TestResolver_Resolve(t *testing.T) {
	spec := &domain.ComposeSpec{
		XEnv: map[string]*domain.EnvValue{
			"APP_DOMAIN": {Value: "{{ generate_domain }}"},
			"API_URL":    {Value: "http://${APP_DOMAIN}/api"},
		},
	}

	r := New("example.com", "proj", "stack")
	overrides, err := r.Resolve(spec, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(overrides) != 1 || overrides[0].Key != "APP_DOMAIN" {
		t.Fatalf("expected exactly one new override for APP_DOMAIN, got %+v", overrides)
	}

	if strings.Contains(spec.XEnv["API_URL"].Value, "${") {
		t.Errorf("expected API_URL fully expanded, got %q", spec.XEnv["API_URL"].Value)
	}
	if !strings.Contains(spec.XEnv["API_URL"].Value, spec.XEnv["APP_DOMAIN"].Value) {
		t.Errorf("expected API_URL to contain generated domain, got %q", spec.XEnv["API_URL"].Value)
	}
}

func TestResolver_RootDomainWildcardStripped(t *testing.T) {
	r := New("*.example.com", "proj", "stack")
	domainValue := r.generateDomain()
	if strings.Contains(domainValue, "*") {
		t.Errorf("expected wildcard stripped from generated domain, got %q", domainValue)
	}
	if !strings.HasSuffix(domainValue, ".example.com") {
		t.Errorf("expected domain to end with .example.com, got %q", domainValue)
	}
}

func TestResolver_OverrideWins(t *testing.T) {
	spec := &domain.ComposeSpec{
		XEnv: map[string]*domain.EnvValue{
			"SECRET": {Value: "{{ generate_secure_password }}"},
		},
	}
	existing := []domain.ComposeStackEnvOverride{{Key: "SECRET", Value: "already-set"}}

	r := New("example.com", "proj", "stack")
	overrides, err := r.Resolve(spec, existing)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(overrides) != 0 {
		t.Errorf("expected no newly generated overrides when an override exists, got %+v", overrides)
	}
	if spec.XEnv["SECRET"].Value != "already-set" {
		t.Errorf("expected override value to win, got %q", spec.XEnv["SECRET"].Value)
	}
}

func TestResolver_PasswordWithLength(t *testing.T) {
	spec := &domain.ComposeSpec{
		XEnv: map[string]*domain.EnvValue{
			"TOKEN": {Value: "{{ generate_password | 16 }}"},
		},
	}
	r := New("example.com", "proj", "stack")
	if _, err := r.Resolve(spec, nil); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(spec.XEnv["TOKEN"].Value) != 16 {
		t.Errorf("expected 16-char token, got %d chars", len(spec.XEnv["TOKEN"].Value))
	}
}

func TestExpand_UndefinedExpandsEmpty(t *testing.T) {
	out := Expand("prefix-${MISSING}-suffix", map[string]string{})
	if out != "prefix--suffix" {
		t.Errorf("expected undefined ref to expand empty, got %q", out)
	}
}
