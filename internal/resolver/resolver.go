// Package resolver implements the Placeholder & Variable Resolver
// (SPEC_FULL.md §4.2): it materializes generator placeholders and expands
// ${VAR} references over a merged environment, grounded on
// original_source/backend/compose/processor.py's
// _extract_template_expression / _generate_template_value pair.
package resolver

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/zaneops/compose-core/internal/apperr"
	"github.com/zaneops/compose-core/internal/domain"
)

// bareExpr matches a zero-arg generator expression: "{{ fn }}".
var bareExpr = regexp.MustCompile(`^\{\{[ \t]*(\w+)[ \t]*\}\}$`)

// argExpr matches a one-arg generator expression: "{{ fn | arg }}". spec.md
// §4.2 adds this pipe-argument form over processor.py's strictly zero-arg
// TEMPLATE_PATTERN.
var argExpr = regexp.MustCompile(`^\{\{[ \t]*(\w+)[ \t]*\|[ \t]*([^}]+?)[ \t]*\}\}$`)

// SupportedFunctions lists every generator spec.md §4.2 names.
var SupportedFunctions = map[string]bool{
	"generate_username":       true,
	"generate_random_slug":    true,
	"generate_secure_password": true,
	"generate_password":       true,
	"generate_random_chars":   true,
	"generate_domain":         true,
	"generate_email":          true,
	"generate_uuid":           true,
	"generate_base64":         true,
}

// Resolver resolves x-env placeholders, expands ${VAR} references, and
// propagates the merged environment into service environments, config
// content, and URL-route labels.
type Resolver struct {
	rootDomain     string
	projectSlug    string
	stackSlug      string
}

// New builds a Resolver for one stack's generate_domain composition
// (<project-slug>-<stack-slug>-<10 random lower>.<ROOT_DOMAIN>).
func New(rootDomain, projectSlug, stackSlug string) *Resolver {
	return &Resolver{rootDomain: rootDomain, projectSlug: projectSlug, stackSlug: stackSlug}
}

// expression is a parsed generator placeholder.
type expression struct {
	fn  string
	arg string
}

// extract returns the parsed generator expression in value, or nil if value
// is not (exactly) a supported generator placeholder. Mirrors
// processor.py::_extract_template_expression, extended with the arg form.
func extract(value string) *expression {
	if m := bareExpr.FindStringSubmatch(value); m != nil {
		if SupportedFunctions[m[1]] {
			return &expression{fn: m[1]}
		}
		return nil
	}
	if m := argExpr.FindStringSubmatch(value); m != nil {
		if SupportedFunctions[m[1]] {
			return &expression{fn: m[1], arg: strings.Trim(m[2], `'"`)}
		}
		return nil
	}
	return nil
}

// Resolve implements spec.md §4.2's resolution order:
//  1. build an override map from existing persisted overrides,
//  2. walk x-env keys in sorted order (x-env is held in a map, so the
//     declaration order is not kept), replacing from overrides or generating,
//  3. expand every x-env value against the merged environment (one
//     fixed-point pass; undefined references expand to empty).
func (r *Resolver) Resolve(spec *domain.ComposeSpec, existing []domain.ComposeStackEnvOverride) ([]domain.ComposeStackEnvOverride, error) {
	overrides := map[string]string{}
	for _, o := range existing {
		if o.Service == nil {
			overrides[o.Key] = o.Value
		}
	}

	generators := map[string]string{}
	order := orderedKeys(spec.XEnv)
	for _, key := range order {
		env := spec.XEnv[key]
		if v, ok := overrides[key]; ok {
			env.Value = v
			continue
		}
		generator := ""
		if expr := extract(env.Value); expr != nil {
			generated, err := r.generate(expr)
			if err != nil {
				return nil, err
			}
			env.Value = generated
			env.IsNewlyGenerated = true
			generator = expr.fn
		}
		overrides[key] = env.Value
		generators[key] = generator
	}

	for _, key := range order {
		spec.XEnv[key].Value = Expand(spec.XEnv[key].Value, overrides)
		overrides[key] = spec.XEnv[key].Value
	}

	var newOverrides []domain.ComposeStackEnvOverride
	for _, key := range order {
		if spec.XEnv[key].IsNewlyGenerated {
			newOverrides = append(newOverrides, domain.ComposeStackEnvOverride{
				Key:              key,
				Value:            spec.XEnv[key].Value,
				IsNewlyGenerated: true,
				SourceGenerator:  generators[key],
			})
		}
	}
	return newOverrides, nil
}

// MergedEnv flattens spec.XEnv into a plain map, for use expanding service
// environments, config content, and URL-route labels (spec.md §4.2 point 4).
func MergedEnv(spec *domain.ComposeSpec) map[string]string {
	out := make(map[string]string, len(spec.XEnv))
	for k, v := range spec.XEnv {
		out[k] = v.Value
	}
	return out
}

func orderedKeys(m map[string]*domain.EnvValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// x-env is a YAML mapping; Go map iteration order is randomized, but
	// resolution only depends on declared key identity, not declaration
	// order, once overrides are pre-seeded — sort for determinism (spec.md
	// §8 invariant 9 requires byte-equal repeat resolutions).
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func (r *Resolver) generate(e *expression) (string, error) {
	switch e.fn {
	case "generate_username":
		return generateUsername(), nil
	case "generate_random_slug":
		return generateSlug(2), nil
	case "generate_secure_password":
		// secrets.token_hex(32) in processor.py yields 64 hex characters
		// (32 random bytes); randomHex takes a character count, not a byte
		// count, so this must be 64, not 32 (spec.md §4.2).
		return randomHex(64), nil
	case "generate_password":
		n, err := argInt(e.arg, 32, 1, 8192)
		if err != nil {
			return "", err
		}
		return randomAlnum(n), nil
	case "generate_random_chars":
		n, err := argInt(e.arg, 32, 1, 8192)
		if err != nil {
			return "", err
		}
		return randomAlnum(n), nil
	case "generate_uuid":
		return uuid.NewString(), nil
	case "generate_base64":
		return base64Encode(e.arg), nil
	case "generate_domain":
		return r.generateDomain(), nil
	case "generate_email":
		return generateEmail(), nil
	default:
		return "", apperr.New(apperr.InvalidCompose, "unsupported template function "+e.fn)
	}
}

// GenerateDomain exposes generateDomain for the Environment Cloner, which
// must mint a fresh generate_domain value for a cloned stack without
// running a full Resolve pass (spec.md §4.7 point 3).
func (r *Resolver) GenerateDomain() string { return r.generateDomain() }

// generateDomain composes <project-slug>-<stack-slug>-<10 random
// lower>.<ROOT_DOMAIN>, stripping a leading wildcard from ROOT_DOMAIN (Open
// Question #2, SPEC_FULL.md §9: ROOT_DOMAIN=*.example.com must not produce a
// literal "*." in the generated hostname).
func (r *Resolver) generateDomain() string {
	root := strings.TrimPrefix(r.rootDomain, "*.")
	return fmt.Sprintf("%s-%s-%s.%s", r.projectSlug, r.stackSlug, randomLower(10), root)
}

func argInt(arg string, def, min, max int) (int, error) {
	if arg == "" {
		return def, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, apperr.New(apperr.InvalidCompose, "invalid generator argument "+arg)
	}
	if n < min || n > max {
		return 0, apperr.New(apperr.InvalidCompose, fmt.Sprintf("generator argument %d out of range [%d,%d]", n, min, max))
	}
	return n, nil
}

const alnumAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const lowerAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomAlnum(n int) string { return randomFrom(alnumAlphabet, n) }
func randomLower(n int) string { return randomFrom(lowerAlphabet, n) }

func randomFrom(alphabet string, n int) string {
	out := make([]byte, n)
	for i := range out {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		out[i] = alphabet[idx.Int64()]
	}
	return string(out)
}

func randomHex(n int) string {
	buf := make([]byte, n/2)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func base64Encode(text string) string {
	return encodeBase64([]byte(text))
}

var colors = []string{"red", "blue", "green", "amber", "violet", "teal", "coral", "slate"}
var words = []string{"otter", "falcon", "willow", "cobalt", "ember", "harbor", "meadow", "quartz"}

func generateUsername() string {
	idxC, _ := rand.Int(rand.Reader, big.NewInt(int64(len(colors))))
	idxW, _ := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	n, _ := rand.Int(rand.Reader, big.NewInt(90))
	return fmt.Sprintf("%s%s%02d", colors[idxC.Int64()], words[idxW.Int64()], n.Int64()+10)
}

func generateSlug(parts int) string {
	chosen := make([]string, parts)
	for i := 0; i < parts; i++ {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
		chosen[i] = words[idx.Int64()]
	}
	return strings.Join(chosen, "-")
}

func generateEmail() string {
	return fmt.Sprintf("%s@%s.example", randomLower(8), randomLower(6))
}
