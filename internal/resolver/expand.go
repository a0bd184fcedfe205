package resolver

import (
	"encoding/base64"
	"regexp"
)

// envRef matches ${NAME} or $NAME references, mirroring the semantics the
// original gets from the Python `expandvars` package (processor.py uses
// `expand(value, environ=...)`). Undefined references expand to empty per
// spec.md §4.2 point 3.
var envRef = regexp.MustCompile(`\$\{(\w+)\}|\$(\w+)`)

// Expand performs one fixed-point pass of ${VAR}/$VAR substitution against
// env. It is intentionally not recursive beyond one pass (spec.md §4.2:
// "Expansion is not recursive beyond one fixed-point iteration").
func Expand(value string, env map[string]string) string {
	return envRef.ReplaceAllStringFunc(value, func(match string) string {
		sub := envRef.FindStringSubmatch(match)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		if v, ok := env[name]; ok {
			return v
		}
		return ""
	})
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
