package domain

import "strings"

// IsWildcardDomain reports whether d is a wildcard hostname ("*.example.com").
func IsWildcardDomain(d string) bool {
	return strings.HasPrefix(d, "*.")
}

// DomainShadows reports whether the wildcard hostname wildcard shadows
// candidate: candidate is a strict subdomain of the wildcard's suffix
// (spec.md §3, §4.1: "a wildcard `*.d` shadows `x.d`").
func DomainShadows(wildcard, candidate string) bool {
	if !IsWildcardDomain(wildcard) || wildcard == candidate {
		return false
	}
	suffix := strings.TrimPrefix(wildcard, "*") // ".d"
	return strings.HasSuffix(candidate, suffix) && candidate != strings.TrimPrefix(suffix, ".")
}

// DomainsCollide reports whether a and b collide under spec.md's route
// uniqueness rule at an equal base_path: exact equality, or either shadowing
// the other as a wildcard.
func DomainsCollide(a, b string) bool {
	if a == b {
		return true
	}
	return DomainShadows(a, b) || DomainShadows(b, a)
}

// RoutesCollide reports whether two routes collide: same base_path and
// colliding domains.
func RoutesCollide(a, b UrlRoute) bool {
	return a.BasePath == b.BasePath && DomainsCollide(a.Domain, b.Domain)
}
