package fdsn

import (
	"strings"
)

// OpenCredentialKey is the sentinel map key for anonymous access.
const OpenCredentialKey = "open"

// Credential is one resolved user:password pair. Empty means anonymous.
type Credential struct {
	User     string
	Password string
}

// IsZero reports whether the credential is the anonymous fallback.
func (c Credential) IsZero() bool { return c.User == "" && c.Password == "" }

// Credentials maps "NN" network codes, "NN.SSSSS" station prefixes, or the
// "open" sentinel to access credentials. Materialized once per run and
// read-only afterwards.
type Credentials map[string]Credential

// ParseCredentials converts the raw "key -> user:password" configuration
// map into a Credentials map. A value without a colon is treated as a bare
// username.
func ParseCredentials(raw map[string]string) Credentials {
	out := make(Credentials, len(raw))
	for key, value := range raw {
		user, pass, _ := strings.Cut(value, ":")
		out[key] = Credential{User: user, Password: pass}
	}
	return out
}

// Resolve returns the credential for a (network, station) pair: the
// station-prefix entry wins over the network entry, which wins over the
// "open" fallback.
func (c Credentials) Resolve(network, station string) Credential {
	if cred, ok := c[network+"."+station]; ok {
		return cred
	}
	if cred, ok := c[network]; ok {
		return cred
	}
	return c[OpenCredentialKey]
}
