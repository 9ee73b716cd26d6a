// Package keys resolves agent credentials and manages the local keystore.
package keys

import (
	"errors"
	"os"

	"colab/internal/domain"
)

const (
	// EnvKey is the generic credential variable.
	EnvKey = "CLAUDE_COLAB_KEY"
	// EnvKeyPrefix prefixes the per-identity variable, e.g. CLAUDE_COLAB_KEY_BLACK.
	EnvKeyPrefix = EnvKey + "_"
)

var ErrNoCredential = errors.New("no credential found")

// Source names where a resolved credential came from.
type Source string

const (
	SourceExplicit    Source = "explicit"
	SourceIdentityEnv Source = "identity_env"
	SourceGenericEnv  Source = "generic_env"
	SourceKeystore    Source = "keystore"
)

// Resolver picks the credential for an identity. It never touches the network.
type Resolver struct {
	Keystore  *Keystore
	LookupEnv func(string) string
}

// EnvName returns the identity-scoped variable name for name.
func EnvName(name string) string {
	return EnvKeyPrefix + domain.NormalizeName(name)
}

// Resolve returns the first hit from: explicit, identity env var, generic env
// var, keystore. The identity env var and keystore are only consulted when a
// name is given.
func (r Resolver) Resolve(explicit, name string) (string, Source, error) {
	if explicit != "" {
		return explicit, SourceExplicit, nil
	}
	getenv := r.LookupEnv
	if getenv == nil {
		getenv = os.Getenv
	}
	if name != "" {
		if v := getenv(EnvName(name)); v != "" {
			return v, SourceIdentityEnv, nil
		}
	}
	if v := getenv(EnvKey); v != "" {
		return v, SourceGenericEnv, nil
	}
	if name != "" && r.Keystore != nil {
		if v, ok := r.Keystore.Vend(name); ok {
			return v, SourceKeystore, nil
		}
	}
	return "", "", ErrNoCredential
}

// Redact keeps only the recognizable prefix of a credential.
func Redact(key string) string {
	const keep = 6
	if len(key) <= keep {
		return "***"
	}
	return key[:keep] + "..."
}
