// Package secrets resolves the secret references used in Parley
// configuration. Provider API keys and the export key are written as
// env(VAR_NAME) or vault(path#key) and resolved once at startup; the
// resolved values are registered with a redaction filter so they never
// reach log output.
package secrets

import (
	"context"
	"fmt"
	"strings"
)

// Resolver resolves a secret reference such as "env(NVIDIA_API_KEY)"
// to its value.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// RefResolver routes each reference to a backend by its prefix.
// env(VAR) references always read the process environment, even when
// Vault is configured; vault(path#key) references require a Vault
// address.
type RefResolver struct {
	env   *EnvResolver
	vault *VaultResolver
}

// NewResolver builds the resolver for the configured backends. An
// empty vaultAddress leaves vault() references unresolvable.
func NewResolver(vaultAddress, vaultToken string) *RefResolver {
	r := &RefResolver{env: NewEnvResolver()}
	if vaultAddress != "" {
		r.vault = NewVaultResolver(vaultAddress, vaultToken)
	}
	return r
}

// Resolve dispatches ref to the backend named by its prefix.
func (r *RefResolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "env("):
		return r.env.Resolve(ctx, ref)
	case strings.HasPrefix(ref, "vault("):
		if r.vault == nil {
			return "", fmt.Errorf("secret reference %q requires secrets.vault_address in config", ref)
		}
		return r.vault.Resolve(ctx, ref)
	default:
		return "", fmt.Errorf("unsupported secret reference format: %q (expected env(VAR_NAME) or vault(path#key))", ref)
	}
}

// refArg extracts the inner argument of a reference written kind(arg).
func refArg(ref, kind string) (string, bool) {
	rest, ok := strings.CutPrefix(ref, kind+"(")
	if !ok {
		return "", false
	}
	return strings.CutSuffix(rest, ")")
}
