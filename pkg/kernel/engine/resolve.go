package engine

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

// VarResolver supplies a value for a declared param the host did not set.
// Returning ok=false means the resolver has no opinion.
type VarResolver interface {
	Resolve(ctx context.Context, name string) (value string, ok bool, err error)
}

// EnvResolver reads params from environment variables named Prefix+NAME.
type EnvResolver struct {
	Prefix string
}

// DefaultEnvPrefix is the prefix used by the CLI.
const DefaultEnvPrefix = "INTENTRUN_VAR_"

func (r EnvResolver) Resolve(_ context.Context, name string) (string, bool, error) {
	v, ok := os.LookupEnv(r.Prefix + strings.ToUpper(name))
	return v, ok, nil
}

// ResolvedVars is the output of ResolveVars.
type ResolvedVars struct {
	Vars    map[string]string
	Sources map[string]string // param name -> "host" or "resolver"
}

// ResolveVars builds the variable map for a run.
//
// Resolution order:
//  1. hostVars (CLI flags, MCP arguments); always wins
//  2. resolvers, in order, for declared params still unset
//
// Undeclared host vars are kept; the run's templating check ignores them.
// Params left unresolved are not an error here: the runner reports them
// as a templating error before any step executes.
func ResolveVars(ctx context.Context, spec *schema.IntentSpec, hostVars map[string]string, resolvers []VarResolver) (*ResolvedVars, error) {
	res := &ResolvedVars{
		Vars:    make(map[string]string, len(hostVars)+len(spec.Params)),
		Sources: make(map[string]string),
	}
	for k, v := range hostVars {
		res.Vars[k] = v
		res.Sources[k] = "host"
	}

	for _, name := range spec.Params {
		if _, ok := res.Vars[name]; ok {
			continue
		}
		for _, r := range resolvers {
			v, ok, err := r.Resolve(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("resolve param %q: %w", name, err)
			}
			if ok {
				res.Vars[name] = v
				res.Sources[name] = "resolver"
				break
			}
		}
	}
	return res, nil
}
