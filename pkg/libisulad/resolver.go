package libisulad

import "strings"

// defaultRuntimes are the hard-coded fallbacks consulted when the
// configuration collaborator has no override for a name.
var defaultRuntimes = map[string]RuntimeEntry{
	"runc":         {Path: "runc"},
	"kata-runtime": {Path: "kata-runtime"},
	"runsc":        {Path: "runsc"},
}

// Resolver maps a runtime name to the binary and static argument prefix
// the invoker should use, honoring configuration with hard-coded
// fallbacks. It is pure with respect to its RuntimeConfigProvider: two
// concurrent Resolve calls against a stable config yield identical answers.
type Resolver struct {
	config RuntimeConfigProvider
}

// NewResolver builds a Resolver over the given configuration collaborator.
// A nil config is legal and means "defaults only".
func NewResolver(config RuntimeConfigProvider) *Resolver {
	return &Resolver{config: config}
}

// Resolve returns the descriptor for name, preferring a configured override
// and falling back to the hard-coded table. It fails with ErrConfigMissing
// if neither source has an entry.
func (r *Resolver) Resolve(name string) (RuntimeDescriptor, error) {
	if r.config != nil {
		if entry, ok := r.config.Lookup(name); ok {
			return RuntimeDescriptor{Name: name, Path: entry.Path, Args: entry.Args}, nil
		}
	}
	if entry, ok := defaultRuntimes[name]; ok {
		return RuntimeDescriptor{Name: name, Path: entry.Path, Args: entry.Args}, nil
	}
	return RuntimeDescriptor{}, ErrConfigMissing
}

// IsIsulaRuntime reports whether name should use this shim-based adapter
// path rather than the daemon's alternative in-process runtime: any name
// other than the case-insensitive literal "lcr" does.
func IsIsulaRuntime(name string) bool {
	return !strings.EqualFold(name, "lcr")
}
