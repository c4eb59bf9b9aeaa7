package bus

import (
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/refluxhq/reflux/internal/core"
)

// Registry holds the handlers a process serves. Both transports resolve
// against it: the local bus directly, the redis worker for the queues
// it consumes.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]map[string]*HandlerDef // name -> version -> def
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]map[string]*HandlerDef{}}
}

// Register adds a handler definition. The version must parse as semver;
// registering the same (name, version) twice is an error.
func (r *Registry) Register(def *HandlerDef) error {
	if def == nil || def.Handler == nil {
		return core.Validationf("handler definition is incomplete")
	}
	if def.Name == "" {
		return core.Validationf("handler has no name")
	}
	if def.Version == "" {
		def.Version = DefaultVersion
	}
	if _, err := semver.NewVersion(def.Version); err != nil {
		return core.Validationf("handler %s has invalid version %q: %v", def.Name, def.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.handlers[def.Name]
	if versions == nil {
		versions = map[string]*HandlerDef{}
		r.handlers[def.Name] = versions
	}
	if _, dup := versions[def.Version]; dup {
		return core.Validationf("handler %s@%s already registered", def.Name, def.Version)
	}
	versions[def.Version] = def
	return nil
}

// Resolve finds the handler for (name, version). An empty version means
// the default; "latest" resolves to the newest registered semver of the
// name.
func (r *Registry) Resolve(name, version string) (*HandlerDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.handlers[name]
	if len(versions) == 0 {
		return nil, core.NotFoundf("no handler registered for %s", name)
	}

	switch version {
	case "":
		version = DefaultVersion
	case VersionLatest:
		version = newestVersion(versions)
	}

	def, ok := versions[version]
	if !ok {
		return nil, core.NotFoundf("no handler registered for %s", Address(name, version))
	}
	return def, nil
}

// Addresses lists every registered handler, sorted by address.
func (r *Registry) Addresses() []AddressInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []AddressInfo
	for name, versions := range r.handlers {
		for version, def := range versions {
			out = append(out, AddressInfo{
				Address: Address(name, version),
				Name:    name,
				Version: version,
				Params:  def.Params,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// newestVersion picks the highest semver among registered versions.
// Registration already validated each one.
func newestVersion(versions map[string]*HandlerDef) string {
	var newest *semver.Version
	var pick string
	for v := range versions {
		parsed, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		if newest == nil || parsed.GreaterThan(newest) {
			newest = parsed
			pick = v
		}
	}
	return pick
}
