package dapp

import (
	"os"
	"sync"

	"github.com/advdv/dhttp"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// RoutesFile is the yaml route configuration: an ordered list of pattern to
// named-target bindings. Order in the file is registration order.
type RoutesFile struct {
	Routes []RouteDef `yaml:"routes"`
}

// RouteDef binds one url pattern to a named target in the [Registry].
type RouteDef struct {
	Pattern string `yaml:"pattern"`
	Target  string `yaml:"target"`
}

// LoadRoutesFile reads and validates a yaml route file.
func LoadRoutesFile(path string) (*RoutesFile, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read routes file")
	}

	return ParseRoutesFile(buf)
}

// ParseRoutesFile parses and validates yaml route configuration.
func ParseRoutesFile(buf []byte) (*RoutesFile, error) {
	var rf RoutesFile
	if err := yaml.Unmarshal(buf, &rf); err != nil {
		return nil, errors.Wrap(err, "parse routes file")
	}

	for i, def := range rf.Routes {
		if def.Pattern == "" {
			return nil, errors.Newf("route %d: pattern is empty", i)
		}
		if def.Target == "" {
			return nil, errors.Newf("route %d (%s): target is empty", i, def.Pattern)
		}
	}

	return &rf, nil
}

// Apply registers every route, in file order, as a named target on the table.
func (rf *RoutesFile) Apply(routes *dhttp.RouteTable) {
	for _, def := range rf.Routes {
		routes.HandleRef(def.Pattern, def.Target)
	}
}

// Registry maps target names to handlers and implements [dhttp.TargetLoader]
// for the dispatcher's named-target route entries.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]dhttp.Handler
}

// NewRegistry inits an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]dhttp.Handler{}}
}

// Register binds a handler to a target name.
func (r *Registry) Register(name string, h dhttp.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// RegisterFunc binds a handler function to a target name.
func (r *Registry) RegisterFunc(name string, f dhttp.HandlerFunc) {
	r.Register(name, f)
}

// LoadTarget implements [dhttp.TargetLoader].
func (r *Registry) LoadTarget(ref string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[ref]
	if !ok {
		return nil, errors.Newf("no target registered under %q", ref)
	}

	return h, nil
}

var _ dhttp.TargetLoader = &Registry{}
