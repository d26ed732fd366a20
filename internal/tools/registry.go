package tools

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Registry is the fixed catalog of tools the model may invoke.
// It is built once and never mutated, so it is safe for concurrent use.
type Registry struct {
	tools map[string]*Definition
	order []*Definition
}

// NewRegistry validates defs and builds a registry ordered by tool name.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{
		tools: make(map[string]*Definition, len(defs)),
		order: make([]*Definition, 0, len(defs)),
	}
	for i := range defs {
		def := defs[i]
		if err := def.compile(); err != nil {
			return nil, err
		}
		if _, exists := r.tools[def.Name]; exists {
			return nil, errors.Errorf("tool %q already registered", def.Name)
		}
		r.tools[def.Name] = &def
		r.order = append(r.order, &def)
	}
	sort.Slice(r.order, func(i, j int) bool {
		return r.order[i].Name < r.order[j].Name
	})
	return r, nil
}

type catalogFile struct {
	Tools []Definition `yaml:"tools"`
}

// LoadCatalog parses a YAML tool catalog.
func LoadCatalog(data []byte) (*Registry, error) {
	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, errors.Wrap(err, "decode tool catalog")
	}
	return NewRegistry(file.Tools...)
}

// DefaultRegistry returns the built-in hospital tool catalog.
func DefaultRegistry() (*Registry, error) {
	return LoadCatalog(defaultCatalog)
}

// Lookup retrieves a tool by name
func (r *Registry) Lookup(name string) (*Definition, bool) {
	def, ok := r.tools[name]
	return def, ok
}

// All returns every tool in stable name order.
func (r *Registry) All() []*Definition {
	ret := make([]*Definition, len(r.order))
	copy(ret, r.order)
	return ret
}

// Names returns all tool names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.order))
	for _, def := range r.order {
		names = append(names, def.Name)
	}
	return names
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	return len(r.order)
}

// BindError explains why a model tool call could not be bound to the catalog.
type BindError struct {
	Tool   string
	Reason string
}

func (e *BindError) Error() string {
	return e.Reason
}

// Bind turns a raw model tool call into an Invocation. It fails when the name
// is not registered or the arguments are not a JSON object. Schema conformance
// is checked later by Definition.Validate.
func (r *Registry) Bind(id, name string, rawArgs []byte) (Invocation, error) {
	if _, ok := r.tools[name]; !ok {
		return Invocation{}, &BindError{Tool: name, Reason: "unknown tool " + strconv.Quote(name)}
	}
	args, err := decodeArguments(rawArgs)
	if err != nil {
		return Invocation{}, &BindError{Tool: name, Reason: "arguments for " + name + " are not a JSON object: " + err.Error()}
	}
	return Invocation{ID: id, Name: name, Arguments: args}, nil
}

func decodeArguments(raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after object")
	}
	if args == nil {
		args = map[string]any{}
	}
	// Models often send null for optional parameters they do not use.
	for k, v := range args {
		if v == nil {
			delete(args, k)
		}
	}
	return args, nil
}
