package tools

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// ParamType is the JSON-schema type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// Location says where a parameter goes in the backend request.
type Location string

const (
	InQuery Location = "query"
	InPath  Location = "path"
)

// Param is one named, typed tool argument.
type Param struct {
	Name        string    `yaml:"name" json:"name"`
	Type        ParamType `yaml:"type" json:"type"`
	In          Location  `yaml:"in" json:"in"`
	Required    bool      `yaml:"required" json:"required"`
	Description string    `yaml:"description" json:"description"`
	Default     any       `yaml:"default" json:"default,omitempty"`
}

// Definition describes a tool the model may invoke and the backend route it reads.
// A Definition is immutable once the registry that owns it has been built.
type Definition struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	Params      []Param `yaml:"parameters" json:"parameters"`

	schema     *jsonschema.Schema
	schemaJSON json.RawMessage
	validator  *gojsonschema.Schema
}

// Schema returns the argument schema shown to the model.
func (d *Definition) Schema() *jsonschema.Schema {
	return d.schema
}

// SchemaJSON is Schema rendered as JSON.
func (d *Definition) SchemaJSON() json.RawMessage {
	return d.schemaJSON
}

// Param looks up a parameter by name.
func (d *Definition) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// RequiredParams lists required parameter names in declaration order.
func (d *Definition) RequiredParams() []string {
	ret := make([]string, 0)
	for _, p := range d.Params {
		if p.Required {
			ret = append(ret, p.Name)
		}
	}
	return ret
}

// ArgumentError lists the parameters that failed schema validation.
type ArgumentError struct {
	Tool       string
	Parameters []string
	Details    []string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Details, "; "))
}

// Validate checks args against the tool's schema. The returned error, if any, is an *ArgumentError.
func (d *Definition) Validate(args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	result, err := d.validator.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &ArgumentError{Tool: d.Name, Details: []string{err.Error()}}
	}

	seen := make(map[string]bool)
	argErr := &ArgumentError{Tool: d.Name}
	add := func(param, detail string) {
		if param != "" && !seen[param] {
			seen[param] = true
			argErr.Parameters = append(argErr.Parameters, param)
		}
		argErr.Details = append(argErr.Details, detail)
	}
	for _, re := range result.Errors() {
		add(offendingParam(re), re.String())
	}
	// An empty path segment would silently address the collection route.
	for _, p := range d.Params {
		if s, ok := args[p.Name].(string); ok && p.In == InPath && strings.TrimSpace(s) == "" {
			add(p.Name, p.Name+": must not be empty")
		}
	}
	if len(argErr.Details) == 0 {
		return nil
	}
	sort.Strings(argErr.Parameters)
	sort.Strings(argErr.Details)
	return argErr
}

func offendingParam(re gojsonschema.ResultError) string {
	if prop, ok := re.Details()["property"].(string); ok && prop != "" {
		return prop
	}
	field := re.Field()
	if field == "" || field == "(root)" {
		return ""
	}
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[:i]
	}
	return field
}

// Request builds the backend path and query string for validated args.
func (d *Definition) Request(args map[string]any) (string, url.Values) {
	path := d.Endpoint
	query := url.Values{}
	for _, p := range d.Params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			continue
		}
		s := formatValue(v)
		if p.In == InPath {
			path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(s))
			continue
		}
		query.Set(p.Name, s)
	}
	return path, query
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprint(val)
	}
}

// compile checks the definition and prepares its schema and validator.
func (d *Definition) compile() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("tool name is required")
	}
	if !strings.HasPrefix(d.Endpoint, "/") {
		return errors.Errorf("tool %s: endpoint must start with /", d.Name)
	}

	props := jsonschema.NewProperties()
	required := make([]string, 0)
	names := make(map[string]bool, len(d.Params))
	for i := range d.Params {
		p := &d.Params[i]
		if p.In == "" {
			p.In = InQuery
		}
		if names[p.Name] {
			return errors.Errorf("tool %s: duplicate parameter %s", d.Name, p.Name)
		}
		names[p.Name] = true

		switch p.Type {
		case TypeString, TypeInteger, TypeBoolean:
		default:
			return errors.Errorf("tool %s: parameter %s has unsupported type %q", d.Name, p.Name, p.Type)
		}
		switch p.In {
		case InQuery:
		case InPath:
			if !p.Required {
				return errors.Errorf("tool %s: path parameter %s must be required", d.Name, p.Name)
			}
			if !strings.Contains(d.Endpoint, "{"+p.Name+"}") {
				return errors.Errorf("tool %s: endpoint has no placeholder for %s", d.Name, p.Name)
			}
		default:
			return errors.Errorf("tool %s: parameter %s has unsupported location %q", d.Name, p.Name, p.In)
		}

		prop := &jsonschema.Schema{
			Type:        string(p.Type),
			Description: p.Description,
			Default:     p.Default,
		}
		props.Set(p.Name, prop)
		if p.Required {
			required = append(required, p.Name)
		}
	}

	for _, placeholder := range placeholders(d.Endpoint) {
		if p, ok := d.Param(placeholder); !ok || p.In != InPath {
			return errors.Errorf("tool %s: placeholder {%s} has no path parameter", d.Name, placeholder)
		}
	}

	d.schema = &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: jsonschema.FalseSchema,
	}
	raw, err := json.Marshal(d.schema)
	if err != nil {
		return errors.Wrapf(err, "tool %s: marshal schema", d.Name)
	}
	d.schemaJSON = raw

	validator, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errors.Wrapf(err, "tool %s: compile schema", d.Name)
	}
	d.validator = validator
	return nil
}

func placeholders(endpoint string) []string {
	ret := make([]string, 0)
	rest := endpoint
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			return ret
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return ret
		}
		ret = append(ret, rest[start+1:start+end])
		rest = rest[start+end+1:]
	}
}
