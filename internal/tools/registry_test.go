package tools

import (
	"encoding/json"
	"net/url"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_Catalog(t *testing.T) {
	t.Parallel()

	reg, err := DefaultRegistry()
	require.NoError(t, err)

	assert.Equal(t, 19, reg.Count())
	names := reg.Names()
	assert.True(t, sort.StringsAreSorted(names), "catalog order must be stable")
	assert.Contains(t, names, "get_all_patients")
	assert.Contains(t, names, "get_simulation_status")
	assert.NotContains(t, names, "create_patient")
	assert.NotContains(t, names, "assign_patient_to_bed")

	all := reg.All()
	require.Len(t, all, reg.Count())
	for i, def := range all {
		assert.Equal(t, names[i], def.Name)
		assert.NotEmpty(t, def.Description)
		assert.NotEmpty(t, def.SchemaJSON())
	}
}

func TestRegistry_Lookup(t *testing.T) {
	t.Parallel()

	reg, err := DefaultRegistry()
	require.NoError(t, err)

	def, ok := reg.Lookup("get_patient_vitals")
	require.True(t, ok)
	assert.Equal(t, "/patients/{patient_id}/vitals", def.Endpoint)
	assert.Equal(t, []string{"patient_id"}, def.RequiredParams())

	_, ok = reg.Lookup("drop_tables")
	assert.False(t, ok)
}

func TestDefinition_SchemaJSON(t *testing.T) {
	t.Parallel()

	reg, err := DefaultRegistry()
	require.NoError(t, err)
	def, _ := reg.Lookup("get_staff_schedule")

	var schema map[string]any
	require.NoError(t, json.Unmarshal(def.SchemaJSON(), &schema))

	assert.Equal(t, "object", schema["type"])
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "staff_id")
	assert.Contains(t, props, "start_date")
	assert.Contains(t, props, "end_date")
	assert.ElementsMatch(t, []any{"staff_id", "start_date"}, schema["required"])
}

func TestDefinition_Validate(t *testing.T) {
	t.Parallel()

	reg, err := DefaultRegistry()
	require.NoError(t, err)

	tests := []struct {
		name       string
		tool       string
		args       map[string]any
		wantParams []string
	}{
		{
			name: "valid required and optional",
			tool: "get_patient_vitals",
			args: map[string]any{"patient_id": "P001", "limit": json.Number("5")},
		},
		{
			name:       "missing required",
			tool:       "get_patient",
			args:       map[string]any{},
			wantParams: []string{"patient_id"},
		},
		{
			name:       "wrong type",
			tool:       "get_all_anomalies",
			args:       map[string]any{"hours": "yesterday"},
			wantParams: []string{"hours"},
		},
		{
			name:       "unknown parameter",
			tool:       "get_current_alerts",
			args:       map[string]any{"ward": "ICU"},
			wantParams: []string{"ward"},
		},
		{
			name:       "several offenders are all named",
			tool:       "get_staff_schedule",
			args:       map[string]any{"end_date": json.Number("3")},
			wantParams: []string{"end_date", "staff_id", "start_date"},
		},
		{
			name:       "empty path parameter",
			tool:       "get_bed",
			args:       map[string]any{"bed_id": "  "},
			wantParams: []string{"bed_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, ok := reg.Lookup(tt.tool)
			require.True(t, ok)

			err := def.Validate(tt.args)
			if tt.wantParams == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var argErr *ArgumentError
			require.ErrorAs(t, err, &argErr)
			assert.Equal(t, tt.wantParams, argErr.Parameters)
		})
	}
}

func TestDefinition_Request(t *testing.T) {
	t.Parallel()

	reg, err := DefaultRegistry()
	require.NoError(t, err)

	def, _ := reg.Lookup("get_patient_vitals")
	path, query := def.Request(map[string]any{
		"patient_id": "P 01/x",
		"limit":      json.Number("3"),
	})
	assert.Equal(t, "/patients/P%2001%2Fx/vitals", path)
	assert.Equal(t, url.Values{"limit": {"3"}}, query)

	def, _ = reg.Lookup("get_all_staff")
	path, query = def.Request(map[string]any{"onDuty": true})
	assert.Equal(t, "/staff/", path)
	assert.Equal(t, "true", query.Get("onDuty"))
}

func TestRegistry_Bind(t *testing.T) {
	t.Parallel()

	reg, err := DefaultRegistry()
	require.NoError(t, err)

	inv, err := reg.Bind("call_1", "get_patient", []byte(`{"patient_id":"P001","ward":null}`))
	require.NoError(t, err)
	assert.Equal(t, "call_1", inv.ID)
	assert.Equal(t, map[string]any{"patient_id": "P001"}, inv.Arguments)

	inv, err = reg.Bind("call_2", "get_all_rooms", nil)
	require.NoError(t, err)
	assert.Empty(t, inv.Arguments)

	_, err = reg.Bind("call_3", "delete_patient", []byte(`{}`))
	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.Contains(t, bindErr.Error(), "unknown tool")

	_, err = reg.Bind("call_4", "get_patient", []byte(`["P001"]`))
	require.ErrorAs(t, err, &bindErr)
	assert.Contains(t, bindErr.Error(), "not a JSON object")

	_, err = reg.Bind("call_5", "get_patient", []byte(`{"patient_id":`))
	require.ErrorAs(t, err, &bindErr)
}

func TestNewRegistry_RejectsBadDefinitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		defs []Definition
		want string
	}{
		{
			name: "duplicate",
			defs: []Definition{
				{Name: "a", Endpoint: "/a"},
				{Name: "a", Endpoint: "/b"},
			},
			want: "already registered",
		},
		{
			name: "placeholder without parameter",
			defs: []Definition{{Name: "a", Endpoint: "/a/{id}"}},
			want: "placeholder {id}",
		},
		{
			name: "optional path parameter",
			defs: []Definition{{
				Name:     "a",
				Endpoint: "/a/{id}",
				Params:   []Param{{Name: "id", Type: TypeString, In: InPath}},
			}},
			want: "must be required",
		},
		{
			name: "unsupported type",
			defs: []Definition{{
				Name:     "a",
				Endpoint: "/a",
				Params:   []Param{{Name: "x", Type: "object"}},
			}},
			want: "unsupported type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.defs...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadCatalog_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := LoadCatalog([]byte("tools:\n  - name: a\n    endpoint: /a\n    method: POST\n"))
	require.Error(t, err)
}
