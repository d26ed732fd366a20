package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// passthroughRoutes maps public data names to backend read routes.
var passthroughRoutes = map[string]string{
	"patients":   "/patients/",
	"alerts":     "/alerts/",
	"staff":      "/staff/",
	"rooms":      "/rooms/",
	"beds":       "/beds/",
	"devices":    "/iotData/",
	"anomalies":  "/anomalies/",
	"simulation": "/simulation/status",
}

// UnknownEndpointError is returned for names outside the passthrough table.
type UnknownEndpointError struct {
	Name string
}

func (e *UnknownEndpointError) Error() string {
	return fmt.Sprintf("Unknown endpoint: %s", e.Name)
}

// PassthroughNames lists the supported data names, sorted.
func PassthroughNames() []string {
	names := make([]string, 0, len(passthroughRoutes))
	for name := range passthroughRoutes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Passthrough forwards a named data request to the backend and returns the
// backend JSON as-is. rawQuery is forwarded verbatim.
func (g *Gateway) Passthrough(ctx context.Context, name, rawQuery string) (json.RawMessage, error) {
	route, ok := passthroughRoutes[name]
	if !ok {
		return nil, &UnknownEndpointError{Name: name}
	}

	payload, failure := g.fetch(ctx, route, rawQuery)
	if failure != nil {
		return nil, failure
	}
	return payload, nil
}

// Ping fetches the simulation status as a reachability check.
func (g *Gateway) Ping(ctx context.Context) error {
	if _, failure := g.fetch(ctx, passthroughRoutes["simulation"], ""); failure != nil {
		return failure
	}
	return nil
}
