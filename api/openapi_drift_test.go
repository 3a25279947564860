package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
)

// openAPIDoc is the minimal structure we need from the OpenAPI document.
type openAPIDoc struct {
	Paths map[string]map[string]interface{} `yaml:"paths"`
}

// TestOpenAPIDrift walks the chi router and compares the registered routes
// against the OpenAPI document embedded in api/openapi.yaml. It fails if
// any routes are undocumented or if the document contains stale paths.
func TestOpenAPIDrift(t *testing.T) {
	var doc openAPIDoc
	if err := yaml.Unmarshal(openapiSpec, &doc); err != nil {
		t.Fatalf("failed to parse openapi.yaml: %v", err)
	}

	specRoutes := make(map[string]bool)
	for path, methods := range doc.Paths {
		for method := range methods {
			method = strings.ToUpper(method)
			if strings.HasPrefix(strings.ToLower(method), "x-") || method == "PARAMETERS" {
				continue
			}
			specRoutes[method+" "+path] = true
		}
	}

	// Handler only registers routes and never invokes handlers here, so
	// a zero-value API is fine.
	a := &API{}
	router := a.Handler(http.NotFoundHandler(), http.NotFoundHandler())

	chiRoutes := make(map[string]bool)
	err := chi.Walk(router.(chi.Routes), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		route = strings.TrimRight(route, "/")
		if route == "" {
			route = "/"
		}

		// Skip documentation and static asset routes.
		if route == APIPrefix+"/openapi.yaml" ||
			strings.HasPrefix(route, APIPrefix+"/docs") ||
			strings.HasPrefix(route, APIPrefix+"/redoc") ||
			route == LoginPagePath ||
			strings.HasPrefix(route, "/assets") {
			return nil
		}

		chiRoutes[method+" "+route] = true
		return nil
	})
	if err != nil {
		t.Fatalf("chi.Walk failed: %v", err)
	}

	var undocumented []string
	for route := range chiRoutes {
		if !specRoutes[route] {
			undocumented = append(undocumented, route)
		}
	}
	sort.Strings(undocumented)

	var stale []string
	for route := range specRoutes {
		if !chiRoutes[route] {
			stale = append(stale, route)
		}
	}
	sort.Strings(stale)

	if len(undocumented) > 0 {
		t.Errorf("routes registered in Handler() but missing from openapi.yaml:\n%s",
			formatRouteList(undocumented))
	}

	if len(stale) > 0 {
		t.Errorf("routes in openapi.yaml but not registered in Handler():\n%s",
			formatRouteList(stale))
	}
}

func formatRouteList(routes []string) string {
	var b strings.Builder
	for _, r := range routes {
		fmt.Fprintf(&b, "  - %s\n", r)
	}
	return b.String()
}
