package client

import (
	"fmt"
	"strings"

	"github.com/serpcache/serp-api-client/pkg/fingerprint"
)

// Definition declares one standard endpoint: its logical path, the search
// types it accepts, and its parameter surface. The per-endpoint wrapper
// functions of thin API clients collapse into this table.
type Definition struct {
	// Endpoint is the base logical path, e.g. "serp/google/organic".
	Endpoint string

	// SearchTypes enumerates the accepted response-shape selectors.
	// Empty means the endpoint takes no selector.
	SearchTypes []string

	// Required lists parameter names (snake_case) that must be present.
	Required []string

	// Optional lists the additional accepted parameter names. Control and
	// delivery parameters are always accepted and need not be listed.
	Optional []string
}

// Registry holds endpoint definitions keyed by base logical path.
type Registry struct {
	defs map[string]Definition
}

// defaultSearchTypes is the selector set shared by the serp endpoints.
var defaultSearchTypes = []string{"regular", "advanced", "html"}

// NewRegistry creates a registry pre-loaded with the built-in serp
// endpoint definitions. Callers register additional endpoints as needed.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	for _, def := range builtinDefinitions() {
		r.Register(def)
	}
	return r
}

func builtinDefinitions() []Definition {
	serpParams := definitionParams()
	return []Definition{
		{
			Endpoint:    "serp/google/organic",
			SearchTypes: defaultSearchTypes,
			Required:    []string{"keyword"},
			Optional:    serpParams,
		},
		{
			Endpoint:    "serp/google/maps",
			SearchTypes: []string{"regular", "advanced"},
			Required:    []string{"keyword"},
			Optional:    serpParams,
		},
		{
			Endpoint:    "serp/bing/organic",
			SearchTypes: defaultSearchTypes,
			Required:    []string{"keyword"},
			Optional:    serpParams,
		},
		{
			Endpoint:    "serp/yahoo/organic",
			SearchTypes: defaultSearchTypes,
			Required:    []string{"keyword"},
			Optional:    serpParams,
		},
	}
}

func definitionParams() []string {
	return []string{
		"location_name", "location_code", "location_coordinate",
		"language_name", "language_code",
		"device", "os", "depth", "max_crawl_pages",
		"se_domain", "target", "priority",
	}
}

// Register adds or replaces a definition.
func (r *Registry) Register(def Definition) {
	r.defs[def.Endpoint] = def
}

// Get returns the definition for a base endpoint.
func (r *Registry) Get(endpoint string) (Definition, bool) {
	def, ok := r.defs[endpoint]
	return def, ok
}

// ResolveSearchType validates and normalizes a response-shape selector for
// the definition. The selector folds into the endpoint string, never into
// the parameter set.
func (d Definition) ResolveSearchType(searchType string) (string, error) {
	if len(d.SearchTypes) == 0 {
		if searchType != "" {
			return "", &ValidationError{Field: "search_type",
				Reason: fmt.Sprintf("not accepted by endpoint %q", d.Endpoint)}
		}
		return "", nil
	}

	normalized := strings.ToLower(searchType)
	if normalized == "" {
		normalized = d.SearchTypes[0]
	}
	for _, accepted := range d.SearchTypes {
		if normalized == accepted {
			return normalized, nil
		}
	}
	return "", &ValidationError{Field: "search_type",
		Reason: fmt.Sprintf("must be one of %v", d.SearchTypes)}
}

// Validate checks a parameter mapping against the definition: required
// fields present, no unknown fields. Names are compared after snake_case
// normalization; control and delivery parameters always pass.
func (d Definition) Validate(params map[string]any) error {
	allowed := make(map[string]struct{}, len(d.Required)+len(d.Optional))
	for _, name := range d.Required {
		allowed[name] = struct{}{}
	}
	for _, name := range d.Optional {
		allowed[name] = struct{}{}
	}

	normalized := make(map[string]struct{}, len(params))
	for name := range params {
		normalized[fingerprint.NormalizeName(name)] = struct{}{}
	}

	for _, name := range d.Required {
		if _, ok := normalized[name]; !ok {
			return &ValidationError{Field: name, Reason: "is required"}
		}
	}

	for name := range normalized {
		if _, ok := allowed[name]; ok {
			continue
		}
		if isControlParam(name) {
			continue
		}
		return &ValidationError{Field: name,
			Reason: fmt.Sprintf("is not accepted by endpoint %q", d.Endpoint)}
	}
	return nil
}

// isControlParam mirrors the fingerprint exclusion set: delivery/control
// parameters are accepted everywhere and never part of identity.
func isControlParam(name string) bool {
	switch name {
	case "postback_url", "postback_data", "pingback_url", "use_postback",
		"use_pingback", "post_task_if_not_cached", "search_type", "tag":
		return true
	}
	return false
}
