// Package fingerprint derives deterministic cache keys for upstream API
// requests. Two logically identical requests map to the same key regardless
// of parameter insertion order, caller-side casing convention, or the
// delivery/control flags that only affect how the request is fulfilled.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"
)

// controlParams are transport/delivery parameters that never contribute to
// request identity: they select how a result is delivered, not what is asked.
var controlParams = map[string]struct{}{
	"postback_url":            {},
	"postback_data":           {},
	"pingback_url":            {},
	"use_postback":            {},
	"use_pingback":            {},
	"post_task_if_not_cached": {},
	"search_type":             {},
	// tag echoes the cache key itself back through task data; hashing it
	// would make recomputed delivery-side keys diverge from the original.
	"tag": {},
}

// Generator computes cache keys for upstream requests.
type Generator struct {
	exclude map[string]struct{}
}

// New creates a Generator. Additional parameter names to exclude from the
// hashed input may be supplied; they are normalized like any other name.
func New(exclude ...string) *Generator {
	g := &Generator{exclude: make(map[string]struct{}, len(controlParams)+len(exclude))}
	for name := range controlParams {
		g.exclude[name] = struct{}{}
	}
	for _, name := range exclude {
		g.exclude[NormalizeName(name)] = struct{}{}
	}
	return g
}

// Key computes the cache key for a request.
// Format of the hashed input: client|version|METHOD|endpoint|k1=v1&k2=v2...
// with parameters canonicalized and sorted. Each name and value is
// percent-escaped so a value containing the pair delimiters cannot forge
// another pair; the serialization stays injective. The key is the
// hex-encoded SHA-256 digest of that serialization.
func (g *Generator) Key(client, endpoint string, params map[string]any, method, version string) string {
	canonical := g.Canonical(params)

	names := make([]string, 0, len(canonical))
	for name := range canonical {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(client)
	b.WriteByte('|')
	b.WriteString(version)
	b.WriteByte('|')
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(endpoint))
	for i, name := range names {
		if i == 0 {
			b.WriteByte('|')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(renderValue(canonical[name])))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Canonical returns the canonicalized parameter mapping that feeds the key:
// names normalized to snake_case, nil values dropped, control parameters
// removed. The result is what the store persists for audit purposes.
func (g *Generator) Canonical(params map[string]any) map[string]any {
	canonical := make(map[string]any, len(params))
	for name, value := range params {
		if value == nil {
			continue
		}
		normalized := NormalizeName(name)
		if _, excluded := g.exclude[normalized]; excluded {
			continue
		}
		canonical[normalized] = value
	}
	return canonical
}

// NormalizeName converts a parameter name to snake_case so caller-side
// camelCase and provider-side snake_case collapse to the same identity.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	prevLowerOrDigit := false
	for _, r := range name {
		if unicode.IsUpper(r) {
			if prevLowerOrDigit {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLowerOrDigit = false
			continue
		}
		b.WriteRune(r)
		prevLowerOrDigit = unicode.IsLower(r) || unicode.IsDigit(r)
	}
	return b.String()
}

// renderValue serializes a parameter value deterministically.
// encoding/json sorts map keys, which keeps nested objects stable.
func renderValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
