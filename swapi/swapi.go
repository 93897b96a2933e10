// Package swapi defines the entity types returned by the Star Wars API,
// the canonical URL rules used as cache keys, and the error taxonomy shared
// by every layer of the client.
//
// Core types: Person, Planet, Starship, Species, Film, Page, Resource.
package swapi

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// DefaultBaseURL is the public SWAPI root.
const DefaultBaseURL = "https://swapi.dev/api"

// Resource names a top-level SWAPI collection.
type Resource string

// Resource constants for the collections served by SWAPI.
const (
	ResourcePeople    Resource = "people"
	ResourcePlanets   Resource = "planets"
	ResourceStarships Resource = "starships"
	ResourceSpecies   Resource = "species"
	ResourceFilms     Resource = "films"
)

// Resources lists every supported collection in a stable order.
func Resources() []Resource {
	return []Resource{ResourcePeople, ResourcePlanets, ResourceStarships, ResourceSpecies, ResourceFilms}
}

// ParseResource validates a collection name.
func ParseResource(name string) (Resource, error) {
	r := Resource(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Resources() {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown resource %q", name)
}

// Endpoint returns the listing path relative to the API root, e.g. "/people/".
func (r Resource) Endpoint() string {
	return "/" + string(r) + "/"
}

// EntityPath returns the path of a single entity, e.g. "/people/4/".
func (r Resource) EntityPath(id int) string {
	return fmt.Sprintf("/%s/%d/", r, id)
}

// Canonicalize turns ref into the absolute URL used as a cache key.
// Absolute URLs are returned unchanged; relative paths are joined onto base.
func Canonicalize(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(ref, "/")
}

// WithinBase reports whether the absolute URL ref lives under base: same
// scheme, same host and port, no userinfo, and a cleaned path at or below
// base's path.
func WithinBase(base, ref string) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	r, err := url.Parse(ref)
	if err != nil || r.User != nil {
		return false
	}
	if !strings.EqualFold(b.Scheme, r.Scheme) || !strings.EqualFold(b.Host, r.Host) {
		return false
	}
	prefix := strings.TrimRight(b.Path, "/")
	p := r.Path
	if p != "" {
		p = path.Clean(p)
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

var idPattern = regexp.MustCompile(`/(\d+)/$`)

// ExtractID returns the trailing numeric identifier of a canonical resource
// URL. It reports false when url does not end in "/<digits>/".
func ExtractID(url string) (string, bool) {
	m := idPattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1], true
}
