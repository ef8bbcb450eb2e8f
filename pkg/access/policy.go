package access

import (
	"strings"

	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
)

// AdminRoute is the dashboard the default policies protect.
const AdminRoute = "/admin"

// LoadDefaultPolicies protects the admin dashboard and leaves the public
// pages open.
func (g *Guard) LoadDefaultPolicies() {
	g.SetPolicy("/", models.RoleGuest)
	g.SetPolicy("/signin", models.RoleGuest)
	g.SetPolicy("/signup", models.RoleGuest)
	g.SetPolicy("/courses", models.RoleGuest)
	g.SetPolicy("/booking", models.RoleUser)
	g.SetPolicy(AdminRoute, models.RoleAdmin)
}

// SetPolicy sets the minimum role for route and everything below it.
func (g *Guard) SetPolicy(route string, required models.Role) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	if len(route) > 1 {
		route = strings.TrimRight(route, "/")
	}
	g.policies[route] = required
}

// FindMatchingPolicy returns the role required by the most specific policy
// covering route. Unmatched routes need no role.
func (g *Guard) FindMatchingPolicy(route string) (models.Role, bool) {
	pathsToCheck := buildPrefixes(route)

	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, p := range pathsToCheck {
		if required, ok := g.policies[p]; ok {
			g.log.Debug("guard matched policy", "route", route, "policy", p, "required", required)
			return required, true
		}
	}
	return models.RoleGuest, false
}

// buildPrefixes returns a list of paths to check from most specific to least specific.
// For "/a/b/c" it returns ["/a/b/c", "/a/b", "/a", "/"]. Query strings and
// fragments are ignored.
func buildPrefixes(route string) []string {
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	trimmed := strings.Trim(route, "/")
	if trimmed == "" {
		return []string{"/"}
	}

	segments := strings.Split(trimmed, "/")
	prefixes := make([]string, 0, len(segments)+1)
	for i := len(segments); i > 0; i-- {
		prefixes = append(prefixes, "/"+strings.Join(segments[:i], "/"))
	}

	// Always ensure root "/" is last
	return append(prefixes, "/")
}
