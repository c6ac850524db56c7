package config

import (
	"sort"
	"strings"
)

type Cors struct{}

var _ CorsConfig = Cors{}

// AllowedOrigins is the set of browser origins permitted to call /jml with
// credentials. "*" admits any origin without credentials.
type AllowedOrigins map[string]struct{}

func ParseAllowedOrigins(origins []string) AllowedOrigins {
	a := make(AllowedOrigins, len(origins))
	for _, o := range origins {
		a[strings.TrimRight(o, "/")] = struct{}{}
	}
	return a
}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

func (a AllowedOrigins) String() string {
	origins := make([]string, 0, len(a))
	for k := range a {
		origins = append(origins, k)
	}
	sort.Strings(origins)
	return strings.Join(origins, ", ")
}

func (Cors) GetAllowedOrigins() AllowedOrigins {
	return ParseAllowedOrigins(GetList("ALLOWED_ORIGINS", nil))
}

func (Cors) GetAllowedMethods() string {
	return GetEnv("ALLOWED_METHODS", "GET, POST, OPTIONS")
}

func (Cors) GetAllowedHeaders() string {
	return GetEnv("ALLOWED_HEADERS", "Content-Type, Authorization, X-Requested-With")
}
