package procedure

import (
	"fmt"
	"strings"

	"github.com/jrsteele09/go-middle-layer/internal/errors"
)

// Ref is a parsed procedure reference. Catalog is the PostgreSQL schema that
// holds the routine; Schema names the owning role. Both are optional.
type Ref struct {
	Schema  string
	Catalog string
	Name    string
}

// ParseRef splits "name", "catalog.name" or "schema.catalog.name".
// Unquoted identifiers fold to lower case as PostgreSQL does.
func ParseRef(ref string) (Ref, error) {
	parts := strings.Split(strings.TrimSpace(ref), ".")
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
		if parts[i] == "" {
			return Ref{}, errors.Wrapf(errors.ErrProcedureResolution, "[ParseRef] malformed procedure reference %q", ref)
		}
	}
	switch len(parts) {
	case 1:
		return Ref{Name: parts[0]}, nil
	case 2:
		return Ref{Catalog: parts[0], Name: parts[1]}, nil
	case 3:
		return Ref{Schema: parts[0], Catalog: parts[1], Name: parts[2]}, nil
	default:
		return Ref{}, errors.Wrapf(errors.ErrProcedureResolution, "[ParseRef] too many segments in %q", ref)
	}
}

func (r Ref) String() string {
	switch {
	case r.Schema != "":
		return fmt.Sprintf("%s.%s.%s", r.Schema, r.Catalog, r.Name)
	case r.Catalog != "":
		return fmt.Sprintf("%s.%s", r.Catalog, r.Name)
	default:
		return r.Name
	}
}
