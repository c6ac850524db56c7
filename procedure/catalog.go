package procedure

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jrsteele09/go-middle-layer/internal/errors"
	"github.com/rs/zerolog/log"
)

// Direction of a declared parameter.
type Direction int

const (
	In Direction = iota
	Out
	InOut
)

func (d Direction) String() string {
	switch d {
	case Out:
		return "OUT"
	case InOut:
		return "INOUT"
	default:
		return "IN"
	}
}

func (d Direction) IsInput() bool  { return d == In || d == InOut }
func (d Direction) IsOutput() bool { return d == Out || d == InOut }

// Descriptor is one declared parameter as the catalog reports it.
type Descriptor struct {
	Position  int // 1-based
	Name      string
	Direction Direction
	Type      string
	Cursor    bool
}

// Kind separates procedures (CALL) from functions (SELECT).
type Kind int

const (
	Function Kind = iota
	Procedure
)

// Signature is the resolved shape of a routine.
type Signature struct {
	Namespace  string
	Name       string
	Kind       Kind
	ReturnType string // functions only
	ReturnsSet bool
	Params     []Descriptor
}

// Outputs lists the values the call produces, in column order. A function
// without OUT parameters yields one output named after itself, as does a
// set returning function whose rows become that output.
func (s Signature) Outputs() []Descriptor {
	if s.Kind == Function && s.ReturnsSet {
		return []Descriptor{{Name: s.Name, Direction: Out, Type: s.ReturnType, Cursor: true}}
	}
	var outs []Descriptor
	for _, p := range s.Params {
		if p.Direction.IsOutput() {
			outs = append(outs, p)
		}
	}
	if len(outs) == 0 && s.Kind == Function && s.ReturnType != "" && s.ReturnType != "void" {
		outs = append(outs, Descriptor{Name: s.Name, Direction: Out, Type: s.ReturnType, Cursor: isCursorType(s.ReturnType)})
	}
	return outs
}

// allNamed reports whether every parameter has a name, so named notation can be used.
func (s Signature) allNamed() bool {
	for _, p := range s.Params {
		if p.Name == "" {
			return false
		}
	}
	return true
}

const signatureSQL = `SELECT p.oid::int8,
       p.prokind::text,
       CASE WHEN p.prokind = 'p' THEN '' ELSE format_type(p.prorettype, NULL) END,
       p.proretset,
       n.nspname::text,
       COALESCE(a.ord, 0)::int4,
       COALESCE(p.proargnames[a.ord], '')::text,
       COALESCE(p.proargmodes[a.ord]::text, 'i'),
       COALESCE(format_type(a.typ, NULL), '')
FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
LEFT JOIN LATERAL unnest(COALESCE(p.proallargtypes, p.proargtypes::oid[])) WITH ORDINALITY AS a(typ, ord) ON true
WHERE p.proname = $1::text
  AND n.nspname = COALESCE(NULLIF($2::text, ''), current_schema())
  AND pg_get_userbyid(p.proowner) = COALESCE(NULLIF($3::text, ''), current_user)
ORDER BY p.oid, a.ord`

// lookupSignature reads the routine's parameters from pg_proc. When the name
// is overloaded the oldest definition wins.
func lookupSignature(ctx context.Context, q pgx.Tx, ref Ref) (Signature, error) {
	rows, err := q.Query(ctx, signatureSQL, ref.Name, ref.Catalog, ref.Schema)
	if err != nil {
		return Signature{}, errors.Wrapf(errors.ErrBackendExecution, "[lookupSignature] %s: %v", ref, err)
	}
	defer rows.Close()

	var (
		sig      Signature
		firstOID int64
		found    bool
		skipped  bool
	)
	for rows.Next() {
		var (
			oid                       int64
			kind, retType, namespace  string
			retSet                    bool
			ord                       int32
			argName, argMode, argType string
		)
		if err := rows.Scan(&oid, &kind, &retType, &retSet, &namespace, &ord, &argName, &argMode, &argType); err != nil {
			return Signature{}, errors.Wrapf(errors.ErrProcedureResolution, "[lookupSignature] %s: %v", ref, err)
		}
		if !found {
			found = true
			firstOID = oid
			sig = Signature{Namespace: namespace, Name: ref.Name, ReturnType: retType, ReturnsSet: retSet}
			if kind == "p" {
				sig.Kind = Procedure
			}
		}
		if oid != firstOID {
			skipped = true
			continue
		}
		if ord == 0 {
			continue
		}
		d := Descriptor{Position: int(ord), Name: argName, Type: argType, Cursor: isCursorType(argType)}
		switch argMode {
		case "o", "t":
			d.Direction = Out
		case "b":
			d.Direction = InOut
		case "v":
			// variadic arguments are bound as ordinary inputs
		}
		sig.Params = append(sig.Params, d)
	}
	if err := rows.Err(); err != nil {
		return Signature{}, errors.Wrapf(errors.ErrBackendExecution, "[lookupSignature] %s: %v", ref, err)
	}
	if !found {
		return Signature{}, errors.Wrapf(errors.ErrProcedureResolution, "[lookupSignature] no routine matches %s", ref)
	}
	if skipped {
		log.Warn().Str("procedure", ref.String()).Msg("routine is overloaded, using the oldest definition")
	}
	return sig, nil
}

func isCursorType(t string) bool {
	return strings.EqualFold(t, "refcursor")
}
