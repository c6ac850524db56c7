package procedure

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Statement is a ready to run call built from a resolved signature.
type Statement struct {
	SQL     string
	Args    []any
	Outputs []Descriptor
	Set     bool // rows of the statement are the single cursor output
}

// Build turns a signature and caller values into a statement. Caller value i
// belongs to declared position i+1 and is bound only when that position
// accepts input. Values past the declared list are ignored and unset values
// are left out so the routine's defaults apply.
func Build(sig Signature, params []Param) Statement {
	st := Statement{Outputs: sig.Outputs(), Set: sig.Kind == Function && sig.ReturnsSet}

	bound := make(map[int]string, len(params))
	for _, d := range sig.Params {
		i := d.Position - 1
		if !d.Direction.IsInput() || i >= len(params) || !params[i].Set {
			continue
		}
		bound[d.Position] = params[i].Value
	}

	var args []string
	if sig.allNamed() {
		args = st.namedArgs(sig, bound)
	} else {
		args = st.positionalArgs(sig, bound)
	}

	target := pgx.Identifier{sig.Namespace, sig.Name}.Sanitize()
	if sig.Kind == Procedure {
		st.SQL = fmt.Sprintf("CALL %s(%s)", target, strings.Join(args, ", "))
	} else {
		st.SQL = fmt.Sprintf("SELECT * FROM %s(%s)", target, strings.Join(args, ", "))
	}
	return st
}

func (st *Statement) namedArgs(sig Signature, bound map[int]string) []string {
	var args []string
	for _, d := range sig.Params {
		name := pgx.Identifier{d.Name}.Sanitize()
		if v, ok := bound[d.Position]; ok {
			args = append(args, fmt.Sprintf("%s => %s", name, st.placeholder(v, d.Type)))
			continue
		}
		// procedures take their OUT arguments in the call list
		if sig.Kind == Procedure && d.Direction == Out {
			args = append(args, fmt.Sprintf("%s => NULL::%s", name, d.Type))
		}
	}
	return args
}

// positionalArgs fills gaps with NULL up to the last argument that must be sent.
func (st *Statement) positionalArgs(sig Signature, bound map[int]string) []string {
	last := 0
	for _, d := range sig.Params {
		_, isBound := bound[d.Position]
		if isBound || (sig.Kind == Procedure && d.Direction == Out) {
			last = d.Position
		}
	}
	var args []string
	for _, d := range sig.Params {
		if d.Position > last {
			break
		}
		if sig.Kind == Function && d.Direction == Out {
			continue
		}
		if v, ok := bound[d.Position]; ok {
			args = append(args, st.placeholder(v, d.Type))
			continue
		}
		args = append(args, "NULL::"+d.Type)
	}
	return args
}

// placeholder binds v as text and lets the server cast it to the declared type.
func (st *Statement) placeholder(v, typ string) string {
	st.Args = append(st.Args, v)
	p := fmt.Sprintf("$%d", len(st.Args))
	if typ == "" || typ == "text" || strings.HasPrefix(typ, "any") {
		return p
	}
	return fmt.Sprintf("%s::text::%s", p, typ)
}
