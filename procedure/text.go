package procedure

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jrsteele09/go-middle-layer/internal/utils"
)

// textRenderer turns decoded column values back into the backend's text
// representation, using each column's declared type.
type textRenderer struct {
	types *pgtype.Map
	oids  []uint32
}

func newTextRenderer(rows pgx.Rows) textRenderer {
	// a Map is not safe for concurrent use, so borrow the connection's
	var types *pgtype.Map
	if c := rows.Conn(); c != nil {
		types = c.TypeMap()
	} else {
		types = pgtype.NewMap()
	}
	fields := rows.FieldDescriptions()
	oids := make([]uint32, len(fields))
	for i, f := range fields {
		oids[i] = f.DataTypeOID
	}
	return textRenderer{types: types, oids: oids}
}

// render returns column i's value as text. NULL renders as "".
func (r textRenderer) render(i int, v any) string {
	if v == nil {
		return ""
	}
	var oid uint32
	if i < len(r.oids) {
		oid = r.oids[i]
	}
	buf, err := r.types.Encode(oid, pgtype.TextFormatCode, v, nil)
	if err != nil {
		return utils.ToString(v)
	}
	return string(buf)
}
