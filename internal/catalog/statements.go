package catalog

import "strings"

// Marker lines recognised inside migration scripts.
const (
	SplitMarker  = "-- SPLIT_STATEMENT_SENTINEL"
	SingleMarker = "-- SINGLE_STATEMENT_SENTINEL"
)

type ExecMode int

const (
	// BlockWrapped statements run inside an anonymous PL/pgSQL block.
	BlockWrapped ExecMode = iota
	// Standalone statements run as-is, for DDL that cannot live in a block.
	Standalone
)

func (m ExecMode) String() string {
	if m == Standalone {
		return "standalone"
	}
	return "block"
}

type Statement struct {
	SQL  string
	Mode ExecMode
}

// ParseStatements splits script on SplitMarker lines. A chunk carrying a
// SingleMarker line is Standalone. Marker lines are removed and chunks with no
// SQL besides comments are dropped.
func ParseStatements(script string) []Statement {
	var out []Statement
	var cur []string
	mode := BlockWrapped
	flush := func() {
		sql := strings.TrimSpace(strings.Join(cur, "\n"))
		if hasSQL(sql) {
			out = append(out, Statement{SQL: sql, Mode: mode})
		}
		cur = cur[:0]
		mode = BlockWrapped
	}
	for _, line := range strings.Split(strings.ReplaceAll(script, "\r\n", "\n"), "\n") {
		switch strings.TrimSpace(line) {
		case SplitMarker:
			flush()
		case SingleMarker:
			mode = Standalone
		default:
			cur = append(cur, line)
		}
	}
	flush()
	return out
}

func hasSQL(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		l := strings.TrimSpace(line)
		if l != "" && !strings.HasPrefix(l, "--") {
			return true
		}
	}
	return false
}
