package mockbackend

import (
	"strings"
	"unicode"

	"github.com/DachengChen/sqlpilot/backend"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "by": true, "for": true, "how": true,
	"in": true, "is": true, "me": true, "of": true, "per": true, "show": true,
	"the": true, "to": true, "what": true, "which": true, "many": true, "each": true,
}

// keywords splits text into lower-case search words.
func keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// matchesAny reports whether s contains one of the words or its singular.
func matchesAny(s string, words []string) bool {
	s = strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
		if stem := strings.TrimSuffix(w, "s"); len(stem) >= 3 && strings.Contains(s, stem) {
			return true
		}
	}
	return false
}

// Suggest returns the catalog nodes related to text, nested under their
// ancestors. A parent is listed when one of its descendants matches.
func Suggest(fx *Fixtures, text string) []backend.Database {
	words := keywords(text)
	out := []backend.Database{}
	if len(words) == 0 {
		return out
	}
	for _, db := range fx.Databases {
		var tables []backend.Table
		for _, t := range db.Tables {
			var cols []backend.Column
			for _, c := range t.Columns {
				var vals []backend.Value
				for _, v := range c.Values {
					if matchesAny(v.Value+" "+v.Description, words) {
						vals = append(vals, backend.Value{ID: v.ID, Value: v.Value, Description: v.Description})
					}
				}
				if len(vals) > 0 || matchesAny(c.Column+" "+c.Description, words) {
					cols = append(cols, backend.Column{ID: c.ID, Column: c.Column, Type: c.Type, Description: c.Description, Values: vals})
				}
			}
			if len(cols) > 0 || matchesAny(t.Table+" "+t.Description, words) {
				tables = append(tables, backend.Table{ID: t.ID, Table: t.Table, Description: t.Description, Columns: cols})
			}
		}
		if len(tables) > 0 || matchesAny(db.DB+" "+db.Description, words) {
			out = append(out, backend.Database{ID: db.ID, DB: db.DB, Description: db.Description, Tables: tables})
		}
	}
	return out
}
