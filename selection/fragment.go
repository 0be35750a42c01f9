package selection

import (
	"github.com/DachengChen/sqlpilot/backend"
	"github.com/DachengChen/sqlpilot/catalog"
)

// Walker enumerates loaded catalog nodes in display order.
type Walker interface {
	Walk(fn func(path []catalog.Info) bool)
}

// Fragment builds the schema fragment for every highlighted node, nested
// under its ancestors. Ancestors that are not highlighted themselves are
// still emitted so the fragment stays well formed.
func Fragment(w Walker, s *State) []backend.Database {
	out := []backend.Database{}
	w.Walk(func(path []catalog.Info) bool {
		if s.Highlighted(path[len(path)-1].ID) {
			out = insert(out, path)
		}
		return true
	})
	return out
}

func insert(dbs []backend.Database, path []catalog.Info) []backend.Database {
	id := func(i int) backend.ID { return backend.ID(path[i].ID) }
	di := -1
	for i := range dbs {
		if dbs[i].ID == id(0) {
			di = i
			break
		}
	}
	if di < 0 {
		dbs = append(dbs, backend.Database{ID: id(0), DB: path[0].Name, Description: path[0].Label()})
		di = len(dbs) - 1
	}
	if len(path) == 1 {
		return dbs
	}

	db := &dbs[di]
	ti := -1
	for i := range db.Tables {
		if db.Tables[i].ID == id(1) {
			ti = i
			break
		}
	}
	if ti < 0 {
		db.Tables = append(db.Tables, backend.Table{ID: id(1), Table: path[1].Name, Description: path[1].Label()})
		ti = len(db.Tables) - 1
	}
	if len(path) == 2 {
		return dbs
	}

	tb := &db.Tables[ti]
	ci := -1
	for i := range tb.Columns {
		if tb.Columns[i].ID == id(2) {
			ci = i
			break
		}
	}
	if ci < 0 {
		tb.Columns = append(tb.Columns, backend.Column{
			ID:          id(2),
			Column:      path[2].Name,
			Type:        path[2].DataType,
			Description: path[2].Label(),
		})
		ci = len(tb.Columns) - 1
	}
	if len(path) == 3 {
		return dbs
	}

	col := &tb.Columns[ci]
	for _, v := range col.Values {
		if v.ID == id(3) {
			return dbs
		}
	}
	col.Values = append(col.Values, backend.Value{ID: id(3), Value: path[3].Name, Desc: path[3].Label()})
	return dbs
}
