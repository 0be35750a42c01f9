// Package mockbackend serves the assistant backend's HTTP and Socket.IO
// contract from fixture data, for demos and integration tests.
package mockbackend

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DachengChen/sqlpilot/backend"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// Fixtures is the data the mock backend answers from.
type Fixtures struct {
	Databases []backend.Database       `yaml:"databases"`
	Examples  []backend.MetadataItem   `yaml:"examples"`
	Terms     []backend.MetadataItem   `yaml:"terms"`
	Config    []backend.ConfigItem     `yaml:"config"`
	Results   map[string]ResultFixture `yaml:"results"`
}

// ResultFixture is the canned result of queries reading one table.
type ResultFixture struct {
	Columns []backend.ResultColumn `yaml:"columns"`
	Data    [][]any                `yaml:"data"`
}

// DefaultFixtures returns the embedded fixture set.
func DefaultFixtures() (*Fixtures, error) {
	return ParseFixtures(defaultFixtures)
}

// LoadFixtures reads a fixture file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures decodes fixture YAML.
func ParseFixtures(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return &f, nil
}

// database returns the database with the given id.
func (f *Fixtures) database(id string) (*backend.Database, bool) {
	for i := range f.Databases {
		if string(f.Databases[i].ID) == id {
			return &f.Databases[i], true
		}
	}
	return nil, false
}

func (f *Fixtures) table(dbID, tableID string) (*backend.Table, bool) {
	db, ok := f.database(dbID)
	if !ok {
		return nil, false
	}
	for i := range db.Tables {
		if string(db.Tables[i].ID) == tableID {
			return &db.Tables[i], true
		}
	}
	return nil, false
}

func (f *Fixtures) column(dbID, tableID, columnID string) (*backend.Column, bool) {
	t, ok := f.table(dbID, tableID)
	if !ok {
		return nil, false
	}
	for i := range t.Columns {
		if string(t.Columns[i].ID) == columnID {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// tableByName finds a table by its SQL name in any database.
func (f *Fixtures) tableByName(name string) (*backend.Table, bool) {
	for i := range f.Databases {
		for j := range f.Databases[i].Tables {
			if strings.EqualFold(f.Databases[i].Tables[j].Table, name) {
				return &f.Databases[i].Tables[j], true
			}
		}
	}
	return nil, false
}

// DDL renders the CREATE TABLE statement of t.
func DDL(t backend.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", t.Table)
	for i, c := range t.Columns {
		fmt.Fprintf(&b, "  %s %s", c.Column, c.Type)
		if c.Description != "" {
			fmt.Fprintf(&b, " COMMENT '%s'", c.Description)
		}
		if i < len(t.Columns)-1 {
			b.WriteString(",")
		}
		if len(c.Values) > 0 {
			vals := make([]string, len(c.Values))
			for k, v := range c.Values {
				vals[k] = v.Value
			}
			fmt.Fprintf(&b, " -- values: %s", strings.Join(vals, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	if t.Description != "" {
		fmt.Fprintf(&b, " COMMENT '%s'", t.Description)
	}
	b.WriteString(";")
	return b.String()
}
