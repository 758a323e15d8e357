package schema

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syssam/vellum/schema/edge"
	"github.com/syssam/vellum/schema/field"
	"github.com/syssam/vellum/schema/index"
)

type yamlFile struct {
	Tables []yamlTable `yaml:"tables"`
}

type yamlTable struct {
	Name          string             `yaml:"name"`
	Label         string             `yaml:"label"`
	Comment       string             `yaml:"comment"`
	Columns       []yamlColumn       `yaml:"columns"`
	PrimaryKey    []string           `yaml:"primary_key"`
	Relationships []yamlRelationship `yaml:"relationships"`
	Indexes       []yamlIndex        `yaml:"indexes"`
}

type yamlColumn struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Primary    bool   `yaml:"primary"`
	Unique     bool   `yaml:"unique"`
	Index      bool   `yaml:"index"`
	Nullable   bool   `yaml:"nullable"`
	Size       int    `yaml:"size"`
	Precision  []int  `yaml:"precision"`
	Default    any    `yaml:"default"`
	References string `yaml:"references"`
	OnDelete   string `yaml:"on_delete"`
	Comment    string `yaml:"comment"`
}

type yamlRelationship struct {
	Name           string   `yaml:"name"`
	Kind           string   `yaml:"kind"`
	Target         string   `yaml:"target"`
	Through        string   `yaml:"through"`
	Columns        []string `yaml:"columns"`
	ThroughColumns []string `yaml:"through_columns"`
	OrderBy        string   `yaml:"order_by"`
	Backref        string   `yaml:"backref"`
}

type yamlIndex struct {
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique"`
	Name    string   `yaml:"name"`
}

// LoadYAML reads table declarations from a YAML document:
//
//	tables:
//	  - name: orders
//	    columns:
//	      - {name: order_id, type: int, primary: true}
//	      - {name: user_id, type: int, references: users.user_id}
//	    relationships:
//	      - {name: user, kind: many-to-one, target: users, backref: orders}
func LoadYAML(r io.Reader) ([]*TableSchema, error) {
	var yf yamlFile
	if err := yaml.NewDecoder(r).Decode(&yf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("unmarshalling YAML: %w", err)
	}
	tables := make([]*TableSchema, 0, len(yf.Tables))
	for _, yt := range yf.Tables {
		t, err := yt.table()
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (yt yamlTable) table() (*TableSchema, error) {
	if yt.Name == "" {
		return nil, fmt.Errorf("yaml: table without a name")
	}
	t := Table(yt.Name)
	if yt.Label != "" {
		t.SetLabel(yt.Label)
	}
	t.SetComment(yt.Comment)
	for _, c := range yt.Columns {
		b, err := c.builder()
		if err != nil {
			return nil, fmt.Errorf("yaml: table %q: %w", yt.Name, err)
		}
		t.Fields(b)
	}
	if len(yt.PrimaryKey) > 0 {
		t.PrimaryKey(yt.PrimaryKey...)
	}
	for _, r := range yt.Relationships {
		k, err := edge.ParseKind(r.Kind)
		if err != nil {
			return nil, fmt.Errorf("yaml: table %q: relationship %q: %w", yt.Name, r.Name, err)
		}
		b := edge.New(k, r.Name, r.Target).Through(r.Through).OrderBy(r.OrderBy).Backref(r.Backref)
		if len(r.Columns) == 2 {
			b.Columns(r.Columns[0], r.Columns[1])
		}
		if len(r.ThroughColumns) == 2 {
			b.ThroughColumns(r.ThroughColumns[0], r.ThroughColumns[1])
		}
		t.Edges(b)
	}
	for _, i := range yt.Indexes {
		b := index.Fields(i.Columns...).StorageKey(i.Name)
		if i.Unique {
			b.Unique()
		}
		t.Indexes(b)
	}
	return t, t.Err()
}

func (c yamlColumn) builder() (*field.Builder, error) {
	typ, err := field.ParseType(c.Type)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", c.Name, err)
	}
	b := field.New(c.Name, typ)
	if c.Primary {
		b.PrimaryKey()
	}
	if c.Unique {
		b.Unique()
	}
	if c.Index {
		b.Index()
	}
	if c.Nullable {
		b.Nillable()
	}
	if c.Size > 0 {
		b.MaxLen(c.Size)
	}
	if len(c.Precision) == 2 {
		b.Precision(c.Precision[0], c.Precision[1])
	}
	if c.Default != nil {
		b.Default(c.Default)
	}
	if c.References != "" {
		table, column, ok := strings.Cut(c.References, ".")
		if !ok {
			return nil, fmt.Errorf("column %q: references %q: expect table.column", c.Name, c.References)
		}
		b.References(table, column)
		if c.OnDelete != "" {
			b.OnDelete(c.OnDelete)
		}
	}
	if c.Comment != "" {
		b.Comment(c.Comment)
	}
	return b, nil
}
