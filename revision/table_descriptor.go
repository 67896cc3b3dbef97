package revision

import "fmt"

// Well-known field names present on every table in addition to its
// declared columns.
const (
	FieldNameId         = "id"
	FieldNameInsertTime = "insert_time"
	FieldNameUpdateTime = "update_time"
	FieldNameChunkId    = "chunk_id"
	FieldNameRemoved    = "removed"
)

// FieldDescriptor names one column of a table, in the order it appears
// in a Revision's positional field list.
type FieldDescriptor struct {
	Name string
	Type FieldType
}

// TableDescriptor is the ordered, immutable-once-published schema of a
// table: the well-known fields plus an ordered list of (name, type)
// columns. Columns are append-only across schema evolution so
// that fields referenced by an index stay stable.
type TableDescriptor struct {
	name    string
	columns []FieldDescriptor
	index   map[string]int
}

// NewTableDescriptor builds a descriptor for a table with the given name
// and ordered columns. Column names must be unique and must not collide
// with a well-known field name.
func NewTableDescriptor(name string, columns []FieldDescriptor) (*TableDescriptor, error) {
	index := make(map[string]int, len(columns))

	for i, c := range columns {
		switch c.Name {
		case FieldNameId, FieldNameInsertTime, FieldNameUpdateTime, FieldNameChunkId, FieldNameRemoved:
			return nil, fmt.Errorf("column %q collides with a well-known field", c.Name)
		}

		if _, exists := index[c.Name]; exists {
			return nil, fmt.Errorf("duplicate column name %q", c.Name)
		}

		index[c.Name] = i
	}

	desc := &TableDescriptor{
		name:    name,
		columns: append([]FieldDescriptor(nil), columns...),
		index:   index,
	}

	return desc, nil
}

// Name returns the table's name.
func (d *TableDescriptor) Name() string {
	return d.name
}

// Columns returns the ordered column list. Callers must not mutate it.
func (d *TableDescriptor) Columns() []FieldDescriptor {
	return d.columns
}

// NumColumns returns the number of declared columns.
func (d *TableDescriptor) NumColumns() int {
	return len(d.columns)
}

// IndexOf returns the positional index of the named column, or -1 if it
// isn't declared.
func (d *TableDescriptor) IndexOf(name string) int {
	if i, ok := d.index[name]; ok {
		return i
	}

	return -1
}

// TypeAt returns the type of the column at position i, or an error if i
// is out of range.
func (d *TableDescriptor) TypeAt(i int) (FieldType, error) {
	if i < 0 || i >= len(d.columns) {
		return 0, fmt.Errorf("field index %d out of range [0, %d)", i, len(d.columns))
	}

	return d.columns[i].Type, nil
}

// EvolveAppend returns a new descriptor with additional trailing
// columns, preserving every existing column's index. It fails if any
// new column collides with an existing name.
func (d *TableDescriptor) EvolveAppend(newColumns []FieldDescriptor) (*TableDescriptor, error) {
	return NewTableDescriptor(d.name, append(append([]FieldDescriptor(nil), d.columns...), newColumns...))
}

// Match reports whether d and other declare the same columns, in the
// same order, with the same types. Table names are not compared:
// two same-shaped tables of different names
// still structure-match.
func (d *TableDescriptor) Match(other *TableDescriptor) bool {
	if other == nil || len(d.columns) != len(other.columns) {
		return false
	}

	for i := range d.columns {
		if d.columns[i] != other.columns[i] {
			return false
		}
	}

	return true
}

// ValidateFields checks that values conforms to d positionally: same
// length, same types in the same order.
func (d *TableDescriptor) ValidateFields(values []Value) error {
	if len(values) != len(d.columns) {
		return fmt.Errorf("%w: expected %d fields, got %d", errArityMismatch, len(d.columns), len(values))
	}

	for i, v := range values {
		if v.Type() != d.columns[i].Type {
			return fmt.Errorf("%w: field %d (%s) expected type %s, got %s", errTypeMismatch, i, d.columns[i].Name, d.columns[i].Type, v.Type())
		}
	}

	return nil
}
