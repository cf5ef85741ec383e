package postgres

import (
	"reflect"
	"sync"
)

// columnCache holds the db-tag layout per struct type.
var columnCache sync.Map // map[reflect.Type][]column

type column struct {
	index []int
	name  string
}

// columnsOf returns the db-tagged fields of t, descending into embedded structs.
func columnsOf(t reflect.Type) []column {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := columnCache.Load(t); ok {
		return cached.([]column)
	}

	var cols []column
	if t.Kind() == reflect.Struct {
		for _, f := range reflect.VisibleFields(t) {
			if f.Anonymous || !f.IsExported() {
				continue
			}
			tag := f.Tag.Get("db")
			if tag == "" || tag == "-" {
				continue
			}
			cols = append(cols, column{index: f.Index, name: tag})
		}
	}

	columnCache.Store(t, cols)
	return cols
}

// ExtractDBColumns returns the column names of T's db tags in field order.
func ExtractDBColumns[T any]() []string {
	var zero T
	cols := columnsOf(reflect.TypeOf(zero))
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

// StructToMap converts a struct to a column map. When only is non-empty,
// just those columns are included.
func StructToMap(v any, only ...string) map[string]any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	var keep map[string]struct{}
	if len(only) > 0 {
		keep = make(map[string]struct{}, len(only))
		for _, name := range only {
			keep[name] = struct{}{}
		}
	}

	cols := columnsOf(rv.Type())
	res := make(map[string]any, len(cols))
	for _, c := range cols {
		if keep != nil {
			if _, ok := keep[c.name]; !ok {
				continue
			}
		}
		res[c.name] = rv.FieldByIndex(c.index).Interface()
	}
	return res
}
