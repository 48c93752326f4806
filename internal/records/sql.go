package records

import (
	"fmt"
	"sort"
	"strings"
)

// The builders below produce parameterized SQL against a table spec.  Every
// column name is validated against the spec before it reaches the query
// text, so caller-supplied maps cannot inject SQL.

// HasColumn reports whether the spec contains the named column.
func (s Spec) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}
	return false
}

func (s Spec) checkColumns(names []string) error {
	for _, n := range names {
		if !s.HasColumn(n) {
			return fmt.Errorf("table %s has no column %q", s.Name, n)
		}
	}
	return nil
}

// sortedKeys returns the map's keys in deterministic order.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isKeyColumn(s Spec, name string) bool {
	for _, k := range s.Key {
		if k == name {
			return true
		}
	}
	return false
}

// UpsertSQL builds an insert-with-replace statement: rows are inserted, and
// a conflict on the spec's key columns updates the non-key columns instead.
// This is what gives sync batches their idempotency.
func UpsertSQL(s Spec, values map[string]interface{}) (string, []interface{}, error) {
	if len(values) == 0 {
		return "", nil, fmt.Errorf("upsert into %s: no values", s.Name)
	}
	cols := sortedKeys(values)
	if err := s.checkColumns(cols); err != nil {
		return "", nil, err
	}

	placeholders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = values[c]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		s.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if len(s.Key) == 0 {
		return b.String(), args, nil
	}

	var updates []string
	for _, c := range cols {
		if !isKeyColumn(s, c) {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	if len(updates) == 0 {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", strings.Join(s.Key, ", "))
	} else {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s",
			strings.Join(s.Key, ", "), strings.Join(updates, ", "))
	}
	return b.String(), args, nil
}

// whereClause renders an equality filter over the given columns.  A nil
// filter value matches SQL NULL.  Placeholder numbering starts at from.
func whereClause(s Spec, filter map[string]interface{}, from int) (string, []interface{}, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	cols := sortedKeys(filter)
	if err := s.checkColumns(cols); err != nil {
		return "", nil, err
	}

	var conds []string
	var args []interface{}
	n := from
	for _, c := range cols {
		if filter[c] == nil {
			conds = append(conds, fmt.Sprintf("%s IS NULL", c))
			continue
		}
		conds = append(conds, fmt.Sprintf("%s = $%d", c, n))
		args = append(args, filter[c])
		n++
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// SelectSQL builds a read query.  An empty projection selects every column
// in schema order.  orderBy must name a spec column ("" for no ordering);
// limit <= 0 means no LIMIT clause.
func SelectSQL(s Spec, projection []string, filter map[string]interface{}, orderBy string, desc bool, limit, offset int) (string, []interface{}, error) {
	if len(projection) == 0 {
		projection = s.Columns
	} else if err := s.checkColumns(projection); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(projection, ", "), s.Name)

	where, args, err := whereClause(s, filter, 1)
	if err != nil {
		return "", nil, err
	}
	b.WriteString(where)

	if orderBy != "" {
		if !s.HasColumn(orderBy) {
			return "", nil, fmt.Errorf("table %s has no column %q", s.Name, orderBy)
		}
		fmt.Fprintf(&b, " ORDER BY %s", orderBy)
		if desc {
			b.WriteString(" DESC")
		}
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, limit, offset)
	}
	return b.String(), args, nil
}

// UpdateSQL builds an update of the given values over the rows matching the
// equality filter.
func UpdateSQL(s Spec, values, filter map[string]interface{}) (string, []interface{}, error) {
	if len(values) == 0 {
		return "", nil, fmt.Errorf("update %s: no values", s.Name)
	}
	cols := sortedKeys(values)
	if err := s.checkColumns(cols); err != nil {
		return "", nil, err
	}

	var sets []string
	var args []interface{}
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+1))
		args = append(args, values[c])
	}

	where, whereArgs, err := whereClause(s, filter, len(args)+1)
	if err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf("UPDATE %s SET %s%s", s.Name, strings.Join(sets, ", "), where)
	return sql, append(args, whereArgs...), nil
}

// DeleteSQL builds a delete of the rows matching the equality filter.  An
// empty filter deletes every row in the table.
func DeleteSQL(s Spec, filter map[string]interface{}) (string, []interface{}, error) {
	where, args, err := whereClause(s, filter, 1)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s%s", s.Name, where), args, nil
}
