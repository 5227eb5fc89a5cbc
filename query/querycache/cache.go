package querycache

import "fmt"

// Lineage flattens a table/column lineage map into cache-storable form.
func Lineage(table, column string) string { return table + "." + column }

// SplitLineage parses a Lineage-encoded string back into table/column.
func SplitLineage(s string) (table, column string, err error) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("querycache: malformed lineage key %q", s)
}
