package emulator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var errNotAQuery = errors.New("statement modifies data")

// discoverReadSet returns the tables stmt reads, from the OpenRead cursors of
// its compiled program. Index cursors resolve to their table.
func discoverReadSet(ctx context.Context, conn *sql.Conn, stmt string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, "EXPLAIN "+stmt)
	if err != nil {
		return nil, err
	}

	roots := make(map[int64]struct{})
	writes := false
	for rows.Next() {
		var (
			addr           int64
			opcode         string
			p1, p2, p3, p5 sql.NullInt64
			p4, comment    sql.NullString
		)
		if err := rows.Scan(&addr, &opcode, &p1, &p2, &p3, &p4, &p5, &comment); err != nil {
			rows.Close()
			return nil, err
		}
		switch opcode {
		case "OpenRead":
			// p3 is the schema number, 0 = main
			if p3.Int64 == 0 && p2.Valid {
				roots[p2.Int64] = struct{}{}
			}
		case "OpenWrite":
			writes = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if writes {
		return nil, errNotAQuery
	}
	if len(roots) == 0 {
		return nil, nil
	}

	master, err := conn.QueryContext(ctx, "SELECT tbl_name, rootpage FROM sqlite_master WHERE rootpage > 0")
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	defer master.Close()

	seen := make(map[string]struct{})
	var tables []string
	for master.Next() {
		var name string
		var root int64
		if err := master.Scan(&name, &root); err != nil {
			return nil, err
		}
		if _, ok := roots[root]; !ok || strings.HasPrefix(name, internalTablePrefix) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		tables = append(tables, name)
	}
	if err := master.Err(); err != nil {
		return nil, err
	}
	sort.Strings(tables)
	return tables, nil
}
