package relay

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// GlobFilter matches records on database and table glob patterns. Matching
// is case-insensitive since server object names are usually upper case.
// An empty pattern list matches everything.
type GlobFilter struct {
	tables    []glob.Glob
	databases []glob.Glob
}

func NewGlobFilter(tablePatterns, dbPatterns []string) (*GlobFilter, error) {
	tables, err := compileGlobs("table", tablePatterns)
	if err != nil {
		return nil, err
	}
	databases, err := compileGlobs("database", dbPatterns)
	if err != nil {
		return nil, err
	}
	return &GlobFilter{tables: tables, databases: databases}, nil
}

func compileGlobs(kind string, patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(globs []glob.Glob, s string) bool {
	if len(globs) == 0 {
		return true
	}
	s = strings.ToLower(s)
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// Match reports whether both database and table pass their patterns
func (f *GlobFilter) Match(database, table string) bool {
	return matchAny(f.databases, database) && matchAny(f.tables, table)
}
