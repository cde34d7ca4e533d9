// Package routes builds the set of routes a prerender run renders: the
// app shell, a static routes file and the routes the application reports
// about itself.
package routes

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cryguy/prerender/internal/core"
)

// Set is a deduplicated collection of routes, each with a leading slash.
type Set struct {
	m map[string]struct{}
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{m: make(map[string]struct{})}
}

// Add normalizes route and inserts it. Adding a route twice is a no-op.
func (s *Set) Add(route string) {
	s.m[core.NormalizeRoute(route)] = struct{}{}
}

// Has reports whether route, once normalized, is in the set.
func (s *Set) Has(route string) bool {
	_, ok := s.m[core.NormalizeRoute(route)]
	return ok
}

// Len returns the number of routes.
func (s *Set) Len() int { return len(s.m) }

// Sorted returns the routes in lexical order.
func (s *Set) Sorted() []string {
	out := make([]string, 0, len(s.m))
	for r := range s.m {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// ReadRoutesFile returns the non-blank lines of path, trimmed.
func ReadRoutesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading routes file: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading routes file: %w", err)
	}
	return out, nil
}
