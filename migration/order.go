package migration

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyCycleError reports migrations that depend on each other. Cycle starts and ends with
// the same id.
type DependencyCycleError struct {
	Cycle []string
}

func (e *DependencyCycleError) Error() string {
	return "migration dependency cycle: " + strings.Join(e.Cycle, " -> ")
}

// MissingDependencyError reports a required dependency that is not defined.
type MissingDependencyError struct {
	Migration  string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("migration %s requires unknown migration %s", e.Migration, e.Dependency)
}

// Order returns defs sorted so that every migration comes after its dependencies. Optional
// dependencies are honored when they are part of defs. Among migrations that are ready at the
// same time the smallest id comes first, so the order is deterministic.
func Order(defs []Definition) ([]Definition, error) {
	levels, err := Levels(defs)
	if err != nil {
		return nil, err
	}
	ordered := make([]Definition, 0, len(defs))
	for _, level := range levels {
		ordered = append(ordered, level...)
	}

	return ordered, nil
}

// Levels groups defs so that every migration only depends on migrations of earlier levels.
// Migrations of the same level are independent of each other.
func Levels(defs []Definition) ([][]Definition, error) {
	sorted := append([]Definition(nil), defs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	index := make(map[string]int, len(sorted))
	for i, d := range sorted {
		if _, dup := index[d.ID]; dup {
			return nil, fmt.Errorf("duplicate migration id %s", d.ID)
		}
		index[d.ID] = i
	}

	n := len(sorted)
	indeg := make([]int, n)
	out := make([][]int, n)
	deps := make([][]int, n)
	for i, d := range sorted {
		for _, dep := range d.Dependencies.Required {
			j, ok := index[dep]
			if !ok {
				return nil, &MissingDependencyError{Migration: d.ID, Dependency: dep}
			}
			deps[i] = append(deps[i], j)
		}
		for _, dep := range d.Dependencies.Optional {
			if j, ok := index[dep]; ok {
				deps[i] = append(deps[i], j)
			}
		}
		for _, j := range deps[i] {
			indeg[i]++
			out[j] = append(out[j], i)
		}
	}

	var levels [][]Definition
	var ready []int
	for i := range n {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	done := 0
	for len(ready) > 0 {
		level := make([]Definition, 0, len(ready))
		var next []int
		for _, i := range ready {
			level = append(level, sorted[i])
			done++
			for _, j := range out[i] {
				indeg[j]--
				if indeg[j] == 0 {
					next = append(next, j)
				}
			}
		}
		sort.Ints(next)
		levels = append(levels, level)
		ready = next
	}

	if done != n {
		return nil, &DependencyCycleError{Cycle: findCycle(sorted, deps, indeg)}
	}

	return levels, nil
}

// findCycle walks dependencies from the smallest unresolved migration. Every unresolved
// migration has an unresolved dependency, so the walk ends on a repeated id.
func findCycle(sorted []Definition, deps [][]int, indeg []int) []string {
	start := -1
	for i := range sorted {
		if indeg[i] > 0 {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	pos := make(map[int]int)
	var path []int
	for i := start; ; {
		if p, ok := pos[i]; ok {
			cycle := make([]string, 0, len(path)-p+1)
			for _, k := range path[p:] {
				cycle = append(cycle, sorted[k].ID)
			}

			return append(cycle, sorted[i].ID)
		}
		pos[i] = len(path)
		path = append(path, i)
		for _, j := range deps[i] {
			if indeg[j] > 0 {
				i = j
				break
			}
		}
	}
}
