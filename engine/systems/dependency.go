package systems

import (
	"sort"

	"github.com/spaghettifunk/anima-srbc/engine/core"
)

type nameSet map[string]struct{}

func (s nameSet) sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

/**
 * @brief Resource dependencies as two parallel adjacency maps. Always a DAG:
 * edges that would close a cycle are refused.
 */
type DependencyGraph struct {
	dependencies map[string]nameSet
	dependents   map[string]nameSet
}

func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		dependencies: make(map[string]nameSet),
		dependents:   make(map[string]nameSet),
	}
}

// AddEdge records that dependent depends on dependency.
func (g *DependencyGraph) AddEdge(dependent, dependency string) error {
	if dependent == dependency || g.reaches(dependency, dependent) {
		return &core.CycleError{Dependent: dependent, Dependency: dependency}
	}
	if g.dependencies[dependent] == nil {
		g.dependencies[dependent] = nameSet{}
	}
	if g.dependents[dependency] == nil {
		g.dependents[dependency] = nameSet{}
	}
	g.dependencies[dependent][dependency] = struct{}{}
	g.dependents[dependency][dependent] = struct{}{}
	return nil
}

// reaches runs a DFS along dependency edges from 'from' looking for 'to'.
func (g *DependencyGraph) reaches(from, to string) bool {
	visited := nameSet{}
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if _, ok := visited[n]; ok {
			continue
		}
		visited[n] = struct{}{}
		for d := range g.dependencies[n] {
			stack = append(stack, d)
		}
	}
	return false
}

func (g *DependencyGraph) RemoveEdge(dependent, dependency string) {
	delete(g.dependencies[dependent], dependency)
	delete(g.dependents[dependency], dependent)
}

// RemoveNode drops name and every edge touching it.
func (g *DependencyGraph) RemoveNode(name string) {
	for d := range g.dependencies[name] {
		delete(g.dependents[d], name)
	}
	for d := range g.dependents[name] {
		delete(g.dependencies[d], name)
	}
	delete(g.dependencies, name)
	delete(g.dependents, name)
}

func (g *DependencyGraph) Dependencies(name string) []string {
	return g.dependencies[name].sorted()
}

func (g *DependencyGraph) Dependents(name string) []string {
	return g.dependents[name].sorted()
}

func (g *DependencyGraph) DependsOn(dependent, dependency string) bool {
	_, ok := g.dependencies[dependent][dependency]
	return ok
}

// HasCycle checks the whole graph.
func (g *DependencyGraph) HasCycle() bool {
	const (
		white = iota
		grey
		black
	)
	color := map[string]int{}
	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = grey
		for d := range g.dependencies[n] {
			switch color[d] {
			case grey:
				return true
			case white:
				if visit(d) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	for n := range g.dependencies {
		if color[n] == white && visit(n) {
			return true
		}
	}
	return false
}

// Edges returns every (dependent, dependency) pair in a stable order.
func (g *DependencyGraph) Edges() [][2]string {
	out := [][2]string{}
	names := make([]string, 0, len(g.dependencies))
	for n := range g.dependencies {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		for _, d := range g.dependencies[n].sorted() {
			out = append(out, [2]string{n, d})
		}
	}
	return out
}

func (g *DependencyGraph) Clear() {
	g.dependencies = make(map[string]nameSet)
	g.dependents = make(map[string]nameSet)
}
