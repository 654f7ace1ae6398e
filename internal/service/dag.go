package service

import (
	"fmt"
	"sort"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
)

// StageGraph holds the stage dependency graph of a pipeline.
type StageGraph struct {
	stages  map[core.StageID]struct{}
	edges   map[core.StageID][]core.StageID // stage -> dependencies
	reverse map[core.StageID][]core.StageID // stage -> dependents
}

// NewStageGraph creates an empty graph.
func NewStageGraph() *StageGraph {
	return &StageGraph{
		stages:  make(map[core.StageID]struct{}),
		edges:   make(map[core.StageID][]core.StageID),
		reverse: make(map[core.StageID][]core.StageID),
	}
}

// AddStage adds a stage node.
func (g *StageGraph) AddStage(id core.StageID) error {
	if _, exists := g.stages[id]; exists {
		return core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("stage %s declared twice", id))
	}
	g.stages[id] = struct{}{}
	return nil
}

// AddDependency records that from runs after to.
func (g *StageGraph) AddDependency(from, to core.StageID) error {
	if _, ok := g.stages[from]; !ok {
		return core.ErrValidation(core.CodeUnknownStage, fmt.Sprintf("stage %s not found", from))
	}
	if _, ok := g.stages[to]; !ok {
		return core.ErrValidation(core.CodeUnknownStage, fmt.Sprintf("stage %s depends on unknown stage %s", from, to))
	}
	for _, dep := range g.edges[from] {
		if dep == to {
			return nil
		}
	}
	g.edges[from] = append(g.edges[from], to)
	g.reverse[to] = append(g.reverse[to], from)
	return nil
}

// StagePlan is a validated, leveled graph. Stages in the same level have no
// dependencies on each other and run concurrently.
type StagePlan struct {
	Order        []core.StageID
	Levels       [][]core.StageID
	Dependencies map[core.StageID][]core.StageID
}

// DependsOn returns the dependencies of a stage.
func (p *StagePlan) DependsOn(id core.StageID) []core.StageID {
	return p.Dependencies[id]
}

// Build checks the graph for cycles and groups it into levels.
func (g *StageGraph) Build() (*StagePlan, error) {
	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}

	deps := make(map[core.StageID][]core.StageID, len(g.stages))
	for id := range g.stages {
		deps[id] = append([]core.StageID{}, g.edges[id]...)
	}

	return &StagePlan{
		Order:        order,
		Levels:       g.levels(),
		Dependencies: deps,
	}, nil
}

func (g *StageGraph) sortedStages() []core.StageID {
	ids := make([]core.StageID, 0, len(g.stages))
	for id := range g.stages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// topologicalSort orders stages with Kahn's algorithm. Ties break by name so
// the order is stable across runs.
func (g *StageGraph) topologicalSort() ([]core.StageID, error) {
	inDegree := make(map[core.StageID]int, len(g.stages))
	queue := make([]core.StageID, 0)
	for _, id := range g.sortedStages() {
		inDegree[id] = len(g.edges[id])
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]core.StageID, 0, len(g.stages))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		dependents := append([]core.StageID{}, g.reverse[current]...)
		sort.Slice(dependents, func(i, j int) bool { return dependents[i] < dependents[j] })
		for _, d := range dependents {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if len(order) != len(g.stages) {
		return nil, core.ErrValidation(core.CodeDAGCycle, "stage dependency graph contains a cycle")
	}
	return order, nil
}

// levels groups stages so every stage sits one level after its deepest
// dependency. Only called on acyclic graphs.
func (g *StageGraph) levels() [][]core.StageID {
	if len(g.stages) == 0 {
		return nil
	}

	var out [][]core.StageID
	assigned := make(map[core.StageID]bool, len(g.stages))
	ids := g.sortedStages()

	for len(assigned) < len(ids) {
		var level []core.StageID
		for _, id := range ids {
			if assigned[id] {
				continue
			}
			ready := true
			for _, dep := range g.edges[id] {
				if !assigned[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, id)
			}
		}
		for _, id := range level {
			assigned[id] = true
		}
		out = append(out, level)
	}
	return out
}
