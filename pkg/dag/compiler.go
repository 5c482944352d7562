// Package dag validates a workflow definition and compiles it into an
// executable dependency graph.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stagehq/stagehand/pkg/models"
)

// ValidationError reports a malformed stage graph. The run never starts.
type ValidationError struct {
	Workflow string
	Reason   string
	Stages   []string
}

func (e *ValidationError) Error() string {
	if len(e.Stages) > 0 {
		return fmt.Sprintf("workflow %q is invalid: %s (stages: %s)",
			e.Workflow, e.Reason, strings.Join(e.Stages, ", "))
	}

	return fmt.Sprintf("workflow %q is invalid: %s", e.Workflow, e.Reason)
}

// Node is one stage in the compiled graph with its adjacency resolved.
type Node struct {
	Stage        models.StageDefinition
	Predecessors []string
	Successors   []string
}

// Graph is a compiled, acyclic stage graph. Levels holds the stages grouped
// by dependency depth: every stage in a level only depends on stages in
// earlier levels, so an entire level can be dispatched concurrently.
type Graph struct {
	Workflow string
	Nodes    map[string]*Node
	Levels   [][]string
}

// Terminals returns the stages with no successors. Their results are the
// workflow result.
func (g *Graph) Terminals() []string {
	var terminals []string

	for _, level := range g.Levels {
		for _, name := range level {
			if len(g.Nodes[name].Successors) == 0 {
				terminals = append(terminals, name)
			}
		}
	}

	return terminals
}

// Compile validates the definition and builds the execution graph. It is a
// pure function over its input: no side effects, same graph for the same
// definition.
func Compile(definition *models.WorkflowDefinition) (*Graph, error) {
	nodes := make(map[string]*Node, len(definition.Stages))

	for _, stage := range definition.Stages {
		if _, exists := nodes[stage.Name]; exists {
			return nil, &ValidationError{
				Workflow: definition.Name,
				Reason:   "duplicate stage name",
				Stages:   []string{stage.Name},
			}
		}

		nodes[stage.Name] = &Node{Stage: stage, Predecessors: stage.DependsOn}
	}

	for name, node := range nodes {
		for _, dep := range node.Predecessors {
			depNode, ok := nodes[dep]
			if !ok {
				return nil, &ValidationError{
					Workflow: definition.Name,
					Reason:   fmt.Sprintf("stage %q depends on unknown stage %q", name, dep),
					Stages:   []string{name},
				}
			}

			depNode.Successors = append(depNode.Successors, name)
		}
	}

	levels, err := partitionLevels(definition.Name, nodes)
	if err != nil {
		return nil, err
	}

	return &Graph{
		Workflow: definition.Name,
		Nodes:    nodes,
		Levels:   levels,
	}, nil
}

// partitionLevels runs Kahn's algorithm, emitting the zero-indegree set at
// each step. Any nodes left unvisited when no zero-indegree stage remains
// are part of a cycle.
func partitionLevels(workflow string, nodes map[string]*Node) ([][]string, error) {
	indegree := make(map[string]int, len(nodes))
	for name, node := range nodes {
		indegree[name] = len(node.Predecessors)
	}

	var levels [][]string

	remaining := len(nodes)

	for remaining > 0 {
		var ready []string

		for name, degree := range indegree {
			if degree == 0 {
				ready = append(ready, name)
			}
		}

		if len(ready) == 0 {
			var cycle []string

			for name := range indegree {
				cycle = append(cycle, name)
			}

			sort.Strings(cycle)

			return nil, &ValidationError{
				Workflow: workflow,
				Reason:   "dependency cycle detected",
				Stages:   cycle,
			}
		}

		// Deterministic order within a level; siblings still run concurrently.
		sort.Slice(ready, func(i, j int) bool {
			a, b := nodes[ready[i]].Stage, nodes[ready[j]].Stage
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}

			return ready[i] < ready[j]
		})

		for _, name := range ready {
			delete(indegree, name)

			for _, succ := range nodes[name].Successors {
				indegree[succ]--
			}
		}

		levels = append(levels, ready)
		remaining -= len(ready)
	}

	return levels, nil
}
