package engine

import (
	"fmt"
	"sort"
	"strings"
)

// NodeKind classifies execution graph nodes.
type NodeKind string

const (
	NodePhaseStep     NodeKind = "phase_step"
	NodePhase         NodeKind = "phase"
	NodeRollbackPhase NodeKind = "rollback_phase"
)

// EdgeKind classifies execution graph edges.
type EdgeKind string

const (
	// EdgeNext connects a state to the one that runs after it succeeds.
	EdgeNext EdgeKind = "next"

	// EdgeFailure connects a forward state to the rollback that undoes it.
	EdgeFailure EdgeKind = "on_failure"

	// EdgeRollbackChain connects a rollback phase to the rollback that follows it.
	EdgeRollbackChain EdgeKind = "rollback_chain"
)

// GraphNode is a top-level state of a workflow execution.
type GraphNode struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Kind         NodeKind `json:"kind"`
	Level        int      `json:"level"`
	Dependencies []string `json:"dependencies,omitempty"`
	Dependents   []string `json:"dependents,omitempty"`
}

// GraphEdge is a transition between two nodes.
type GraphEdge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// ExecutionGraph is the transition graph of a workflow, including rollback paths.
type ExecutionGraph struct {
	Nodes  map[string]*GraphNode `json:"nodes"`
	Edges  []GraphEdge           `json:"edges"`
	Roots  []string              `json:"roots"`
	Levels [][]string            `json:"levels"`
}

type graphBuilder struct {
	graph     *ExecutionGraph
	adjacency map[string][]string
	inDegree  map[string]int
	order     []string
}

// BuildExecutionGraph derives the execution graph of a workflow. The forward
// path runs pre-deployment, every phase in order, then post-deployment. Each
// forward phase fails over to its rollback phase, and rollback phases chain
// back towards the first phase.
func BuildExecutionGraph(wf *OrchestrationWorkflow) (*ExecutionGraph, error) {
	if wf == nil {
		return nil, NewPermanentError("workflow is required", nil).WithCode(ErrCodeValidation)
	}
	b := &graphBuilder{
		graph: &ExecutionGraph{
			Nodes:  make(map[string]*GraphNode),
			Edges:  make([]GraphEdge, 0),
			Roots:  make([]string, 0),
			Levels: make([][]string, 0),
		},
		adjacency: make(map[string][]string),
		inDegree:  make(map[string]int),
	}

	prev := ""
	if ps := wf.PreDeploymentSteps; ps != nil {
		b.addNode(ps.ID, ps.Name, NodePhaseStep)
		prev = ps.ID
	}
	if ps := wf.RollbackProvisioners; ps != nil && wf.PreDeploymentSteps != nil {
		b.addNode(ps.ID, ps.Name, NodePhaseStep)
		b.addEdge(wf.PreDeploymentSteps.ID, ps.ID, EdgeFailure)
	}

	var prevRollback string
	for _, p := range wf.Phases {
		b.addNode(p.ID, p.Name, NodePhase)
		if prev != "" {
			b.addEdge(prev, p.ID, EdgeNext)
		}
		prev = p.ID

		rb, err := wf.RollbackPhaseFor(p.ID)
		if err != nil {
			return nil, err
		}
		b.addNode(rb.ID, rb.Name, NodeRollbackPhase)
		b.addEdge(p.ID, rb.ID, EdgeFailure)
		if prevRollback != "" {
			b.addEdge(rb.ID, prevRollback, EdgeRollbackChain)
		}
		prevRollback = rb.ID
	}

	if ps := wf.PostDeploymentSteps; ps != nil {
		b.addNode(ps.ID, ps.Name, NodePhaseStep)
		if prev != "" {
			b.addEdge(prev, ps.ID, EdgeNext)
		}
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeLevels(); err != nil {
		return nil, err
	}
	return b.graph, nil
}

func (b *graphBuilder) addNode(id, name string, kind NodeKind) {
	if _, ok := b.graph.Nodes[id]; ok {
		return
	}
	b.graph.Nodes[id] = &GraphNode{ID: id, Name: name, Kind: kind}
	b.inDegree[id] = 0
	b.order = append(b.order, id)
}

func (b *graphBuilder) addEdge(from, to string, kind EdgeKind) {
	b.graph.Edges = append(b.graph.Edges, GraphEdge{From: from, To: to, Kind: kind})
	b.adjacency[from] = append(b.adjacency[from], to)
	b.inDegree[to]++
	b.graph.Nodes[from].Dependents = append(b.graph.Nodes[from].Dependents, to)
	b.graph.Nodes[to].Dependencies = append(b.graph.Nodes[to].Dependencies, from)
}

// detectCycles runs a depth-first search over the transitions.
func (b *graphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string, path []string) []string
	visit = func(id string, path []string) []string {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)
		for _, next := range b.adjacency[id] {
			if !visited[next] {
				if cycle := visit(next, path); cycle != nil {
					return cycle
				}
			} else if onStack[next] {
				for i, p := range path {
					if p == next {
						return append(append([]string{}, path[i:]...), next)
					}
				}
			}
		}
		onStack[id] = false
		return nil
	}

	for _, id := range b.order {
		if visited[id] {
			continue
		}
		if cycle := visit(id, nil); cycle != nil {
			return NewInvariantError(
				fmt.Sprintf("cycle in execution graph: %s", strings.Join(cycle, " -> ")), nil,
			).WithOperation("build_graph")
		}
	}
	return nil
}

// computeLevels layers the nodes with Kahn's algorithm.
func (b *graphBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, d := range b.inDegree {
		inDegree[id] = d
	}

	var current []string
	for _, id := range b.order {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}
	b.graph.Roots = append(b.graph.Roots, current...)

	processed := 0
	for level := 0; len(current) > 0; level++ {
		sort.Strings(current)
		b.graph.Levels = append(b.graph.Levels, current)
		processed += len(current)

		var next []string
		for _, id := range current {
			b.graph.Nodes[id].Level = level
			for _, dep := range b.adjacency[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}

	if processed != len(b.graph.Nodes) {
		return NewInvariantError("execution graph levels do not cover every node", nil).
			WithOperation("build_graph")
	}
	return nil
}

// ToDOT renders the graph in Graphviz DOT format.
func (g *ExecutionGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph ExecutionGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.Levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			node := g.Nodes[id]
			sb.WriteString(fmt.Sprintf("    %q [label=%q, fillcolor=%q, style=\"filled,rounded\"];\n",
				id, node.Name, nodeColor(node.Kind)))
		}
		sb.WriteString("  }\n\n")
	}

	for _, e := range g.Edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n", e.From, e.To, edgeStyle(e.Kind)))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func nodeColor(kind NodeKind) string {
	switch kind {
	case NodePhase:
		return "lightblue"
	case NodeRollbackPhase:
		return "lightcoral"
	case NodePhaseStep:
		return "lightgray"
	default:
		return "white"
	}
}

func edgeStyle(kind EdgeKind) string {
	switch kind {
	case EdgeFailure:
		return "style=dashed, color=red"
	case EdgeRollbackChain:
		return "style=dotted, color=gray"
	default:
		return "style=solid, color=black"
	}
}
