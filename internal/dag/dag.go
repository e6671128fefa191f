// Package dag holds the dependency graph the workflow builder produces and
// the executor walks. Edges are explicit and typed: each one records which
// consumer input slot is bound to which producer output slot.
package dag

import (
	"fmt"
	"sort"
	"sync"
)

// Edge binds a consumer's input slot to a producer's output slot.
type Edge struct {
	Consumer   string
	InputSlot  string
	Producer   string
	OutputSlot string
}

type node struct {
	id         string
	deps       map[string]*node
	dependents map[string]*node
}

// Graph is a directed acyclic dependency graph keyed by task name.
type Graph struct {
	mutex sync.RWMutex
	nodes map[string]*node
	edges []Edge
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// AddNode adds a new node with the given ID to the graph. If a node with
// the same ID already exists, the function does nothing.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &node{
		id:         id,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
}

// AddEdge records a typed edge from producer to consumer. An error is
// returned if either endpoint does not exist or the edge is self-referential.
func (g *Graph) AddEdge(e Edge) error {
	if e.Producer == e.Consumer {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", e.Producer, e.Consumer)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	producer, ok := g.nodes[e.Producer]
	if !ok {
		return fmt.Errorf("producer node not found: %s", e.Producer)
	}
	consumer, ok := g.nodes[e.Consumer]
	if !ok {
		return fmt.Errorf("consumer node not found: %s", e.Consumer)
	}

	consumer.deps[e.Producer] = producer
	producer.dependents[e.Consumer] = consumer
	g.edges = append(g.edges, e)
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// Nodes returns all node IDs in sorted order.
func (g *Graph) Nodes() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Edges returns a copy of the typed edge list.
func (g *Graph) Edges() []Edge {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return append([]Edge(nil), g.edges...)
}

// Dependencies returns the sorted IDs of nodes the given node depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	deps := make([]string, 0, len(n.deps))
	for depID := range n.deps {
		deps = append(deps, depID)
	}
	sort.Strings(deps)
	return deps, nil
}

// Dependents returns the sorted IDs of nodes that depend on the given node.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	dependents := make([]string, 0, len(n.dependents))
	for depID := range n.dependents {
		dependents = append(dependents, depID)
	}
	sort.Strings(dependents)
	return dependents, nil
}

// Terminals returns the sorted IDs of nodes with no in-run consumer. These
// are the run's build targets.
func (g *Graph) Terminals() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var terminals []string
	for id, n := range g.nodes {
		if len(n.dependents) == 0 {
			terminals = append(terminals, id)
		}
	}
	sort.Strings(terminals)
	return terminals
}

// DetectCycles checks the graph for cycles. It returns a non-nil error if a
// cycle is found, naming the first node involved in the detected cycle.
func (g *Graph) DetectCycles() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	// Classic depth-first search with three sets of nodes:
	// permanent: fully visited, known cycle-free.
	// temporary: currently on the recursion stack.
	// unvisited: everything else.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			return fmt.Errorf("cycle detected involving node '%s'", n.id)
		}

		temporary[n.id] = true
		for _, dependent := range n.dependents {
			if err := visit(dependent); err != nil {
				return err
			}
		}
		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	for _, n := range g.nodes {
		if !permanent[n.id] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}
