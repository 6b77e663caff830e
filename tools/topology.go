// Package tools provides diagnostics over a live propagation graph:
// a reachability walk, a YAML topology export, and a Mermaid
// renderer.  Everything here is read-only and emits source text; it
// never mutates the graph it inspects.
package tools

import (
	"gopkg.in/yaml.v2"

	"github.com/runnel/runnel/graph"
	"github.com/runnel/runnel/lock"
)

// NodeReport describes one node of the topology.
type NodeReport struct {
	Id          string       `yaml:"id"`
	Description string       `yaml:"description,omitempty"`
	State       string       `yaml:"state"`
	QueueDepth  int          `yaml:"queueDepth"`
	Permanent   bool         `yaml:"permanent,omitempty"`
	Grounded    bool         `yaml:"grounded,omitempty"`
	Edges       []EdgeReport `yaml:"edges,omitempty"`
}

// EdgeReport describes one outgoing edge.
type EdgeReport struct {
	Description string `yaml:"description,omitempty"`
	Style       string `yaml:"style"`

	// To is the destination node's id, or empty for a terminal.
	To string `yaml:"to,omitempty"`

	// Terminal is the destination's description when the edge
	// ends in a terminal propagator.
	Terminal string `yaml:"terminal,omitempty"`
}

// Topology is a snapshot of every node reachable from some roots.
type Topology struct {
	Nodes []NodeReport `yaml:"nodes"`
}

// Walk collects every node reachable from the given roots by
// following edges.  Nodes come back in depth-first pre-order from the
// roots, so two walks of the same quiet graph are identical.
func Walk(roots ...*graph.Node) *Topology {
	seen := map[string]bool{}
	var ordered []*graph.Node

	var visit func(n *graph.Node)
	visit = func(n *graph.Node) {
		if n == nil || seen[n.Id()] {
			return
		}
		seen[n.Id()] = true
		ordered = append(ordered, n)
		for _, e := range n.Edges() {
			if dst, is := e.Destination.(*graph.Node); is {
				visit(dst)
			}
		}
	}
	for _, r := range roots {
		visit(r)
	}

	t := &Topology{
		Nodes: make([]NodeReport, 0, len(ordered)),
	}
	for _, n := range ordered {
		nr := NodeReport{
			Id:          n.Id(),
			Description: n.Description(),
			State:       n.State().String(),
			QueueDepth:  n.QueueDepth(),
			Permanent:   n.Permanent(),
			Grounded:    n.Grounded(),
		}
		for _, e := range n.Edges() {
			er := EdgeReport{
				Description: e.Description,
				Style:       e.Style.String(),
			}
			if dst, is := e.Destination.(*graph.Node); is {
				er.To = dst.Id()
			} else {
				er.Terminal = e.Destination.Description()
			}
			nr.Edges = append(nr.Edges, er)
		}
		t.Nodes = append(t.Nodes, nr)
	}
	return t
}

// Freeze walks the subgraph reachable from roots, then holds every
// reachable node's lock (acquired in the canonical bulk order, so
// concurrent freezes cannot deadlock) while f runs, which keeps state
// transitions and edge changes out of the sampling window.  f gets
// the walked topology and must not itself touch the frozen nodes.
func Freeze(f func(*Topology), roots ...*graph.Node) {
	t := Walk(roots...)

	seen := map[string]bool{}
	var locks []*lock.Lock
	var visit func(n *graph.Node)
	visit = func(n *graph.Node) {
		if n == nil || seen[n.Id()] {
			return
		}
		seen[n.Id()] = true
		locks = append(locks, n.Lock())
		for _, e := range n.Edges() {
			if dst, is := e.Destination.(*graph.Node); is {
				visit(dst)
			}
		}
	}
	for _, r := range roots {
		visit(r)
	}

	release := lock.AcquireAll(false, locks...)
	defer release()
	f(t)
}

// YAML renders the topology as a YAML document.
func (t *Topology) YAML() ([]byte, error) {
	return yaml.Marshal(t)
}
