package tools

// Paste the output into https://mermaid.live to see the graph.

import (
	"fmt"
	"io"
	"strings"

	"github.com/runnel/runnel/graph"
)

// MermaidOpts configures the renderer.
type MermaidOpts struct {
	// ShowState appends each node's lifecycle state to its label.
	ShowState bool

	// ShowQueueDepth appends each node's buffered message count.
	ShowQueueDepth bool
}

// Mermaid renders the subgraph reachable from roots as a Mermaid
// flowchart.
func Mermaid(w io.Writer, opts *MermaidOpts, roots ...*graph.Node) error {
	if opts == nil {
		opts = &MermaidOpts{
			ShowState: true,
		}
	}

	t := Walk(roots...)

	if _, err := fmt.Fprintf(w, "graph TB\n"); err != nil {
		return err
	}

	nids := make(map[string]string, len(t.Nodes))
	num := 0
	id := func(key string) string {
		if nid, have := nids[key]; have {
			return nid
		}
		num++
		nid := fmt.Sprintf("n%d", num)
		nids[key] = nid
		return nid
	}

	for _, n := range t.Nodes {
		label := n.Description
		if label == "" {
			label = n.Id[:8]
		}
		if opts.ShowState {
			label += " (" + n.State + ")"
		}
		if opts.ShowQueueDepth {
			label += fmt.Sprintf(" [%d]", n.QueueDepth)
		}
		if _, err := fmt.Fprintf(w, "  %s(\"%s\")\n", id(n.Id), escape(label)); err != nil {
			return err
		}
	}

	terminals := 0
	for _, n := range t.Nodes {
		for _, e := range n.Edges {
			to := ""
			if e.To != "" {
				to = id(e.To)
			} else {
				terminals++
				to = fmt.Sprintf("t%d", terminals)
				label := e.Terminal
				if label == "" {
					label = "terminal"
				}
				if _, err := fmt.Fprintf(w, "  %s[\"%s\"]\n", to, escape(label)); err != nil {
					return err
				}
			}

			arrow := "-->"
			if e.Style == "tap" {
				arrow = "-.->"
			}
			label := ""
			if e.Description != "" {
				label = fmt.Sprintf("|%s|", escape(e.Description))
			}
			if _, err := fmt.Fprintf(w, "  %s %s%s %s\n", id(n.Id), arrow, label, to); err != nil {
				return err
			}
		}
	}

	return nil
}

func escape(s string) string {
	return strings.Replace(s, `"`, `'`, -1)
}
