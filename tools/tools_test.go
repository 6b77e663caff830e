package tools

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnel/runnel/graph"
)

// buildGraph wires a small fixed topology:
//
//	source --map--> map --sink--> (terminal)
//	source -.watch.-> tap
func buildGraph() (src, mapN, tapN *graph.Node) {
	src = graph.NewNode(&graph.NodeOptions{Description: "source"})
	mapN = graph.NewNode(&graph.NodeOptions{Description: "map"})
	tapN = graph.NewNode(&graph.NodeOptions{Description: "tap"})

	src.Link(&graph.Edge{Description: "map", Style: graph.Standard, Destination: mapN}, true)
	src.Link(&graph.Edge{Description: "watch", Style: graph.Tap, Destination: tapN}, false)

	sink := graph.NewTerminal("sink", func(interface{}) interface{} { return nil })
	mapN.Link(&graph.Edge{Description: "sink", Style: graph.Standard, Destination: sink}, true)
	return
}

func TestWalk(t *testing.T) {
	src, mapN, tapN := buildGraph()

	topo := Walk(src)
	require.Len(t, topo.Nodes, 3)

	// Depth-first pre-order from the root.
	assert.Equal(t, "source", topo.Nodes[0].Description)
	assert.Equal(t, "map", topo.Nodes[1].Description)
	assert.Equal(t, "tap", topo.Nodes[2].Description)

	assert.Equal(t, "split", topo.Nodes[0].State)
	require.Len(t, topo.Nodes[0].Edges, 2)
	assert.Equal(t, mapN.Id(), topo.Nodes[0].Edges[0].To)
	assert.Equal(t, "tap", topo.Nodes[0].Edges[1].Style)
	assert.Equal(t, tapN.Id(), topo.Nodes[0].Edges[1].To)

	require.Len(t, topo.Nodes[1].Edges, 1)
	assert.Equal(t, "sink", topo.Nodes[1].Edges[0].Terminal)
	assert.Empty(t, topo.Nodes[1].Edges[0].To)
}

func TestWalkSharedSubgraph(t *testing.T) {
	a := graph.NewNode(&graph.NodeOptions{Description: "a"})
	b := graph.NewNode(&graph.NodeOptions{Description: "b"})
	shared := graph.NewNode(&graph.NodeOptions{Description: "shared"})
	a.Link(graph.NewEdge("a->s", shared), true)
	b.Link(graph.NewEdge("b->s", shared), true)

	topo := Walk(a, b)
	assert.Len(t, topo.Nodes, 3, "shared node reported twice")
}

func TestYAML(t *testing.T) {
	src, _, _ := buildGraph()

	bs, err := Walk(src).YAML()
	require.NoError(t, err)

	s := string(bs)
	assert.Contains(t, s, "description: source")
	assert.Contains(t, s, "style: tap")
	assert.Contains(t, s, "terminal: sink")
}

func TestMermaidGolden(t *testing.T) {
	src, _, _ := buildGraph()

	var buf bytes.Buffer
	require.NoError(t, Mermaid(&buf, nil, src))

	g := goldie.New(t)
	g.Assert(t, "mermaid", buf.Bytes())
}

func TestMermaidQueueDepth(t *testing.T) {
	n := graph.NewNode(&graph.NodeOptions{Description: "buffering"})
	n.Propagate("m", true)

	var buf bytes.Buffer
	require.NoError(t, Mermaid(&buf, &MermaidOpts{ShowQueueDepth: true}, n))
	assert.True(t, strings.Contains(buf.String(), "buffering [1]"), buf.String())
}

func TestFreeze(t *testing.T) {
	src, _, _ := buildGraph()

	ran := false
	Freeze(func(topo *Topology) {
		ran = true
		assert.Len(t, topo.Nodes, 3)
	}, src)
	require.True(t, ran)

	// The graph is usable again after the freeze.
	src.Propagate("m", true)
}
