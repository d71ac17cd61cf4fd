package report

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/anstrom/tracerama/internal/scanning"
)

const sourceNode = "source"

// RouteSVG renders the routes of results as one left-to-right graph. Hops
// shared by several routes collapse into a single node; hops without an
// address get a node per route and position.
func RouteSVG(results []*scanning.ScanResult) ([]byte, error) {
	ctx := context.Background()
	g, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create graphviz: %w", err)
	}
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return nil, fmt.Errorf("create graph: %w", err)
	}
	defer graph.Close()
	graph.SetRankDir(cgraph.LRRank)

	src, err := graph.CreateNodeByName(sourceNode)
	if err != nil {
		return nil, fmt.Errorf("create source node: %w", err)
	}
	src.SetShape(cgraph.BoxShape)
	src.SetLabel("this host")

	nodes := map[string]*cgraph.Node{sourceNode: src}
	edges := map[[2]string]bool{}

	for ri, r := range results {
		if r == nil || r.Failed() {
			continue
		}
		prev, prevName := src, sourceNode
		for _, h := range r.Hops {
			name := h.Address
			label := h.Address
			if name == "" {
				name = fmt.Sprintf("*%d.%d", ri, h.Number)
				label = "*"
			} else if h.Hostname != "" {
				label = h.Hostname + "\n" + h.Address
			}

			n, ok := nodes[name]
			if !ok {
				n, err = graph.CreateNodeByName(name)
				if err != nil {
					return nil, fmt.Errorf("create hop node: %w", err)
				}
				n.SetLabel(label)
				if h.Address == r.ResolvedAddress || h.Address == r.Target {
					n.SetShape(cgraph.DoubleCircleShape)
				}
				nodes[name] = n
			}

			pair := [2]string{prevName, name}
			if !edges[pair] {
				e, err := graph.CreateEdgeByName(fmt.Sprintf("%s->%s", prevName, name), prev, n)
				if err != nil {
					return nil, fmt.Errorf("create edge: %w", err)
				}
				if h.RTT.Valid {
					e.SetLabel(rttCell(h.RTT, "") + " ms")
				}
				edges[pair] = true
			}
			prev, prevName = n, name
		}
	}

	var buf bytes.Buffer
	if err := g.Render(ctx, graph, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render svg: %w", err)
	}
	return buf.Bytes(), nil
}
