package graph

import "sort"

// PortRef names one port for reporting.
type PortRef struct {
	Node      NodeID    `json:"node"`
	NodeName  string    `json:"node_name"`
	Port      string    `json:"port"`
	Direction Direction `json:"direction"`
	Kind      Kind      `json:"kind"`
	Required  bool      `json:"required"`
}

// Analysis summarizes the connectivity of a graph.
type Analysis struct {
	// ConnectedComponents groups node ids that are linked by any edge,
	// ignoring direction. Each group is sorted, groups by first id.
	ConnectedComponents [][]NodeID `json:"connected_components"`
	// DisconnectedNodes have no edge at all.
	DisconnectedNodes []NodeID `json:"disconnected_nodes"`
	// OrphanedPorts have no edge. Required ones make the graph invalid.
	OrphanedPorts []PortRef `json:"orphaned_ports"`
	// Status is "healthy" or "warnings".
	Status string `json:"status"`
}

// Analyze reports connected components and orphaned ports.
func (g *Graph) Analyze() *Analysis {
	a := &Analysis{
		ConnectedComponents: [][]NodeID{},
		DisconnectedNodes:   []NodeID{},
		OrphanedPorts:       []PortRef{},
		Status:              "healthy",
	}

	adj := make(map[NodeID][]NodeID)
	used := make(map[Endpoint]map[Direction]bool)
	mark := func(ep Endpoint, dir Direction) {
		if used[ep] == nil {
			used[ep] = make(map[Direction]bool)
		}
		used[ep][dir] = true
	}
	for _, e := range g.edges {
		adj[e.Src.Node] = append(adj[e.Src.Node], e.Dst.Node)
		adj[e.Dst.Node] = append(adj[e.Dst.Node], e.Src.Node)
		mark(e.Src, DirectionOutput)
		mark(e.Dst, DirectionInput)
	}

	visited := make(map[NodeID]bool)
	for _, n := range g.nodes {
		if visited[n.ID()] {
			continue
		}
		var cluster []NodeID
		stack := []NodeID{n.ID()}
		visited[n.ID()] = true
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cluster = append(cluster, id)
			for _, nb := range adj[id] {
				if !visited[nb] {
					visited[nb] = true
					stack = append(stack, nb)
				}
			}
		}
		sort.Slice(cluster, func(i, j int) bool { return cluster[i] < cluster[j] })
		a.ConnectedComponents = append(a.ConnectedComponents, cluster)

		if len(adj[n.ID()]) == 0 {
			a.DisconnectedNodes = append(a.DisconnectedNodes, n.ID())
		}
	}
	sort.Slice(a.ConnectedComponents, func(i, j int) bool {
		return a.ConnectedComponents[i][0] < a.ConnectedComponents[j][0]
	})

	for _, n := range g.nodes {
		for _, dir := range []Direction{DirectionInput, DirectionOutput} {
			for _, p := range ports(n, dir) {
				if used[Endpoint{Node: n.ID(), Port: p.Index}][dir] {
					continue
				}
				a.OrphanedPorts = append(a.OrphanedPorts, PortRef{
					Node: n.ID(), NodeName: n.Name(), Port: p.Name,
					Direction: dir, Kind: p.Kind, Required: p.MinEdges > 0,
				})
				if p.MinEdges > 0 {
					a.Status = "warnings"
				}
			}
		}
	}
	if len(a.DisconnectedNodes) > 0 {
		a.Status = "warnings"
	}
	return a
}
