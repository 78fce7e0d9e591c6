// Package graph is the topology model of a flow: nodes with ordered typed
// ports, edges between an output port and an input port, and composite nodes
// that wrap an inner graph behind boundary ports.
//
// Graphs are arenas. Nodes are stored once and addressed by NodeID, edges by
// their index. Connect validates port kind, item size and multiplicity at
// call time; Flatten expands composites and checks that every mandatory
// port has its minimum number of edges.
//
//	g := graph.New()
//	if _, err := g.Connect(src, "out", sink, "in"); err != nil {
//		return err
//	}
//	flat, err := g.Flatten()
package graph
