package graph

import (
	"fmt"

	"github.com/c360/streamrt/errors"
)

// HasComposites reports whether any node is a *Composite.
func (g *Graph) HasComposites() bool {
	for _, n := range g.nodes {
		if _, ok := n.(*Composite); ok {
			return true
		}
	}
	return false
}

// Flatten returns a graph without composites. Boundary edges are rewired to
// the inner ports the composites expose, recursively. A graph that is
// already flat is validated and returned as is.
func (g *Graph) Flatten() (*Graph, error) {
	if !g.HasComposites() {
		if err := g.Validate(); err != nil {
			return nil, err
		}
		return g, nil
	}

	flat := New()
	composites := make(map[NodeID]*Composite)
	if err := g.collect(flat, composites); err != nil {
		return nil, err
	}

	for _, e := range g.edges {
		srcs, err := resolveOut(composites, e.Src)
		if err != nil {
			return nil, err
		}
		dsts, err := resolveIn(composites, e.Dst)
		if err != nil {
			return nil, err
		}
		flat.addRewired(e, srcs, dsts)
	}

	if err := flat.Validate(); err != nil {
		return nil, err
	}
	return flat, nil
}

// collect adds every leaf node of g to flat along with the inner edges of
// composites, and indexes composites by id.
func (g *Graph) collect(flat *Graph, composites map[NodeID]*Composite) error {
	for _, n := range g.nodes {
		c, ok := n.(*Composite)
		if !ok {
			if err := flat.AddNode(n); err != nil {
				return err
			}
			continue
		}
		composites[c.ID()] = c
		if err := c.inner.collect(flat, composites); err != nil {
			return err
		}
	}
	for _, n := range g.nodes {
		c, ok := n.(*Composite)
		if !ok {
			continue
		}
		for _, e := range c.inner.edges {
			srcs, err := resolveOut(composites, e.Src)
			if err != nil {
				return err
			}
			dsts, err := resolveIn(composites, e.Dst)
			if err != nil {
				return err
			}
			flat.addRewired(e, srcs, dsts)
		}
	}
	return nil
}

func (g *Graph) addRewired(e Edge, srcs, dsts []Endpoint) {
	for _, s := range srcs {
		for _, d := range dsts {
			ne := e
			ne.ID = EdgeID(len(g.edges))
			ne.Src, ne.Dst = s, d
			g.edges = append(g.edges, ne)
		}
	}
}

func resolveOut(composites map[NodeID]*Composite, ep Endpoint) ([]Endpoint, error) {
	for {
		c, ok := composites[ep.Node]
		if !ok {
			return []Endpoint{ep}, nil
		}
		next, ok := c.outs[ep.Port]
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s output %d is not exposed", errors.ErrUnconnectedPort, label(c), ep.Port),
				"Graph", "Flatten", "rewire composite output")
		}
		ep = next
	}
}

func resolveIn(composites map[NodeID]*Composite, ep Endpoint) ([]Endpoint, error) {
	c, ok := composites[ep.Node]
	if !ok {
		return []Endpoint{ep}, nil
	}
	targets := c.ins[ep.Port]
	if len(targets) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s input %d is not exposed", errors.ErrUnconnectedPort, label(c), ep.Port),
			"Graph", "Flatten", "rewire composite input")
	}
	var out []Endpoint
	for _, t := range targets {
		r, err := resolveIn(composites, t)
		if err != nil {
			return nil, err
		}
		out = append(out, r...)
	}
	return out, nil
}
