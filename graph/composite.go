package graph

import (
	"fmt"

	"github.com/c360/streamrt/errors"
)

// Composite is a node built from an inner graph. Its boundary ports are
// mapped onto ports of inner nodes with ExposeInput and ExposeOutput.
// Flatten replaces it with its inner nodes.
type Composite struct {
	Base
	inner *Graph
	ins   map[int][]Endpoint
	outs  map[int]Endpoint
}

// NewComposite declares a composite with the given boundary ports.
func NewComposite(name string, inputs, outputs []Port, alloc IDAllocator) *Composite {
	return &Composite{
		Base:  NewBase(name, inputs, outputs, alloc),
		inner: New(),
		ins:   make(map[int][]Endpoint),
		outs:  make(map[int]Endpoint),
	}
}

// Inner returns the inner graph.
func (c *Composite) Inner() *Graph { return c.inner }

// Connect wires two inner nodes.
func (c *Composite) Connect(src Node, srcPort string, dst Node, dstPort string, opts ...EdgeOption) (EdgeID, error) {
	return c.inner.Connect(src, srcPort, dst, dstPort, opts...)
}

// ExposeInput routes boundary input port to an input of an inner node. One
// boundary input may feed several inner inputs.
func (c *Composite) ExposeInput(port string, inner Node, innerPort string) error {
	bp, ok := FindPort(c, DirectionInput, port)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s has no input %q", errors.ErrUnknownPort, label(c), port),
			"Composite", "ExposeInput", "resolve boundary port")
	}
	ip, ok := FindPort(inner, DirectionInput, innerPort)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s has no input %q", errors.ErrUnknownPort, label(inner), innerPort),
			"Composite", "ExposeInput", "resolve inner port")
	}
	if err := checkCompatible(bp, ip); err != nil {
		return errors.WrapInvalid(err, "Composite", "ExposeInput", "expose "+port)
	}
	if err := c.inner.AddNode(inner); err != nil {
		return err
	}
	c.ins[bp.Index] = append(c.ins[bp.Index], Endpoint{Node: inner.ID(), Port: ip.Index})
	return nil
}

// ExposeOutput routes boundary output port to an output of an inner node.
func (c *Composite) ExposeOutput(port string, inner Node, innerPort string) error {
	bp, ok := FindPort(c, DirectionOutput, port)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s has no output %q", errors.ErrUnknownPort, label(c), port),
			"Composite", "ExposeOutput", "resolve boundary port")
	}
	ip, ok := FindPort(inner, DirectionOutput, innerPort)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s has no output %q", errors.ErrUnknownPort, label(inner), innerPort),
			"Composite", "ExposeOutput", "resolve inner port")
	}
	if err := checkCompatible(ip, bp); err != nil {
		return errors.WrapInvalid(err, "Composite", "ExposeOutput", "expose "+port)
	}
	if _, taken := c.outs[bp.Index]; taken {
		return errors.WrapInvalid(fmt.Errorf("%w: output %q already exposed", errors.ErrPortInUse, port),
			"Composite", "ExposeOutput", "expose "+port)
	}
	if err := c.inner.AddNode(inner); err != nil {
		return err
	}
	c.outs[bp.Index] = Endpoint{Node: inner.ID(), Port: ip.Index}
	return nil
}
