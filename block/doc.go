// Package block defines the unit of computation of a flow.
//
// A Block is a graph.Node with a Work method. The scheduler hands Work a
// WorkIO describing contiguous input windows (with the declared history
// prefix) and output regions; Work reports how many items it consumed and
// produced and returns a WorkStatus. Blocks never wait: when they cannot
// progress they return StatusBlockedOnInput or StatusBlockedOnOutput and the
// scheduler parks them until a buffer changes.
//
// Most blocks embed Base, which supplies ports, scheduling settings, tag
// propagation policy and message ports, and implement only Work:
//
//	type scale struct {
//		block.Base
//		k float32
//	}
//
//	func (s *scale) Work(_ context.Context, io *block.WorkIO) (block.WorkStatus, error) {
//		in, out := block.In[float32](io.Inputs[0]), block.Out[float32](io.Outputs[0])
//		n := min(len(in), len(out))
//		for i := range n {
//			out[i] = in[i] * s.k
//		}
//		io.Inputs[0].Consume(n)
//		io.Outputs[0].Produce(n)
//		return block.StatusOK, nil
//	}
package block
