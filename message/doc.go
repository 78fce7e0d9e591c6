// Package message implements the asynchronous message-port subsystem.
//
// A message is a Value: a small variant type covering booleans, integers,
// floats, strings, symbols, pairs, vectors, dictionaries and raw uniform
// vectors. The engine never interprets values; it only queues and delivers
// them.
//
// Each block may expose named input and output message ports:
//
//	in, _ := message.NewInPort("sink", "in", 0, handler)
//	out := message.NewOutPort("source", "out")
//	out.Subscribe(in)
//	out.Publish(message.Symbol("trigger"))
//
// Post never blocks. Each InPort is backed by a multi-producer queue that
// grows on demand, so no posted message is lost. A block that sets
// MaxMessages gets a bounded queue instead: past the limit the oldest pending
// message is dropped and counted. Messages posted from one goroutine to one port are delivered in
// post order. Delivery happens when the owning scheduler calls Deliver, on the
// block's own scheduling context, interleaved with stream work.
//
// Values crossing a process boundary are encoded with Marshal/Unmarshal
// (msgpack).
package message
