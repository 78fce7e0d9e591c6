// Package blocks holds small reference blocks used by tests, examples and
// the streamrt command: vector source and sink, copy, head, null sink,
// keep-one-in-N, and the message forwarder, counter and strobe.
//
// They exist to exercise the engine and carry no signal processing.
package blocks
