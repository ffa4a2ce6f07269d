// Package engine runs node trees. An Executor orders the required nodes of
// a tree topologically, binds each node's inputs to upstream outputs or
// literal values, invokes the node type's execute callback and writes the
// results back onto the output sockets.
//
// Failures stay local to the node that caused them: a node with an input
// that has no value is marked MissingInput and skipped, and a callback that
// errors or panics is marked Failed. In both cases downstream nodes still
// run against well-defined values.
package engine
