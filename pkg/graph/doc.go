// Package graph defines the node tree data model for the node engine.
//
// A Tree owns nodes and the links between their sockets. Node behaviour is
// described by NodeTypeInfo values registered into a Registry; a Descriptor
// merges registries into the immutable set of node types a tree may use.
// Each node's sockets are materialised from the Declaration its type
// produces, and re-reconciled against it whenever the node is refreshed.
//
// Trees are not safe for concurrent use. All mutation and execution is
// expected to happen on the goroutine that owns the tree.
package graph
