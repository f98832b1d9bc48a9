// Package graph holds the in-memory asset dependency graph: source,
// generated, missing-source, internal, glob, placeholder and post-process
// anchor nodes, plus the serialization and invalidation primitives built on
// top of them.
//
// The node model stores forward edges only (inputs, primary input, primary
// outputs). The reverse index from an input to its consumers is recomputed
// on demand and never persisted, so there is no update skew to manage.
package graph
