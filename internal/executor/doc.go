// Package executor drives a compiled phase list over the asset graph. It
// owns the scheduling discipline of a build: phases run in declared order
// with one action at a time, later steps can synchronously demand outputs
// of earlier phases, optional phases run only when demanded, and every
// step's output writes are staged and applied on commit. The missing-source
// and glob nodes a step's reads discover are added to the graph as the
// reads happen, not on commit.
//
// The executor is single-threaded and cooperative. Correctness depends on a
// deterministic ordering of step commits, so actions never run in parallel
// even where the host offers threads.
package executor
