// Package phase compiles an ordered list of builder applications into the
// executable build phases of one build: per-package builder instances,
// input filters, output extension expansion, and the static validation that
// rejects self-feeding extension sets at configuration time.
package phase
