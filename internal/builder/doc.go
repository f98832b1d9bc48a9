// Package builder defines the contract between the engine and builder
// implementations: the Builder interface with its statically declared build
// extensions, the BuildStep capability handed to every invocation, and the
// error kinds a step can surface.
//
// Builders receive everything through the step; there is no ambient mutable
// state. A builder reads its primary input (and anything else it declares by
// reading), writes only to its allowed outputs, and reports inputs it turned
// out not to need.
package builder
