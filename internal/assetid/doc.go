// Package assetid defines the stable identity of assets. An asset is a
// logical file addressed by a (package, path) pair, where the path is a
// forward-slash relative path inside the owning package.
package assetid
