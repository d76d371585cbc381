// Package textutil provides text helpers for class names: filesystem-safe
// tokens for artifact filenames and character-trigram fingerprints used to
// suggest the closest detector class when a domain class does not resolve.
package textutil
