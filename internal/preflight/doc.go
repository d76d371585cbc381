// Package preflight provides readiness checks for the filesystem paths and
// external tools a training run depends on.
//
// The train command runs RunAll before starting the loop and refuses to start
// when a check fails; the status command renders the same results as a table.
package preflight
