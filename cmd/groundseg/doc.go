// Package main hosts the groundseg CLI entrypoint and command graph.
//
// The Cobra command tree covers configuration scaffolding, environment
// checks, catalog inspection, training runs, and read-only views over the
// artifacts a run leaves behind (scalar logs, checkpoints, masks). Heavy
// lifting lives in the internal packages; commands here resolve configuration
// and format output.
package main
