// Package eventlog persists the scalar event stream of a training run in a
// SQLite database under the run's logs/ directory.
//
// Each run owns one events.db holding a key/value metadata table and the
// scalars recorded during training (tag, step, value, wall time). Writes retry
// briefly when the database is busy so a concurrent reader such as
// `groundseg runs loss` never fails the training loop.
package eventlog
