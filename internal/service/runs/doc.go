// Package runs implements the valuation run state machine and its worker pool.
//
// States:
//   - pending -> validated -> queued -> running -> completed | failed
//
// Submit validates the instrument before anything is persisted; a run that
// fails market data validation is stored as failed. Admitted runs wait in a
// single FIFO queue drained by a fixed number of workers. Each worker runs
// bootstrap, schedule and price in order and records a lineage entry per
// stage. Completion writes result, artifacts and lineage in one repository
// call.
//
// Cancellation:
//   - Queued runs are removed from the queue and failed immediately.
//   - Running runs are flagged; the worker stops before its next stage.
//   - Terminal runs are left untouched.
//
// Restarts:
//   - Start re-enqueues runs the store still holds as queued, oldest first.
//   - Pending, validated and running runs no worker owns fail as internal errors.
//   - With PollInterval set, runs queued by other processes are adopted.
//
// Auditing:
//   - Every persisted transition is offered to the optional TransitionAuditor.
//   - Audit failures are logged and never change the run outcome.
package runs
