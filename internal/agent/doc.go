// Package agent models the read-only agent snapshot consumed by the task
// engine: type, lifecycle status, capabilities, security clearance and
// resource limits, plus the repositories that load snapshots by id.
package agent
