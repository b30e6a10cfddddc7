// Package exitcodes defines the process exit codes of the relpipe CLI so
// CI wrappers can branch on the failure class.
package exitcodes

const (
	// Success: the release completed.
	Success = 0

	// InvalidConfig: the configuration file or inputs were rejected.
	InvalidConfig = 2

	// VersionGateFailed: the requested version does not match the staged
	// marker; nothing was promoted.
	VersionGateFailed = 3

	// RunFailed: a release stage failed after the gate.
	RunFailed = 4

	// Busy: another release run is already in progress.
	Busy = 5
)
