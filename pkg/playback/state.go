package playback

// State is the playback state of a run.
type State string

const (
	StateNotStarted State = "not-started"
	StatePlaying    State = "playing"
	StatePaused     State = "paused"
	StateStopped    State = "stopped"
	StateAborted    State = "aborted"
	StateErrored    State = "errored"
	StateFinished   State = "finished"
)

// Terminal reports whether no further commands can be dispatched in s.
// Paused is resumable and therefore not terminal.
func (s State) Terminal() bool {
	switch s {
	case StateStopped, StateAborted, StateErrored, StateFinished:
		return true
	}
	return false
}

// CommandState is the execution state of a single command.
type CommandState string

const (
	CommandPending   CommandState = "pending"
	CommandExecuting CommandState = "executing"
	CommandSucceeded CommandState = "succeeded"
	CommandFailed    CommandState = "failed"
	CommandSkipped   CommandState = "skipped"
)

// Done reports whether cs is a final per-command state.
func (cs CommandState) Done() bool {
	return cs == CommandSucceeded || cs == CommandFailed || cs == CommandSkipped
}
