package enums

// Active reports whether the job still has work in flight
func (e JobStatus) Active() bool {
	return e == JobStatusPending || e == JobStatusProcessing
}

// Finished reports whether the item reached a terminal status
func (e ItemStatus) Finished() bool {
	return e == ItemStatusCompleted || e == ItemStatusFailed
}

// CanTransition reports whether an item may move from e to next.
// The lifecycle is pending -> processing -> completed|failed, each step once.
func (e ItemStatus) CanTransition(next ItemStatus) bool {
	switch e {
	case ItemStatusPending:
		return next == ItemStatusProcessing
	case ItemStatusProcessing:
		return next.Finished()
	case ItemStatusCompleted, ItemStatusFailed:
		return false
	default:
		return false
	}
}
