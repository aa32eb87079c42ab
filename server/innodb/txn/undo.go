package txn

// UndoLogEntry is a single pre-image record: the bytes that lived at
// TargetAddress immediately before a write overwrote them.
type UndoLogEntry struct {
	TargetAddress uintptr
	Size          uint64
	PreviousBytes []byte
}

// UndoLog is the ordered sequence of pre-image records a read-write
// transaction accumulates. Entries are prepended, not appended: two
// writes to overlapping ranges must be undone in reverse order so the
// earliest pre-image wins, and storing newest-first lets Replay walk
// the slice front-to-back to get exactly that ordering.
type UndoLog struct {
	entries []UndoLogEntry
}

// Prepend adds a new undo record ahead of every record already logged.
func (u *UndoLog) Prepend(entry UndoLogEntry) {
	u.entries = append([]UndoLogEntry{entry}, u.entries...)
}

// Replay restores every record's pre-image, front-to-back, then empties
// the log. apply is expected to copy entry.PreviousBytes back to
// entry.TargetAddress.
func (u *UndoLog) Replay(apply func(entry UndoLogEntry)) {
	for _, entry := range u.entries {
		apply(entry)
	}
	u.entries = nil
}

// Len reports how many undo records are currently logged.
func (u *UndoLog) Len() int { return len(u.entries) }
