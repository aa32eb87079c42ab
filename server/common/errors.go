package common

import "errors"

// Sentinel errors shared across the allocation and region layers. Most
// engine failures (contention, tombstoned segments, missing addresses)
// are reported to the client as a bool per the operation tables, not as
// a Go error; these two are the ones that do cross a Go function
// boundary as errors, at create/destroy time rather than mid-transaction.
var (
	ErrOutOfMemory = errors.New("stm: allocation failed")
	ErrRegionBusy  = errors.New("stm: region has active transactions")
)
