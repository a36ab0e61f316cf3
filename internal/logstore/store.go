// Package logstore keeps the log feed of a run for later reading.
package logstore

import (
	"github.com/schovi/qrun/internal/progress"
)

type Store interface {
	Append(entry progress.LogEntry) error
	// Since returns the entries with a sequence greater than seq, oldest first.
	Since(seq int) ([]progress.LogEntry, error)
	All() ([]progress.LogEntry, error)
	Len() (int, error)
	// Reset drops every entry. Called when a new run starts.
	Reset() error
}

// Limit keeps the first head or the last tail entries. head wins when both
// are set; zero for both returns entries unchanged.
func Limit(entries []progress.LogEntry, head, tail int) []progress.LogEntry {
	if head > 0 {
		if head >= len(entries) {
			return entries
		}
		return entries[:head]
	}
	if tail > 0 {
		if tail >= len(entries) {
			return entries
		}
		return entries[len(entries)-tail:]
	}
	return entries
}

// since returns the suffix of entries (sorted by sequence) after seq.
func since(entries []progress.LogEntry, seq int) []progress.LogEntry {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if entries[mid].Sequence <= seq {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return entries[lo:]
}
