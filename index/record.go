// Package index tracks the file records this device has announced and the
// records acquired from the remote, and owns the per-device sequence counter
// new announcements draw from.
package index

import (
	"sort"

	"stpush/bep"
)

// FileRecord is one stored index entry: the folder it belongs to plus the
// announced metadata.
type FileRecord struct {
	Folder string        `cbor:"1,keyasint"`
	File   *bep.FileInfo `cbor:"2,keyasint"`
	// Local is true for records this device announced, false for records
	// acquired from the remote.
	Local bool `cbor:"3,keyasint,omitempty"`
}

// ContentHash digests the record's block list for comparison against a local
// data source.
func (r *FileRecord) ContentHash() string {
	return bep.HashBlocks(r.File.Blocks)
}

// RecordAcquiredEvent is published when records received from the remote have
// been ingested into the store.
type RecordAcquiredEvent struct {
	Folder     string
	NewRecords []*FileRecord
}

// Sequencer allocates the monotonically increasing sequence numbers attached
// to announced records. Allocations survive restarts; a sequence handed out
// for a record that is later lost is skipped, never reused.
type Sequencer interface {
	NextSequence() (uint64, error)
}

// Store is the local index the engine persists announced records into and
// observes remote echoes from.
type Store interface {
	Sequencer

	// PushRecord persists a record this device announced.
	PushRecord(folder string, file *bep.FileInfo) (*FileRecord, error)

	// AcquireRecords ingests records received from the remote and publishes
	// a RecordAcquiredEvent for them.
	AcquireRecords(folder string, files []*bep.FileInfo) error

	// SubscribeAcquired registers a handler for RecordAcquiredEvents.
	SubscribeAcquired(fn func(RecordAcquiredEvent)) Subscription

	// GetRecord fetches a record by folder and name. Returns ErrNotFound if
	// absent.
	GetRecord(folder, name string) (*FileRecord, error)

	// EnumerateBySeq lists locally announced records with sequence numbers
	// in [start, end], ascending.
	EnumerateBySeq(start, end uint64) ([]*FileRecord, error)

	// Seq returns the highest sequence number allocated so far.
	Seq() uint64

	Close() error
}

// Subscription is the cancellation token of an event registration.
type Subscription interface {
	Cancel()
}

// SortByName orders records alphabetically by relative path, for listings.
func SortByName(records []*FileRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].File.Name < records[j].File.Name
	})
}
