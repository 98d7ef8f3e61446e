package index

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	lderrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"stpush/bep"
	"stpush/events"
)

const (
	keyPrefixFile = "FIL" // Record indexed by folder and name. Followed by folder, a zero byte, and the relative path
	keyPrefixSeq  = "SEQ" // Locally announced record indexed by sequence number. Followed by a 16-digit hexadecimal sequence number (64 bit)
	keyCounter    = "CNT" // Highest sequence number allocated so far
)

var ErrNotFound = lderrors.ErrNotFound
var ErrCorrupted = fmt.Errorf("corrupted")

var _ Store = (*LevelDBStore)(nil)

// LevelDBStore is the Store implementation used outside of tests.
type LevelDBStore struct {
	path string
	mu   sync.Mutex
	db   *leveldb.DB
	seq  uint64

	acquired *events.Bus[RecordAcquiredEvent]
}

func keyFromName(folder, name string) []byte {
	key := append([]byte(keyPrefixFile), folder...)
	key = append(key, 0)
	return append(key, name...)
}

func keyFromSeq(seq uint64) []byte {
	return append([]byte(keyPrefixSeq), fmt.Sprintf("%016x", seq)...)
}

func seqFromKey(key []byte) (uint64, error) {
	if len(key) != len(keyPrefixSeq)+16 {
		return 0, fmt.Errorf("seqFromKey: invalid key length: %d", len(key))
	}
	if string(key[:len(keyPrefixSeq)]) != keyPrefixSeq {
		return 0, fmt.Errorf("seqFromKey: invalid key prefix: %s", string(key[:len(keyPrefixSeq)]))
	}
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(keyPrefixSeq):]), "%016x", &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func NewLevelDBStore(path string) (*LevelDBStore, error) {
	opts := &opt.Options{
		Compression: opt.NoCompression,
	}

	// Open or create the new DB
	db, err := leveldb.OpenFile(path, opts)
	if lderrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}

	log.Infof("Opened index at %s", path)

	s := &LevelDBStore{
		path:     path,
		db:       db,
		acquired: events.NewBus[RecordAcquiredEvent](),
	}

	if err := s.recoverSeq(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// recoverSeq restores the sequence counter: the persisted counter key when
// present, otherwise the highest stored sequence key. The counter key wins
// because an allocation may never have produced a stored record.
func (s *LevelDBStore) recoverSeq() error {
	raw, err := s.db.Get([]byte(keyCounter), nil)
	if err == nil {
		if _, err := fmt.Sscanf(string(raw), "%016x", &s.seq); err != nil {
			return err
		}
		return nil
	}
	if err != lderrors.ErrNotFound {
		return err
	}

	iter := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefixSeq)), nil)
	defer iter.Release()

	if iter.Last() {
		seq, err := seqFromKey(iter.Key())
		if err != nil {
			return err
		}
		s.seq = seq
	}
	return nil
}

func (s *LevelDBStore) NextSequence() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.seq + 1
	// Persist the allocation before handing it out so a record lost on the
	// wire can never cause the sequence to be reissued after a restart.
	err := s.db.Put([]byte(keyCounter), []byte(fmt.Sprintf("%016x", next)), nil)
	if err != nil {
		return 0, err
	}
	s.seq = next
	return next, nil
}

func (s *LevelDBStore) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *LevelDBStore) PushRecord(folder string, file *bep.FileInfo) (*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := &FileRecord{
		Folder: folder,
		File:   file,
		Local:  true,
	}

	raw, err := cbor.Marshal(record)
	if err != nil {
		return nil, err
	}

	// Insert name -> record and seq -> record atomically
	batch := new(leveldb.Batch)
	batch.Put(keyFromName(folder, file.Name), raw)
	batch.Put(keyFromSeq(file.Sequence), raw)

	if err := s.db.Write(batch, nil); err != nil {
		return nil, err
	}

	log.Debugf("index: stored local record %s/%s seq=%d", folder, file.Name, file.Sequence)

	return record, nil
}

func (s *LevelDBStore) AcquireRecords(folder string, files []*bep.FileInfo) error {
	s.mu.Lock()

	records := make([]*FileRecord, 0, len(files))
	batch := new(leveldb.Batch)
	for _, file := range files {
		record := &FileRecord{
			Folder: folder,
			File:   file,
		}
		raw, err := cbor.Marshal(record)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		batch.Put(keyFromName(folder, file.Name), raw)
		records = append(records, record)
	}

	if err := s.db.Write(batch, nil); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	log.Debugf("index: acquired %d remote records for folder %s", len(records), folder)

	// Publish outside the lock so handlers may read the store.
	s.acquired.Publish(RecordAcquiredEvent{
		Folder:     folder,
		NewRecords: records,
	})
	return nil
}

func (s *LevelDBStore) SubscribeAcquired(fn func(RecordAcquiredEvent)) Subscription {
	return s.acquired.Subscribe(fn)
}

func (s *LevelDBStore) GetRecord(folder, name string) (*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.db.Get(keyFromName(folder, name), nil)
	if err != nil {
		return nil, err
	}

	record := &FileRecord{}
	if err := cbor.Unmarshal(raw, record); err != nil {
		return nil, err
	}

	// Compare the name just in case
	if record.Folder != folder || record.File == nil || record.File.Name != name {
		log.Errorf("GetRecord: record mismatch for %s/%s", folder, name)
		return nil, ErrCorrupted
	}

	return record, nil
}

func (s *LevelDBStore) EnumerateBySeq(start, end uint64) ([]*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if start > end {
		return nil, fmt.Errorf("EnumerateBySeq: invalid range: start (%d) > end (%d)", start, end)
	}

	var results []*FileRecord

	// Limit is exclusive, the range is inclusive
	iter := s.db.NewIterator(&util.Range{Start: keyFromSeq(start), Limit: keyFromSeq(end + 1)}, nil)
	defer iter.Release()

	for iter.Next() {
		record := &FileRecord{}
		if err := cbor.Unmarshal(iter.Value(), record); err != nil {
			return nil, err
		}
		results = append(results, record)
	}

	return results, nil
}

func (s *LevelDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
