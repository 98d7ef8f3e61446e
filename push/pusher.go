// Package push implements the outbound half of the block exchange: announce
// a change to the remote device, serve the block requests it issues, and
// report progress until the remote's index confirms the file.
package push

import (
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"stpush/bep"
	"stpush/deviceid"
	"stpush/index"
	"stpush/source"
	"stpush/spool"
)

var ErrFolderNotShared = errors.New("folder not shared on this connection")
var ErrRecordMismatch = errors.New("record does not match folder and path")
var ErrMissingRecord = errors.New("missing previous record")
var ErrNoSpool = errors.New("no spool configured for streaming sources")

// Pusher drives uploads over one channel on behalf of one local device.
type Pusher struct {
	device    *deviceid.DeviceID
	channel   bep.Channel
	sequencer index.Sequencer

	store        index.Store // optional
	spool        *spool.Spool
	closeChannel bool
}

func NewPusher(device *deviceid.DeviceID, channel bep.Channel, sequencer index.Sequencer) *Pusher {
	return &Pusher{
		device:    device,
		channel:   channel,
		sequencer: sequencer,
	}
}

// WithStore attaches the local index store. With a store attached, uploads
// complete on the remote's index echo and released observers persist their
// announced records locally.
func (p *Pusher) WithStore(store index.Store) *Pusher {
	p.store = store
	return p
}

// WithSpool attaches the temp-file area PushStream spills into.
func (p *Pusher) WithSpool(sp *spool.Spool) *Pusher {
	p.spool = sp
	return p
}

// WithCloseChannel makes released observers close the channel as well.
func (p *Pusher) WithCloseChannel(closeChannel bool) *Pusher {
	p.closeChannel = closeChannel
	return p
}

// PushStream spills a non-restartable byte stream into the spool area and
// pushes the resulting file source.
func (p *Pusher) PushStream(in io.Reader, prev *index.FileRecord, folder, path string) (*FileUploadObserver, error) {
	if p.spool == nil {
		return nil, ErrNoSpool
	}
	tempPath, err := p.spool.Spill(in)
	if err != nil {
		return nil, fmt.Errorf("spilling stream: %w", err)
	}
	log.Debugf("use temp file = %s", tempPath)
	// TODO: remove the temp file once the upload state is released
	return p.PushFile(source.NewFile(tempPath), prev, folder, path)
}

// PushFile announces a file and serves the remote's block requests from the
// source until the upload is released. prev, when present, is the record
// being replaced; its version history is carried into the new vector.
func (p *Pusher) PushFile(src source.DataSource, prev *index.FileRecord, folder, path string) (*FileUploadObserver, error) {
	if !p.channel.HasFolder(folder) {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotShared, folder)
	}
	if prev != nil && (prev.Folder != folder || prev.File.Name != path) {
		return nil, fmt.Errorf("%w: have %s/%s, want %s/%s", ErrRecordMismatch, prev.Folder, prev.File.Name, folder, path)
	}

	size, err := src.Size()
	if err != nil {
		return nil, fmt.Errorf("sizing source: %w", err)
	}
	blocks, err := src.Blocks()
	if err != nil {
		return nil, fmt.Errorf("scanning source: %w", err)
	}
	contentHash, err := src.ContentHash()
	if err != nil {
		return nil, fmt.Errorf("hashing source: %w", err)
	}

	observer := &FileUploadObserver{
		pusher: p,
		source: src,
		state:  newUploadState(),
	}
	state := observer.state

	observer.requestSub = p.channel.SubscribeRequests(func(req *bep.Request) {
		if req.Folder != folder || req.Name != path {
			return
		}
		hash := bep.HashHex(req.Hash)
		log.Debugf("handling block request = %s:%d-%d (%s)", req.Name, req.Offset, req.Size, hash)

		data, err := src.Block(req.Offset, req.Size, hash)
		if err != nil {
			state.fail(err)
			return
		}

		completion := p.channel.Send(&bep.Response{
			ID:   req.ID,
			Code: bep.ErrorCodeNoError,
			Data: data,
		})
		observer.workers.Add(1)
		go func() {
			defer observer.workers.Done()
			<-completion.Done()
			// TODO: retry Responses that failed on a transient wire error
			if err := completion.Err(); err != nil {
				state.fail(err)
				return
			}
			state.addSent(hash)
		}()
	})

	if p.store != nil {
		observer.indexSub = p.store.SubscribeAcquired(func(ev index.RecordAcquiredEvent) {
			if ev.Folder != folder {
				return
			}
			for _, record := range ev.NewRecords {
				if record.File.Name == path && record.ContentHash() == contentHash {
					state.complete()
				}
			}
		})
	}

	// The announcement write completes in the background; requests are
	// accepted as soon as the update is in the send queue, which also
	// guarantees it goes out ahead of any Response.
	log.Debugf("send index update for file = %s", path)
	_, update, err := p.sendIndexUpdate(folder, &bep.FileInfo{
		Name:   path,
		Type:   bep.FileInfoTypeFile,
		Size:   size,
		Blocks: blocks,
	}, prevCounters(prev))
	if err != nil {
		observer.requestSub.Cancel()
		if observer.indexSub != nil {
			observer.indexSub.Cancel()
		}
		return nil, err
	}
	observer.update = update

	return observer, nil
}

// PushDir announces a directory creation. Directories carry no blocks and no
// previous version history.
func (p *Pusher) PushDir(folder, path string) (*IndexEditObserver, error) {
	if !p.channel.HasFolder(folder) {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotShared, folder)
	}
	return p.pushEdit(folder, &bep.FileInfo{
		Name: path,
		Type: bep.FileInfoTypeDirectory,
	}, nil)
}

// PushDelete announces a deletion of the file or directory described by the
// previous record, carrying its version history forward.
func (p *Pusher) PushDelete(prev *index.FileRecord, folder, path string) (*IndexEditObserver, error) {
	if prev == nil {
		return nil, fmt.Errorf("%w: delete of %s", ErrMissingRecord, path)
	}
	if !p.channel.HasFolder(prev.Folder) {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotShared, prev.Folder)
	}
	if prev.Folder != folder || prev.File.Name != path {
		return nil, fmt.Errorf("%w: have %s/%s, want %s/%s", ErrRecordMismatch, prev.Folder, prev.File.Name, folder, path)
	}
	return p.pushEdit(folder, &bep.FileInfo{
		Name:    path,
		Type:    prev.File.Type,
		Deleted: true,
	}, prevCounters(prev))
}

func (p *Pusher) pushEdit(folder string, file *bep.FileInfo, prev []bep.Counter) (*IndexEditObserver, error) {
	completion, update, err := p.sendIndexUpdate(folder, file, prev)
	if err != nil {
		return nil, err
	}
	return &IndexEditObserver{
		pusher:     p,
		completion: completion,
		update:     update,
	}, nil
}

// sendIndexUpdate fills in the version vector, sequence, timestamps and
// permission flag, wraps the record in an IndexUpdate and enqueues it. The
// write completes asynchronously; a failed write does not roll back the
// sequence allocation, so the lost sequence is skipped.
func (p *Pusher) sendIndexUpdate(folder string, file *bep.FileInfo, prev []bep.Counter) (*bep.Completion, *bep.IndexUpdate, error) {
	seq, err := p.sequencer.NextSequence()
	if err != nil {
		return nil, nil, fmt.Errorf("allocating sequence: %w", err)
	}
	log.Debugf("version list = %v", prev)

	file.Version = bep.Vector{Counters: bep.NextVector(prev, p.device.CounterID(), seq)}
	file.Sequence = seq

	ms := time.Now().UnixMilli()
	file.ModifiedS = ms / 1000
	file.ModifiedNs = int32(ms%1000) * 1000000
	file.NoPermissions = true

	update := &bep.IndexUpdate{
		Folder: folder,
		Files:  []*bep.FileInfo{file},
	}
	log.Debugf("index update = %s seq=%d", file.Name, file.Sequence)
	return p.channel.Send(update), update, nil
}

func prevCounters(prev *index.FileRecord) []bep.Counter {
	if prev == nil {
		return nil
	}
	return prev.File.Version.Counters
}
