package push

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	log "github.com/sirupsen/logrus"

	"stpush/bep"
	"stpush/events"
	"stpush/index"
	"stpush/source"
)

var ErrObserverClosed = errors.New("observer already closed")
var ErrUploadClosed = errors.New("upload closed")

// FileUploadObserver tracks one in-flight file upload. Progress advances as
// block requests are served; completion is signalled by the remote's index
// echo. Close releases the subscriptions and the worker pool and must be
// called exactly once.
type FileUploadObserver struct {
	pusher *Pusher
	source source.DataSource
	state  *uploadState

	workers    sync.WaitGroup
	requestSub *events.Subscription
	indexSub   index.Subscription
	update     *bep.IndexUpdate

	closeMu sync.Mutex
	closed  bool
}

// DataSource returns the source backing this upload.
func (o *FileUploadObserver) DataSource() source.DataSource {
	return o.source
}

// IndexUpdate returns the announcement sent for this upload.
func (o *FileUploadObserver) IndexUpdate() *bep.IndexUpdate {
	return o.update
}

func (o *FileUploadObserver) totalBlocks() int {
	blocks, err := o.source.Blocks()
	if err != nil {
		// The source was fully scanned before the upload started, so the
		// memoized list cannot fail here.
		return 0
	}
	return len(blocks)
}

// Progress reports the served fraction in [0, 1]. An upload of an empty
// source has no blocks to serve and reports 1.0 from the start, even while
// the completion echo is still outstanding.
func (o *FileUploadObserver) Progress() float64 {
	if o.Completed() {
		return 1
	}
	total := o.totalBlocks()
	if total == 0 {
		return 1
	}
	return float64(o.state.sent.Cardinality()) / float64(total)
}

// ProgressMessage renders the progress as "<pct>% <sent>/<total>" with the
// percentage rounded to one decimal.
func (o *FileUploadObserver) ProgressMessage() string {
	return fmt.Sprintf("%v%% %d/%d", math.Round(o.Progress()*1000)/10, o.state.sent.Cardinality(), o.totalBlocks())
}

// Completed reports whether the remote has confirmed the full file.
func (o *FileUploadObserver) Completed() bool {
	return o.state.isCompleted()
}

// WaitForProgressUpdate parks the caller until the next upload event: a
// served block, the completion flip, an upload error, or close. An upload
// error or a close before completion surfaces as the returned error.
func (o *FileUploadObserver) WaitForProgressUpdate() (float64, error) {
	err, completed, closed := o.state.wait()
	if err != nil {
		return 0, err
	}
	if closed && !completed {
		return 0, ErrUploadClosed
	}
	return o.Progress(), nil
}

// WaitForComplete blocks until the remote index echo confirms the upload.
func (o *FileUploadObserver) WaitForComplete() error {
	for !o.Completed() {
		if _, err := o.WaitForProgressUpdate(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the upload: unsubscribes both handlers, drains in-flight
// response workers, persists the announced record into the local index when
// one is attached, and optionally closes the channel. Close must be called
// exactly once; a second call is a usage error.
func (o *FileUploadObserver) Close() error {
	o.closeMu.Lock()
	if o.closed {
		o.closeMu.Unlock()
		return ErrObserverClosed
	}
	o.closed = true
	o.closeMu.Unlock()

	log.Debugf("closing upload process")
	o.requestSub.Cancel()
	if o.indexSub != nil {
		o.indexSub.Cancel()
	}
	o.state.close()
	o.workers.Wait()

	if o.pusher.store != nil {
		record, err := o.pusher.store.PushRecord(o.update.Folder, o.update.Files[0])
		if err != nil {
			return err
		}
		log.Infof("sent file info record = %s/%s seq=%d", record.Folder, record.File.Name, record.File.Sequence)
	}
	if o.pusher.closeChannel {
		return o.pusher.channel.Close()
	}
	return nil
}

// IndexEditObserver tracks a metadata-only announcement (directory creation
// or deletion). Completion reflects only the wire write of the IndexUpdate.
type IndexEditObserver struct {
	pusher     *Pusher
	completion *bep.Completion
	update     *bep.IndexUpdate

	closeMu sync.Mutex
	closed  bool
}

func (o *IndexEditObserver) IndexUpdate() *bep.IndexUpdate {
	return o.update
}

// Completed polls the wire write. A failed write surfaces as the error.
func (o *IndexEditObserver) Completed() (bool, error) {
	if !o.completion.Completed() {
		return false, nil
	}
	return true, o.completion.Err()
}

// WaitForComplete blocks until the announcement has been written.
func (o *IndexEditObserver) WaitForComplete(ctx context.Context) error {
	return o.completion.Wait(ctx)
}

// Close persists the record locally when a store is attached and optionally
// closes the channel. Like the upload observer, close is exactly-once.
func (o *IndexEditObserver) Close() error {
	o.closeMu.Lock()
	if o.closed {
		o.closeMu.Unlock()
		return ErrObserverClosed
	}
	o.closed = true
	o.closeMu.Unlock()

	if o.pusher.store != nil {
		if _, err := o.pusher.store.PushRecord(o.update.Folder, o.update.Files[0]); err != nil {
			return err
		}
	}
	if o.pusher.closeChannel {
		return o.pusher.channel.Close()
	}
	return nil
}
