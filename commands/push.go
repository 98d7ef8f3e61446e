package commands

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"stpush/config"
	"stpush/helper/timer"
	"stpush/index"
	"stpush/push"
	"stpush/source"
)

// RunPush uploads a local file to the peer under folder/name and waits until
// the remote's index confirms it.
func RunPush(ctx context.Context, cfg *config.Config, folder, name, localPath string) {
	store, err := index.NewLevelDBStore(cfg.DataStore.IndexPath)
	if err != nil {
		log.Fatalf("Failed to open index: %v", err)
	}
	defer store.Close()

	_, pusher, err := connect(cfg, store)
	if err != nil {
		log.Fatalf("Failed to connect to peer: %v", err)
	}

	prev, err := store.GetRecord(folder, name)
	if err != nil && !errors.Is(err, index.ErrNotFound) {
		log.Fatalf("Failed to look up previous record: %v", err)
	}

	var observer *push.FileUploadObserver
	if localPath == "-" {
		observer, err = pusher.PushStream(os.Stdin, prev, folder, name)
	} else {
		observer, err = pusher.PushFile(source.NewFile(localPath), prev, folder, name)
	}
	if err != nil {
		log.Fatalf("Failed to start upload: %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg, cctx := errgroup.WithContext(cctx)

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: time.Second,
			Jitter:   time.Millisecond * 100,
		}
		err := timer.RunWithTicker(cctx, "push-progress", interval, func(context.Context) error {
			log.Infof("Upload progress: %s", observer.ProgressMessage())
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	wg.Go(func() error {
		// Stop the progress ticker once the upload is done
		defer cancel()
		return observer.WaitForComplete()
	})

	if err := wg.Wait(); err != nil {
		log.Errorf("Upload failed: %v", err)
	}

	log.Infof("Upload finished: %s", observer.ProgressMessage())

	if err := observer.Close(); err != nil {
		log.Errorf("Failed to release upload: %v", err)
	}
}
