package commands

import (
	"context"

	"stpush/config"
	"stpush/index"
)

// RunPushDir announces a directory creation to the peer.
func RunPushDir(ctx context.Context, cfg *config.Config, folder, name string) {
	store, err := index.NewLevelDBStore(cfg.DataStore.IndexPath)
	if err != nil {
		log.Fatalf("Failed to open index: %v", err)
	}
	defer store.Close()

	_, pusher, err := connect(cfg, store)
	if err != nil {
		log.Fatalf("Failed to connect to peer: %v", err)
	}

	observer, err := pusher.PushDir(folder, name)
	if err != nil {
		log.Fatalf("Failed to announce directory: %v", err)
	}

	if err := observer.WaitForComplete(ctx); err != nil {
		log.Fatalf("Failed to send announcement: %v", err)
	}
	log.Infof("Announced directory %s/%s", folder, name)

	if err := observer.Close(); err != nil {
		log.Errorf("Failed to release announcement: %v", err)
	}
}
