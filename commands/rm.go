package commands

import (
	"context"

	"stpush/config"
	"stpush/index"
)

// RunDelete announces a deletion of a previously announced file or directory.
func RunDelete(ctx context.Context, cfg *config.Config, folder, name string) {
	store, err := index.NewLevelDBStore(cfg.DataStore.IndexPath)
	if err != nil {
		log.Fatalf("Failed to open index: %v", err)
	}
	defer store.Close()

	prev, err := store.GetRecord(folder, name)
	if err != nil {
		log.Fatalf("No record for %s/%s: %v", folder, name, err)
	}

	_, pusher, err := connect(cfg, store)
	if err != nil {
		log.Fatalf("Failed to connect to peer: %v", err)
	}

	observer, err := pusher.PushDelete(prev, folder, name)
	if err != nil {
		log.Fatalf("Failed to announce deletion: %v", err)
	}

	if err := observer.WaitForComplete(ctx); err != nil {
		log.Fatalf("Failed to send announcement: %v", err)
	}
	log.Infof("Announced deletion of %s/%s", folder, name)

	if err := observer.Close(); err != nil {
		log.Errorf("Failed to release announcement: %v", err)
	}
}
