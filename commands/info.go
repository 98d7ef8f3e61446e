package commands

import (
	"context"

	"stpush/config"
	"stpush/index"
)

// RunInfo prints the local index contents and the current sequence.
func RunInfo(ctx context.Context, cfg *config.Config) {
	store, err := index.NewLevelDBStore(cfg.DataStore.IndexPath)
	if err != nil {
		log.Fatalf("Failed to open index: %v", err)
	}
	defer store.Close()

	log.Infof("I am %s (counter id %016x)", cfg.Device.ID.String(), cfg.Device.ID.CounterID())
	log.Infof("Current sequence: %d", store.Seq())

	records, err := store.EnumerateBySeq(0, store.Seq())
	if err != nil {
		log.Errorf("Failed to enumerate index: %v", err)
		return
	}

	index.SortByName(records)

	log.Infof("Index: %d local records", len(records))
	for _, record := range records {
		file := record.File
		log.Infof("Record: %s/%s type=%s size=%d seq=%d deleted=%t versions=%d blocks=%d",
			record.Folder, file.Name, file.Type, file.Size, file.Sequence, file.Deleted, len(file.Version.Counters), len(file.Blocks))
	}
}
