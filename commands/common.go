package commands

import (
	"stpush/bep"
	"stpush/config"
	"stpush/index"
	"stpush/net/bepchan"
	"stpush/push"
	"stpush/spool"
)

// connect dials the configured peer and wires the channel's inbound index
// echo into the local store, so uploads can observe their completion.
func connect(cfg *config.Config, store index.Store) (*bepchan.Conn, *push.Pusher, error) {
	conn, err := bepchan.Dial("tcp", cfg.Network.PeerAddress, cfg.Folders)
	if err != nil {
		return nil, nil, err
	}

	conn.SubscribeIndexUpdates(func(update *bep.IndexUpdate) {
		if err := store.AcquireRecords(update.Folder, update.Files); err != nil {
			log.Errorf("Failed to acquire remote records: %v", err)
		}
	})

	sp, err := spool.New(cfg.DataStore.SpoolPath)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	pusher := push.NewPusher(cfg.Device.ID, conn, store).
		WithStore(store).
		WithSpool(sp).
		WithCloseChannel(true)

	return conn, pusher, nil
}
