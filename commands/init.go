package commands

import (
	"context"

	"github.com/sirupsen/logrus"

	"stpush/config"
	"stpush/deviceid"
)

var log = logrus.New()

func RunInit(ctx context.Context, cfg *config.Config) {
	id, err := deviceid.Random()
	if err != nil {
		log.Fatalf("Failed to generate device id: %v", err)
	}
	cfg.Device.ID = id

	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}

	log.Infof("I am %s", id.String())
}
