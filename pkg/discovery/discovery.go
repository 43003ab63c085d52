// Package discovery announces the instrument on the local network via
// mDNS so clients can find it without knowing its address.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"

	"github.com/homelab-rf/rfpm/pkg/config"
)

// serviceType is the mDNS service for raw-socket SCPI instruments.
const serviceType = "_scpi-raw._tcp"

// Announce registers the instrument's mDNS service and keeps it alive
// until the context is cancelled. The registration is refreshed on the
// configured interval so a dropped record comes back on its own.
func Announce(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	txt := []string{
		"model=" + cfg.Identity.Model,
		"serial=" + cfg.Identity.Serial,
		"version=" + cfg.Identity.Version,
	}

	register := func() (*zeroconf.Server, error) {
		return zeroconf.Register(
			cfg.Network.Hostname,
			serviceType,
			"local.",
			cfg.Network.Port,
			txt,
			nil,
		)
	}

	srv, err := register()
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	log.WithFields(logrus.Fields{
		"instance": cfg.Network.Hostname,
		"service":  serviceType,
		"port":     cfg.Network.Port,
	}).Info("mDNS service announced")

	interval := cfg.Network.AnnounceInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if srv != nil {
				srv.Shutdown()
			}
			return nil
		case <-ticker.C:
			if srv != nil {
				srv.Shutdown()
			}
			srv, err = register()
			if err != nil {
				log.WithError(err).Warn("mDNS re-register failed")
				srv = nil
			}
		}
	}
}
