package cmd

import (
	"fmt"

	"github.com/chiquitav2/psk-broker/internal/audit"
	"github.com/chiquitav2/psk-broker/internal/config"
	"github.com/chiquitav2/psk-broker/internal/events"
	"github.com/chiquitav2/psk-broker/pkg/logger"
)

// outcomeBus returns the event bus for broker outcomes, with the audit ledger
// subscribed when enabled. The returned func releases both.
func outcomeBus(cfg *config.Config, log *logger.Logger) (*events.Bus, func(), error) {
	bus := events.NewBus(log)
	if !cfg.Audit.Enabled {
		return bus, func() { bus.Close() }, nil
	}

	store, err := audit.Open(cfg.Audit.Path, log)
	if err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("failed to open audit ledger: %w", err)
	}
	store.Subscribe(bus)
	return bus, func() {
		bus.Close()
		store.Close()
	}, nil
}
