package cmd

import (
	"fmt"
	"strings"

	"github.com/duespark/dunning/internal/config"
	"github.com/duespark/dunning/internal/gateway"
)

// buildGateway assembles the messaging gateway from provider config. A
// provider without a base URL becomes the simulated backend (dev/test).
func buildGateway(cfg config.Config) (gateway.Gateway, error) {
	var provs []gateway.Provider
	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		if strings.TrimSpace(pc.BaseURL) == "" {
			provs = append(provs, gateway.NewSimulated(0.98, 0))
			continue
		}
		provs = append(provs,
			gateway.NewHTTPProvider(
				pc.Name,
				strings.TrimRight(pc.BaseURL, "/"),
				pc.EmailPath,
				pc.WhatsAppPath,
				pc.TimeoutMs,
				pc.Breaker.FailThreshold,
				pc.Breaker.OpenForMs,
			),
		)
	}
	if len(provs) == 0 {
		return nil, fmt.Errorf("no providers enabled in config")
	}

	return gateway.NewDispatcher(provs, 2), nil
}
