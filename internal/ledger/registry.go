// Package ledger wires the external-ledger collaborators: the source-ledger
// deposit detector, the cross-chain bridge, and the destination yield pool.
// Provider selection is driven entirely by configuration; callers never
// inspect provider types at runtime.
package ledger

import (
	"fmt"
	"strings"

	"github.com/solturn/yieldbridge/internal/config"
	"github.com/solturn/yieldbridge/internal/domain"
	"github.com/solturn/yieldbridge/internal/ledger/intents"
	"github.com/solturn/yieldbridge/internal/ledger/pool"
	"github.com/solturn/yieldbridge/internal/ledger/sim"
	"github.com/solturn/yieldbridge/internal/ledger/zcash"
)

// Providers bundles the three external-ledger collaborators a running
// service needs.
type Providers struct {
	Detector domain.DepositDetector
	Bridge   domain.BridgeFinalizer
	Pool     domain.YieldPool
}

// Factory builds a provider set for the networks it declares. Factories are
// consulted in order and the first one matching the configured network wins.
type Factory struct {
	Name     string
	Networks []string
	New      func(cfg config.Config, poolCredential string) (Providers, error)
}

func (f Factory) matches(network string) bool {
	for _, n := range f.Networks {
		if n == network {
			return true
		}
	}
	return false
}

// defaultFactories is the ordered provider list: live clients on mainnet,
// in-memory simulations on testnet.
var defaultFactories = []Factory{
	{
		Name:     "live",
		Networks: []string{"mainnet"},
		New: func(cfg config.Config, poolCredential string) (Providers, error) {
			return Providers{
				Detector: zcash.NewDetector(
					cfg.Zcash.RPCURL,
					cfg.Zcash.RPCUser,
					cfg.Zcash.RPCPassword,
					cfg.Watcher.MinConfirmations,
				),
				Bridge: intents.NewBridge(cfg.Bridge.BaseURL, cfg.Bridge.APIKey),
				Pool:   pool.NewClient(cfg.Pool.BaseURL, cfg.Pool.AccountID, poolCredential),
			}, nil
		},
	},
	{
		Name:     "sim",
		Networks: []string{"testnet"},
		New: func(cfg config.Config, _ string) (Providers, error) {
			return Providers{
				Detector: sim.NewDetector(cfg.Watcher.MinConfirmations),
				Bridge:   sim.NewBridge(2),
				Pool:     sim.NewPool(),
			}, nil
		},
	},
}

// Select builds the provider set for the configured network. It returns the
// winning factory's name alongside the providers so startup logging can
// record which provider set is live.
func Select(cfg config.Config, poolCredential string) (Providers, string, error) {
	network := strings.ToLower(cfg.Network)
	for _, f := range defaultFactories {
		if !f.matches(network) {
			continue
		}
		p, err := f.New(cfg, poolCredential)
		if err != nil {
			return Providers{}, "", fmt.Errorf("ledger: build %s providers: %w", f.Name, err)
		}
		return p, f.Name, nil
	}
	return Providers{}, "", fmt.Errorf("ledger: no provider factory for network %q", cfg.Network)
}
