package gateway

import (
	"merchant-voucher/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(
		ProvideConfig,
		ProvideContracts,
		ProvideClient,
	),
)

// Contracts are the two deployments the service reads from and writes to.
type Contracts struct {
	Merchant Contract
	Voucher  Contract
}

func ProvideConfig(cfg *config.Config) Config {
	return Config{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey,
		Chain:   cfg.Gateway.Chain,
		ChainID: cfg.Gateway.ChainID,
		Timeout: cfg.Gateway.Timeout,
	}
}

func ProvideContracts(cfg *config.Config) Contracts {
	return Contracts{
		Merchant: Contract{Alias: cfg.Contracts.Merchant.Alias, Label: cfg.Contracts.Merchant.Label},
		Voucher:  Contract{Alias: cfg.Contracts.Voucher.Alias, Label: cfg.Contracts.Voucher.Label},
	}
}

func ProvideClient(cfg Config) Client {
	zap.L().Info("ledger gateway configured", zap.String("base_url", cfg.BaseURL), zap.String("chain", cfg.Chain))
	return NewRestClient(cfg)
}
