package secretmanager

import (
	"os"
	"time"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides a vault client configured from VAULT_* variables.
var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

// ProvideVault returns a nil client when VAULT_ADDR is unset so that
// credentials are read from the config file alone.
func ProvideVault() (*vault.Client, error) {
	if os.Getenv("VAULT_ADDR") == "" {
		zap.L().Info("VAULT_ADDR not set, secrets come from config")
		return nil, nil
	}

	client, err := vault.New(
		vault.WithEnvironment(),
		vault.WithRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, err
	}

	return client, nil
}
