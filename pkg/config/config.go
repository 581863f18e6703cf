package config

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
	backend      = "consul"
	backendAddr  = "127.0.0.1:8500"
	backendPath  = "development" // e.g., app/<env>/<service_name>
	configType   = "yaml"
)

type Contract struct {
	Label string `mapstructure:"LABEL"`
	Alias string `mapstructure:"ALIAS"`
}

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
		Insecure bool   `mapstructure:"INSECURE"`
	} `mapstructure:"OTEL"`
	Log struct {
		Level string `mapstructure:"LEVEL"`
		File  struct {
			Path       string `mapstructure:"PATH"`
			MaxSizeMB  int    `mapstructure:"MAX_SIZE_MB"`
			MaxBackups int    `mapstructure:"MAX_BACKUPS"`
			MaxAgeDays int    `mapstructure:"MAX_AGE_DAYS"`
		} `mapstructure:"FILE"`
	} `mapstructure:"LOG"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr           string        `mapstructure:"ADDR"`
		ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout    time.Duration `mapstructure:"IDLE_TIMEOUT"`
		UseUnixSocket  bool          `mapstructure:"USE_UNIX_SOCKET"`
		UnixSocketPath string        `mapstructure:"UNIX_SOCKET_PATH"`
	} `mapstructure:"HTTP_SERVER"`
	Consul struct {
		Addr      string `mapstructure:"ADDR"`
		ServiceID string `mapstructure:"SERVICE_ID"`
		Host      string `mapstructure:"HOST"`
		Port      int    `mapstructure:"PORT"`
	} `mapstructure:"CONSUL"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		SlowQuery      time.Duration `mapstructure:"SLOW_QUERY"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Auth struct {
		HMACSecret string        `mapstructure:"HMAC_SECRET"`
		Issuer     string        `mapstructure:"ISSUER"`
		Audience   string        `mapstructure:"AUDIENCE"`
		Leeway     time.Duration `mapstructure:"LEEWAY"`
	} `mapstructure:"AUTH"`
	RateLimit struct {
		ProposalsPerMinute float64 `mapstructure:"PROPOSALS_PER_MINUTE"`
		Burst              int     `mapstructure:"BURST"`
	} `mapstructure:"RATE_LIMIT"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	AccessControl struct {
		Model  string `mapstructure:"MODEL"`
		Policy string `mapstructure:"POLICY"`
	} `mapstructure:"ACCESS_CONTROL"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Gateway struct {
		BaseURL string        `mapstructure:"BASE_URL"`
		APIKey  string        `mapstructure:"API_KEY"`
		Chain   string        `mapstructure:"CHAIN"`
		ChainID uint64        `mapstructure:"CHAIN_ID"`
		Timeout time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"GATEWAY"`
	Contracts struct {
		Merchant Contract `mapstructure:"MERCHANT"`
		Voucher  Contract `mapstructure:"VOUCHER"`
	} `mapstructure:"CONTRACTS"`
	Projector struct {
		PollInterval time.Duration `mapstructure:"POLL_INTERVAL"`
		PageLimit    int           `mapstructure:"PAGE_LIMIT"`
		RecentSize   int           `mapstructure:"RECENT_SIZE"`
	} `mapstructure:"PROJECTOR"`
	Submission struct {
		ConfirmTimeout time.Duration `mapstructure:"CONFIRM_TIMEOUT"`
		PollInterval   time.Duration `mapstructure:"POLL_INTERVAL"`
		ProposalTTL    time.Duration `mapstructure:"PROPOSAL_TTL"`
		NodeID         int64         `mapstructure:"NODE_ID"`
	} `mapstructure:"SUBMISSION"`
	Worker struct {
		Concurrency int `mapstructure:"CONCURRENCY"`
	} `mapstructure:"WORKER"`
	Snapshot struct {
		Prefix string `mapstructure:"PREFIX"`
		Daily  bool   `mapstructure:"DAILY"`
		Hour   int    `mapstructure:"HOUR"`
	} `mapstructure:"SNAPSHOT"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))
var RemoteModule = fx.Module("remote.config", fx.Provide(LoadRemote))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "merchant-voucher")
	v.SetDefault("HTTP_SERVER.ADDR", ":8080")
	v.SetDefault("GRPC_SERVER.ADDR", ":9090")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SLOW_QUERY", 200*time.Millisecond)
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("LOG.LEVEL", "info")
	v.SetDefault("LOG.FILE.MAX_SIZE_MB", 100)
	v.SetDefault("LOG.FILE.MAX_BACKUPS", 7)
	v.SetDefault("LOG.FILE.MAX_AGE_DAYS", 30)
	v.SetDefault("GATEWAY.CHAIN", "ethereum")
	v.SetDefault("GATEWAY.TIMEOUT", 15*time.Second)
	v.SetDefault("CONTRACTS.MERCHANT.LABEL", "merchant_certification")
	v.SetDefault("CONTRACTS.MERCHANT.ALIAS", "merchant_certification")
	v.SetDefault("CONTRACTS.VOUCHER.LABEL", "voucher_token")
	v.SetDefault("CONTRACTS.VOUCHER.ALIAS", "voucher_token")
	v.SetDefault("PROJECTOR.POLL_INTERVAL", 5*time.Second)
	v.SetDefault("PROJECTOR.PAGE_LIMIT", 50)
	v.SetDefault("PROJECTOR.RECENT_SIZE", 200)
	v.SetDefault("SUBMISSION.CONFIRM_TIMEOUT", 60*time.Second)
	v.SetDefault("SUBMISSION.POLL_INTERVAL", 2*time.Second)
	v.SetDefault("SUBMISSION.PROPOSAL_TTL", 24*time.Hour)
	v.SetDefault("SUBMISSION.NODE_ID", 1)
	v.SetDefault("WORKER.CONCURRENCY", 10)
	v.SetDefault("RATE_LIMIT.PROPOSALS_PER_MINUTE", 60)
	v.SetDefault("RATE_LIMIT.BURST", 10)
	v.SetDefault("MINIO.BUCKET_NAME", "voucher-snapshots")
	v.SetDefault("SNAPSHOT.PREFIX", "snapshots")
	v.SetDefault("SNAPSHOT.HOUR", 1)
}

func LoadConfig(p Params) *Config {
	setDefaults(config)
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		if err := applySecrets(context.Background(), p.Vault, &cfg); err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
	}

	configHolder.Store(&cfg)
	return &cfg
}

// applySecrets overrides credentials with the values stored in vault under
// secret/<APP_ENV>. Missing keys keep the file value.
func applySecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		return err
	}
	zap.L().Info("Success Get Secret")

	set := func(dst *string, key string) {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			*dst = val
		}
	}

	set(&cfg.Database.User, "postgres_user")
	set(&cfg.Database.Password, "postgres_password")
	set(&cfg.Redis.Password, "redis_password")
	set(&cfg.Flagsmith.ApiKey, "flagsmith_api_key")
	set(&cfg.Gateway.APIKey, "gateway_api_key")
	set(&cfg.Minio.SecretKey, "minio_secret_key")
	set(&cfg.Auth.HMACSecret, "auth_hmac_secret")
	return nil
}

func LoadRemote(p Params) *Config {
	if p.Vault == nil {
		zap.L().Error("vault can't provide")
		os.Exit(1)
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	setDefaults(config)
	config.SetConfigType(configType)
	if err := config.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		os.Exit(1)
	}

	if err := config.ReadRemoteConfig(); err != nil {
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}

	if err := applySecrets(context.Background(), p.Vault, &cfg); err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}
	configHolder.Store(&cfg)

	go func() {
		for {
			time.Sleep(time.Second * 5)

			if err := config.WatchRemoteConfig(); err != nil {
				zap.L().Error("unable to read remote config", zap.Error(err))
				continue
			}

			// secrets are not re-read on reload; keep the ones already resolved
			var newcfg Config
			if err := config.Unmarshal(&newcfg); err != nil {
				continue
			}
			newcfg.Database.User = cfg.Database.User
			newcfg.Database.Password = cfg.Database.Password
			newcfg.Redis.Password = cfg.Redis.Password
			newcfg.Flagsmith.ApiKey = cfg.Flagsmith.ApiKey
			newcfg.Gateway.APIKey = cfg.Gateway.APIKey
			newcfg.Minio.SecretKey = cfg.Minio.SecretKey
			configHolder.Store(&newcfg)
		}
	}()

	return &cfg
}

// Current returns the latest loaded configuration, including remote reloads.
func Current() *Config {
	if cfg, ok := configHolder.Load().(*Config); ok {
		return cfg
	}
	return nil
}
