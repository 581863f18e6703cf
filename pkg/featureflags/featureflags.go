package featureflags

import (
	"context"

	"merchant-voucher/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

// Proposal kinds can be switched off per identity. The flag name is the
// kind prefixed with "proposals_", e.g. proposals_open-pool.
const ProposalFlagPrefix = "proposals_"

type FeatureFlag interface {
	Enabled(ctx context.Context, identifier, feature string) bool
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return AllEnabled{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithBaseURL(p.Config.Flagsmith.Addr),
		flagsmith.WithAnalytics(),
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

// Enabled fails open: a flag that is unknown or cannot be fetched does not
// block the feature.
func (s *featureflag) Enabled(ctx context.Context, identifier, feature string) bool {
	flags, err := s.client.GetIdentityFlags(identifier, nil)
	if err != nil {
		zap.L().Warn("[FeatureFlag] failed to fetch flags", zap.String("identifier", identifier), zap.Error(err))
		return true
	}

	enabled, err := flags.IsFeatureEnabled(feature)
	if err != nil {
		return true
	}
	return enabled
}

type AllEnabled struct{}

func (AllEnabled) Enabled(context.Context, string, string) bool { return true }

// Static is a fixed flag set, used by tests and local runs.
type Static map[string]bool

func (s Static) Enabled(_ context.Context, _ string, feature string) bool {
	enabled, ok := s[feature]
	return !ok || enabled
}
