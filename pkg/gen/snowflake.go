package gen

import (
	"fmt"

	"merchant-voucher/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("gen", fx.Provide(ProvideSnowflakeNode))

// ProvideSnowflakeNode builds the id node from SUBMISSION.NODE_ID. Every
// replica writing proposals needs its own node id.
func ProvideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.Submission.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to init snowflake node %d: %w", cfg.Submission.NodeID, err)
	}
	return node, nil
}
