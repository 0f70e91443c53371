package signature

import (
	"github.com/fatflowers/billingd/pkg/config"

	"go.uber.org/fx"
)

// NewFromConfig builds the codec from the gateway secret material.
func NewFromConfig(cfg *config.Config) *Codec {
	return NewCodec(cfg.Gateway.HashKey, cfg.Gateway.HashIV)
}

var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
