package app

import (
	"time"

	"github.com/fatflowers/billingd/internal/app/api/server"
	"github.com/fatflowers/billingd/internal/app/repo"
	"github.com/fatflowers/billingd/internal/app/service/authorization"
	"github.com/fatflowers/billingd/internal/app/service/notify"
	"github.com/fatflowers/billingd/internal/app/service/payment"
	"github.com/fatflowers/billingd/internal/app/service/signature"
	"github.com/fatflowers/billingd/internal/app/service/subscription"
	"github.com/fatflowers/billingd/internal/app/service/sweeper"
	"github.com/fatflowers/billingd/internal/app/service/usage"
	"github.com/fatflowers/billingd/internal/app/service/webhook"
	"github.com/fatflowers/billingd/internal/platform/db"
	"github.com/fatflowers/billingd/internal/platform/redis"
	"github.com/fatflowers/billingd/pkg/config"
	"github.com/fatflowers/billingd/pkg/logger"

	"go.uber.org/fx"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	redis.Module,
	repo.Module,
	signature.Module,
	subscription.Module,
	payment.Module,
	authorization.Module,
	notify.Module,
	webhook.Module,
	usage.Module,
	sweeper.Module,
	server.Module,
)
