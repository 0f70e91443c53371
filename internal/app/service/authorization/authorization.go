package authorization

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fatflowers/billingd/internal/app/repo"
	"github.com/fatflowers/billingd/internal/app/service/signature"
	subsvc "github.com/fatflowers/billingd/internal/app/service/subscription"
	"github.com/fatflowers/billingd/internal/models"
	"github.com/fatflowers/billingd/pkg/config"
	"github.com/fatflowers/billingd/pkg/logctx"
	"github.com/fatflowers/billingd/pkg/tool"
	"github.com/fatflowers/billingd/pkg/types"

	"go.uber.org/zap"
)

// Gateway exec-times conventions: how many automatic charges the mandate
// covers before it must be renewed.
const (
	execTimesMonthly = 99
	execTimesAnnual  = 9
)

// AuthorizationRequest is what the REST layer relays to the client to start
// the gateway redirect: a pre-signed form posted to the gateway action URL.
type AuthorizationRequest struct {
	ActionURL        string            `json:"action_url"`
	FormData         map[string]string `json:"form_data"`
	MerchantMemberID string            `json:"merchant_member_id"`
	AuthID           string            `json:"auth_id"`
}

// AuthResult carries the provider echo fields from a successful handshake.
type AuthResult struct {
	AuthCode  string
	CardBrand string
	CardLast4 string
}

// Service manages the one-time card-tokenization handshake.
type Service struct {
	cfg    *config.Config
	store  repo.Store
	codec  *signature.Codec
	subSvc *subsvc.Service
	log    *zap.SugaredLogger
}

func NewService(cfg *config.Config, store repo.Store, codec *signature.Codec, subSvc *subsvc.Service, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, store: store, codec: codec, subSvc: subSvc, log: log}
}

// CreateAuthorization opens a pending handshake and returns the signed form
// the client posts to the gateway.
func (s *Service) CreateAuthorization(ctx context.Context, userID, planID string, cycle types.BillingCycle) (*AuthorizationRequest, error) {
	plan := s.cfg.GetPlanByID(planID)
	if plan == nil {
		return nil, fmt.Errorf("%w: %s", subsvc.ErrPlanNotFound, planID)
	}
	if !cycle.Valid() {
		return nil, fmt.Errorf("invalid billing cycle: %q", cycle)
	}

	now := time.Now()
	execTimes := execTimesMonthly
	if cycle == types.BillingCycleAnnual {
		execTimes = execTimesAnnual
	}

	auth := &models.CreditAuthorization{
		ID:               tool.GenerateUUIDV7(),
		UserID:           userID,
		MerchantMemberID: tool.GenerateMerchantMemberID(now),
		PlanID:           planID,
		PeriodType:       cycle.PeriodType(),
		PeriodAmount:     plan.PriceFor(cycle),
		ExecTimes:        execTimes,
		Status:           types.AuthorizationStatusPending,
	}
	if err := s.store.SaveAuthorization(ctx, auth); err != nil {
		return nil, fmt.Errorf("failed to save authorization: %w", err)
	}

	form := map[string]string{
		"MerchantID":       s.cfg.Gateway.MerchantID,
		"MerchantMemberID": auth.MerchantMemberID,
		"PeriodType":       auth.PeriodType,
		"PeriodAmt":        strconv.FormatInt(auth.PeriodAmount, 10),
		"ExecTimes":        strconv.Itoa(auth.ExecTimes),
		"TimeStamp":        strconv.FormatInt(now.Unix(), 10),
	}
	form[signature.Field] = s.codec.Sign(form)

	logctx.FromCtx(ctx, s.log).Infow("authorization_created",
		"auth_id", auth.ID, "user_id", userID, "merchant_member_id", auth.MerchantMemberID, "plan_id", planID)

	return &AuthorizationRequest{
		ActionURL:        s.cfg.Gateway.ActionURL,
		FormData:         form,
		MerchantMemberID: auth.MerchantMemberID,
		AuthID:           auth.ID,
	}, nil
}

// OnAuthSuccess activates the handshake and creates the single subscription
// it owns. It runs inside the webhook transaction; the ingestor's
// idempotency claim guards the create-exactly-once contract.
func (s *Service) OnAuthSuccess(ctx context.Context, tx repo.Store, auth *models.CreditAuthorization, res *AuthResult, now time.Time) error {
	if auth.Status.Terminal() {
		return fmt.Errorf("authorization %s is terminal (%s); reauthorization requires a new handshake", auth.ID, auth.Status)
	}

	auth.Status = types.AuthorizationStatusActive
	auth.AuthCode = res.AuthCode
	auth.CardBrand = res.CardBrand
	auth.CardLast4 = res.CardLast4
	if err := tx.SaveAuthorization(ctx, auth); err != nil {
		return fmt.Errorf("failed to save authorization: %w", err)
	}

	if _, err := s.subSvc.CreateFromAuthorization(ctx, tx, auth, now); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// OnAuthFailure marks the handshake failed. Terminal: no subscription is
// ever created for this row. Only a pending handshake can fail; a late
// failure callback for an already-settled row is ignored so it cannot strand
// an active subscription on a failed authorization.
func (s *Service) OnAuthFailure(ctx context.Context, tx repo.Store, auth *models.CreditAuthorization, reason string) error {
	if auth.Status != types.AuthorizationStatusPending {
		logctx.FromCtx(ctx, s.log).Warnw("authorization_failure_ignored",
			"auth_id", auth.ID, "status", auth.Status, "reason", reason)
		return nil
	}
	auth.Status = types.AuthorizationStatusFailed
	if err := tx.SaveAuthorization(ctx, auth); err != nil {
		return fmt.Errorf("failed to save authorization: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Warnw("authorization_failed",
		"auth_id", auth.ID, "merchant_member_id", auth.MerchantMemberID, "reason", reason)
	return nil
}
