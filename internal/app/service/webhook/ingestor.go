package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/fatflowers/billingd/internal/app/repo"
	"github.com/fatflowers/billingd/internal/app/service/authorization"
	"github.com/fatflowers/billingd/internal/app/service/notify"
	paysvc "github.com/fatflowers/billingd/internal/app/service/payment"
	"github.com/fatflowers/billingd/internal/app/service/signature"
	subsvc "github.com/fatflowers/billingd/internal/app/service/subscription"
	"github.com/fatflowers/billingd/internal/models"
	"github.com/fatflowers/billingd/pkg/config"
	"github.com/fatflowers/billingd/pkg/logctx"
	"github.com/fatflowers/billingd/pkg/metrics"
	"github.com/fatflowers/billingd/pkg/types"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Acknowledgment bodies on the gateway wire. The gateway inspects the body,
// not the HTTP status; AckSecurityFailed is a fixed protocol constant.
const (
	AckOK             = "1|OK"
	AckSecurityFailed = "0|Security Verification Failed"
	AckNotFound       = "0|Data Not Found"
	AckSystemError    = "0|System Error"
)

// Callback field names on the gateway wire.
const (
	fieldMemberID  = "MerchantMemberID"
	fieldRtnCode   = "RtnCode"
	fieldRtnMsg    = "RtnMsg"
	fieldAuthCode  = "AuthCode"
	fieldGwsr      = "gwsr"
	fieldAmount    = "Amount"
	fieldCardBrand = "CardBrand"
	fieldCardLast4 = "CardLast4"
)

const rtnCodeSuccess = "1"

// ErrNotFound marks a callback whose merchant_member_id/gwsr resolves to no
// ledger entity. Logged, negative ack, no mutation.
var ErrNotFound = errors.New("webhook entity not found")

// Ingestor converts raw gateway callbacks into durable, idempotent ledger
// transitions.
type Ingestor struct {
	cfg     *config.Config
	store   repo.Store
	codec   *signature.Codec
	authSvc *authorization.Service
	paySvc  *paysvc.Service
	queue   *notify.Queue
	log     *zap.SugaredLogger
}

func NewIngestor(cfg *config.Config, store repo.Store, codec *signature.Codec, authSvc *authorization.Service, paySvc *paysvc.Service, queue *notify.Queue, log *zap.SugaredLogger) *Ingestor {
	return &Ingestor{cfg: cfg, store: store, codec: codec, authSvc: authSvc, paySvc: paySvc, queue: queue, log: log}
}

func (i *Ingestor) Logger() *zap.SugaredLogger { return i.log }

// Receive handles one callback delivery end to end and returns the exact
// acknowledgment body for the gateway. Signature verification precedes any
// state mutation; the entity transition and its success audit row commit in
// one transaction.
func (i *Ingestor) Receive(ctx context.Context, kind types.WebhookType, raw url.Values) string {
	params := flatten(raw)
	now := time.Now()
	log := logctx.FromCtx(ctx, i.log)

	memberID := params[fieldMemberID]
	gwsr := params[fieldGwsr]

	// Resolve the owning entity first; an unresolvable callback is audited
	// and negatively acked without touching the ledger.
	auth, err := i.resolve(ctx, kind, memberID, gwsr)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, repo.ErrNotFound) {
			log.Warnw("webhook_entity_not_found", "type", kind, "merchant_member_id", memberID, "gwsr", gwsr)
			i.auditFailure(ctx, kind, params, i.codec.Verify(params) == nil, now, "entity not found")
			metrics.WebhookIngested.WithLabelValues(string(kind), metrics.WebhookResultNotFound).Inc()
			return AckNotFound
		}
		log.Errorw("webhook_resolve_failed", "type", kind, "err", err)
		metrics.WebhookIngested.WithLabelValues(string(kind), metrics.WebhookResultError).Inc()
		return AckSystemError
	}

	// Security boundary: nothing below runs on a bad signature.
	if err := i.codec.Verify(params); err != nil {
		log.Warnw("webhook_signature_rejected", "type", kind, "merchant_member_id", memberID)
		i.auditFailure(ctx, kind, params, false, now, err.Error())
		metrics.WebhookIngested.WithLabelValues(string(kind), metrics.WebhookResultBadSig).Inc()
		return AckSecurityFailed
	}

	var outcome *outcome
	txErr := i.store.Transaction(ctx, func(tx repo.Store) error {
		var err error
		switch kind {
		case types.WebhookTypeAuthCallback:
			outcome, err = i.applyAuthCallback(ctx, tx, auth, params, now)
		case types.WebhookTypeBillingCallback:
			outcome, err = i.applyBillingCallback(ctx, tx, auth, params, now)
		default:
			err = fmt.Errorf("unsupported webhook type: %s", kind)
		}
		return err
	})
	if txErr != nil {
		// Transient infra or an illegal transition. Audit outside the
		// aborted transaction; the gateway's own retry policy covers
		// transient failures.
		log.Errorw("webhook_apply_failed", "type", kind, "merchant_member_id", memberID, "err", txErr)
		i.auditFailure(ctx, kind, params, true, now, txErr.Error())
		var invalid *subsvc.InvalidTransitionError
		if errors.As(txErr, &invalid) {
			// The ledger refuses the transition (e.g. billing after a
			// deferred cancel ran out). Positive ack stops redelivery.
			metrics.WebhookIngested.WithLabelValues(string(kind), metrics.WebhookResultError).Inc()
			return AckOK
		}
		metrics.WebhookIngested.WithLabelValues(string(kind), metrics.WebhookResultError).Inc()
		return AckSystemError
	}

	if outcome.duplicate {
		log.Infow("webhook_duplicate_delivery", "type", kind, "merchant_member_id", memberID, "gwsr", gwsr)
		metrics.WebhookIngested.WithLabelValues(string(kind), metrics.WebhookResultDuplicate).Inc()
		return AckOK
	}

	// Side effects strictly after commit.
	if outcome.notifyJob != nil {
		i.queue.Enqueue(ctx, outcome.notifyJob)
	}
	metrics.WebhookIngested.WithLabelValues(string(kind), metrics.WebhookResultOK).Inc()
	log.Infow("webhook_handled", "type", kind, "merchant_member_id", memberID, "gwsr", gwsr)
	return AckOK
}

// outcome carries what the in-transaction handler decided, so side effects
// can run after commit.
type outcome struct {
	duplicate bool
	notifyJob *notify.Job
}

// resolve maps the callback onto its owning CreditAuthorization. Billing
// callbacks also accept a known gwsr (replay of an already-recorded charge).
func (i *Ingestor) resolve(ctx context.Context, kind types.WebhookType, memberID, gwsr string) (*models.CreditAuthorization, error) {
	if memberID != "" {
		auth, err := i.store.FindAuthorizationByMemberID(ctx, memberID)
		if err == nil {
			return auth, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}

	if kind == types.WebhookTypeBillingCallback && gwsr != "" {
		p, err := i.store.FindPaymentByGwsr(ctx, gwsr)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		sub, err := i.store.GetSubscription(ctx, p.SubscriptionID)
		if err != nil {
			return nil, err
		}
		return i.store.GetAuthorization(ctx, sub.AuthID)
	}

	return nil, ErrNotFound
}

// applyAuthCallback claims the authorization row and applies the handshake
// outcome. Idempotency key: merchant_member_id + auth_code.
func (i *Ingestor) applyAuthCallback(ctx context.Context, tx repo.Store, auth *models.CreditAuthorization, params map[string]string, now time.Time) (*outcome, error) {
	locked, err := tx.LockAuthorizationByMemberID(ctx, auth.MerchantMemberID)
	if err != nil {
		return nil, err
	}

	success := params[fieldRtnCode] == rtnCodeSuccess
	authCode := params[fieldAuthCode]

	alreadyApplied := (success && locked.Status == types.AuthorizationStatusActive && locked.AuthCode == authCode) ||
		(!success && locked.Status == types.AuthorizationStatusFailed)
	if alreadyApplied {
		if err := i.auditReplay(ctx, tx, types.WebhookTypeAuthCallback, params, now); err != nil {
			return nil, err
		}
		return &outcome{duplicate: true}, nil
	}

	var job *notify.Job
	if success {
		res := &authorization.AuthResult{
			AuthCode:  authCode,
			CardBrand: params[fieldCardBrand],
			CardLast4: params[fieldCardLast4],
		}
		if err := i.authSvc.OnAuthSuccess(ctx, tx, locked, res, now); err != nil {
			return nil, err
		}
		job = &notify.Job{Kind: notify.KindAuthActivated, UserID: locked.UserID}
	} else {
		if err := i.authSvc.OnAuthFailure(ctx, tx, locked, params[fieldRtnMsg]); err != nil {
			return nil, err
		}
	}

	if err := i.auditSuccess(ctx, tx, types.WebhookTypeAuthCallback, params, now, nil); err != nil {
		return nil, err
	}
	return &outcome{notifyJob: job}, nil
}

// applyBillingCallback claims the subscription row and records the charge.
// Idempotency key: gwsr.
func (i *Ingestor) applyBillingCallback(ctx context.Context, tx repo.Store, auth *models.CreditAuthorization, params map[string]string, now time.Time) (*outcome, error) {
	sub, err := tx.FindSubscriptionByAuthID(ctx, auth.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	locked, err := tx.LockSubscription(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	gwsr := params[fieldGwsr]
	if gwsr == "" {
		return nil, fmt.Errorf("missing gwsr")
	}
	if _, err := tx.FindPaymentByGwsr(ctx, gwsr); err == nil {
		if err := i.auditReplay(ctx, tx, types.WebhookTypeBillingCallback, params, now); err != nil {
			return nil, err
		}
		return &outcome{duplicate: true}, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	amount, err := strconv.ParseInt(params[fieldAmount], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", params[fieldAmount], err)
	}

	res := &paysvc.BillingResult{
		Gwsr:          gwsr,
		Success:       params[fieldRtnCode] == rtnCodeSuccess,
		Amount:        amount,
		AuthCode:      params[fieldAuthCode],
		FailureReason: params[fieldRtnMsg],
	}

	p, recErr := i.paySvc.RecordBillingResult(ctx, tx, locked, res, now)
	var mismatch *paysvc.AmountMismatchError
	if recErr != nil && !errors.As(recErr, &mismatch) {
		return nil, recErr
	}

	var resultErr *string
	if mismatch != nil {
		resultErr = lo.ToPtr(mismatch.Error())
	}
	if err := i.auditSuccess(ctx, tx, types.WebhookTypeBillingCallback, params, now, resultErr); err != nil {
		return nil, err
	}

	kind := notify.KindPaymentSuccess
	if !res.Success {
		kind = notify.KindPaymentFailed
	}
	return &outcome{notifyJob: &notify.Job{
		Kind:           kind,
		UserID:         locked.UserID,
		SubscriptionID: locked.ID,
		PaymentID:      p.ID,
	}}, nil
}

func (i *Ingestor) auditSuccess(ctx context.Context, tx repo.Store, kind types.WebhookType, params map[string]string, now time.Time, resultErr *string) error {
	row := buildLog(kind, params, now)
	row.Status = types.WebhookLogStatusSuccess
	row.SignatureVerified = true
	row.ErrorMessage = resultErr
	return tx.AppendWebhookLog(ctx, row)
}

func (i *Ingestor) auditReplay(ctx context.Context, tx repo.Store, kind types.WebhookType, params map[string]string, now time.Time) error {
	row := buildLog(kind, params, now)
	row.Status = types.WebhookLogStatusSuccess
	row.SignatureVerified = true
	result := datatypes.JSON([]byte(`{"duplicate":true}`))
	row.Result = &result
	return tx.AppendWebhookLog(ctx, row)
}

// auditFailure writes a failed audit row outside any transaction so it
// survives the abort.
func (i *Ingestor) auditFailure(ctx context.Context, kind types.WebhookType, params map[string]string, sigVerified bool, now time.Time, msg string) {
	row := buildLog(kind, params, now)
	row.Status = types.WebhookLogStatusFailed
	row.SignatureVerified = sigVerified
	row.ErrorMessage = lo.ToPtr(msg)
	if err := i.store.AppendWebhookLog(ctx, row); err != nil {
		logctx.FromCtx(ctx, i.log).Errorw("webhook_audit_write_failed", "type", kind, "err", err)
	}
}

func buildLog(kind types.WebhookType, params map[string]string, now time.Time) *models.WebhookLog {
	payload, _ := json.Marshal(params)
	row := &models.WebhookLog{
		WebhookType:      kind,
		MerchantMemberID: params[fieldMemberID],
		ReceivedAt:       now,
		Payload:          datatypes.JSON(payload),
	}
	if g := params[fieldGwsr]; g != "" {
		row.Gwsr = lo.ToPtr(g)
	}
	return row
}

func flatten(raw url.Values) map[string]string {
	params := make(map[string]string, len(raw))
	for k := range raw {
		params[k] = raw.Get(k)
	}
	return params
}
