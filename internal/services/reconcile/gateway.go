package reconcile

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/rey45eyh45/daromatx/internal/config"
	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
)

const (
	clickPayBase = "https://my.click.uz/services/pay"
	paymePayBase = "https://checkout.paycom.uz/"
)

// GatewayVerifier covers the Click and Payme redirect gateways. It builds
// the hosted-checkout links and settles attempts when an operator confirms
// the money in the provider's merchant cabinet.
type GatewayVerifier struct {
	coordinator *Coordinator
	click       config.ClickConfig
	payme       config.PaymeConfig
	logger      *zap.Logger
}

func NewGatewayVerifier(coordinator *Coordinator, click config.ClickConfig, payme config.PaymeConfig, logger *zap.Logger) *GatewayVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayVerifier{
		coordinator: coordinator,
		click:       click,
		payme:       payme,
		logger:      logger,
	}
}

// ClickPayURL builds the hosted payment link for an attempt. The attempt
// id rides along as transaction_param so the operator can find the row
// this payment belongs to.
func (v *GatewayVerifier) ClickPayURL(attempt pgrepo.PaymentAttemptRecord) string {
	query := url.Values{}
	query.Set("service_id", v.click.ServiceID)
	query.Set("merchant_id", v.click.MerchantID)
	query.Set("amount", strconv.FormatInt(attempt.Amount, 10))
	query.Set("transaction_param", strconv.FormatInt(attempt.ID, 10))
	return clickPayBase + "?" + query.Encode()
}

// PaymePayURL builds the hosted checkout link. Payme encodes the merchant
// id, order reference and amount (in tiyin) as base64 path parameters.
func (v *GatewayVerifier) PaymePayURL(attempt pgrepo.PaymentAttemptRecord) string {
	params := fmt.Sprintf("m=%s;ac.order_id=%d;a=%d", v.payme.MerchantID, attempt.ID, attempt.Amount*100)
	return paymePayBase + base64.StdEncoding.EncodeToString([]byte(params))
}

// Confirm settles a gateway attempt after an operator verified the payment
// in the provider's cabinet. The caller is gated by the admin token.
//
// TODO: verify the provider's callback signature here once Click/Payme
// server-to-server callbacks are enabled for the merchant account; until
// then manual confirmation is the only settlement path for these rails.
func (v *GatewayVerifier) Confirm(ctx context.Context, attemptID int64, providerTxID string) (Outcome, error) {
	outcome, err := v.coordinator.settleAndGrant(ctx, attemptID, providerTxID)
	if err != nil {
		return Outcome{}, fmt.Errorf("confirm gateway attempt %d: %w", attemptID, err)
	}
	return outcome, nil
}
