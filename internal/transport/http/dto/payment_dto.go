package dto

import "time"

type PaymentCreateRequest struct {
	CourseID int64  `json:"course_id"`
	Channel  string `json:"channel"`
}

// TONInstructions tells the buyer what to send and how to mark it so the
// transfer can be matched back to the purchase.
type TONInstructions struct {
	Wallet          string `json:"wallet"`
	ExpectedNanoton int64  `json:"expected_nanoton"`
	Comment         string `json:"comment"`
}

type PaymentCreateResponse struct {
	AttemptID int64  `json:"attempt_id"`
	CourseID  int64  `json:"course_id"`
	Channel   string `json:"channel"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`

	// PayURL is set for the redirect gateways.
	PayURL string `json:"pay_url,omitempty"`
	// TON is set for on-chain transfers.
	TON *TONInstructions `json:"ton,omitempty"`
}

type PaymentStatusResponse struct {
	AttemptID     int64      `json:"attempt_id"`
	CourseID      int64      `json:"course_id"`
	Channel       string     `json:"channel"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	ExternalRef   string     `json:"external_ref,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
}

type PaymentVerifyResponse struct {
	Outcome   string `json:"outcome"`
	AttemptID int64  `json:"attempt_id,omitempty"`
	Status    string `json:"status,omitempty"`

	// Set while the transfer has not been observed yet.
	TON *TONInstructions `json:"ton,omitempty"`
}

type ConfirmGatewayRequest struct {
	ProviderTxID string `json:"provider_tx_id"`
}

type ConfirmGatewayResponse struct {
	AttemptID int64  `json:"attempt_id"`
	Status    string `json:"status"`
	GrantedTo int64  `json:"granted_to"`
	CourseID  int64  `json:"course_id"`
}

type RefundResponse struct {
	AttemptID int64  `json:"attempt_id"`
	Status    string `json:"status"`
}
