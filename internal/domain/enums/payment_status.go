package enums

// PaymentStatus is the ledger state of a purchase attempt.
//
// pending is the only initial state. settled and failed are terminal except
// for the administrative settled -> refunded transition.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentSettled  PaymentStatus = "settled"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) String() string {
	return string(s)
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentSettled || s == PaymentFailed || s == PaymentRefunded
}
