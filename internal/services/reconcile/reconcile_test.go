package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rey45eyh45/daromatx/internal/domain/enums"
	"github.com/rey45eyh45/daromatx/internal/infra/tonindex"
	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
)

// memLedger mimics the payment attempt table, including the uniqueness of
// external references and the pending-only settle transition.
type memLedger struct {
	mu       sync.Mutex
	nextID   int64
	attempts map[int64]pgrepo.PaymentAttemptRecord
	prices   map[int64]int64
	usedRefs map[string]int64
	now      time.Time
}

func newMemLedger(prices map[int64]int64) *memLedger {
	return &memLedger{
		attempts: make(map[int64]pgrepo.PaymentAttemptRecord),
		prices:   prices,
		usedRefs: make(map[string]int64),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (l *memLedger) Open(_ context.Context, buyerID, courseID int64, channel enums.PaymentChannel) (pgrepo.PaymentAttemptRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	price, ok := l.prices[courseID]
	if !ok {
		return pgrepo.PaymentAttemptRecord{}, pgrepo.ErrCourseNotFound
	}

	l.nextID++
	record := pgrepo.PaymentAttemptRecord{
		ID:        l.nextID,
		BuyerID:   buyerID,
		CourseID:  courseID,
		Amount:    price,
		Currency:  channel.Currency(),
		Channel:   channel.String(),
		Status:    enums.PaymentPending.String(),
		CreatedAt: l.now,
	}
	l.attempts[record.ID] = record
	return record, nil
}

func (l *memLedger) Settle(_ context.Context, attemptID int64, externalRef string) (pgrepo.PaymentAttemptRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.attempts[attemptID]
	if !ok {
		return pgrepo.PaymentAttemptRecord{}, false, pgrepo.ErrAttemptNotFound
	}
	if owner, claimed := l.usedRefs[externalRef]; claimed && owner != attemptID {
		return pgrepo.PaymentAttemptRecord{}, false, pgrepo.ErrExternalRefConflict
	}
	if record.Status == enums.PaymentSettled.String() {
		return record, false, nil
	}
	if record.Status != enums.PaymentPending.String() {
		return pgrepo.PaymentAttemptRecord{}, false, pgrepo.ErrAttemptInvalidState
	}

	settledAt := l.now
	record.Status = enums.PaymentSettled.String()
	record.ExternalRef = &externalRef
	record.SettledAt = &settledAt
	l.attempts[attemptID] = record
	l.usedRefs[externalRef] = attemptID
	return record, true, nil
}

func (l *memLedger) Fail(_ context.Context, attemptID int64, reason string) (pgrepo.PaymentAttemptRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.attempts[attemptID]
	if !ok {
		return pgrepo.PaymentAttemptRecord{}, pgrepo.ErrAttemptNotFound
	}
	if record.Status == enums.PaymentFailed.String() {
		return record, nil
	}
	if record.Status != enums.PaymentPending.String() {
		return pgrepo.PaymentAttemptRecord{}, pgrepo.ErrAttemptInvalidState
	}

	record.Status = enums.PaymentFailed.String()
	record.FailureReason = &reason
	l.attempts[attemptID] = record
	return record, nil
}

func (l *memLedger) Get(_ context.Context, attemptID int64) (pgrepo.PaymentAttemptRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.attempts[attemptID]
	if !ok {
		return pgrepo.PaymentAttemptRecord{}, pgrepo.ErrAttemptNotFound
	}
	return record, nil
}

func (l *memLedger) FindLatestPending(_ context.Context, buyerID, courseID int64, channel string) (pgrepo.PaymentAttemptRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var latest pgrepo.PaymentAttemptRecord
	found := false
	for _, record := range l.attempts {
		if record.BuyerID != buyerID || record.CourseID != courseID || record.Channel != channel {
			continue
		}
		if record.Status != enums.PaymentPending.String() {
			continue
		}
		if !found || record.ID > latest.ID {
			latest = record
			found = true
		}
	}
	if !found {
		return pgrepo.PaymentAttemptRecord{}, pgrepo.ErrAttemptNotFound
	}
	return latest, nil
}

func (l *memLedger) FindLatestSettled(_ context.Context, buyerID, courseID int64, channel string) (pgrepo.PaymentAttemptRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var latest pgrepo.PaymentAttemptRecord
	found := false
	for _, record := range l.attempts {
		if record.BuyerID != buyerID || record.CourseID != courseID || record.Channel != channel {
			continue
		}
		if record.Status != enums.PaymentSettled.String() {
			continue
		}
		if !found || record.ID > latest.ID {
			latest = record
			found = true
		}
	}
	if !found {
		return pgrepo.PaymentAttemptRecord{}, pgrepo.ErrAttemptNotFound
	}
	return latest, nil
}

func (l *memLedger) byStatus(status enums.PaymentStatus) []pgrepo.PaymentAttemptRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var records []pgrepo.PaymentAttemptRecord
	for _, record := range l.attempts {
		if record.Status == status.String() {
			records = append(records, record)
		}
	}
	return records
}

type memGranter struct {
	mu     sync.Mutex
	nextID int64
	rows   map[[2]int64]pgrepo.EntitlementRecord

	// failNext is returned from the next Grant call and then cleared,
	// standing in for a transient store outage.
	failNext error
}

func newMemGranter() *memGranter {
	return &memGranter{rows: make(map[[2]int64]pgrepo.EntitlementRecord)}
}

func (g *memGranter) Grant(_ context.Context, buyerID, courseID, viaAttemptID int64) (pgrepo.EntitlementRecord, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failNext != nil {
		err := g.failNext
		g.failNext = nil
		return pgrepo.EntitlementRecord{}, false, err
	}

	key := [2]int64{buyerID, courseID}
	if existing, ok := g.rows[key]; ok {
		return existing, false, nil
	}

	g.nextID++
	record := pgrepo.EntitlementRecord{
		ID:         g.nextID,
		BuyerID:    buyerID,
		CourseID:   courseID,
		GrantedVia: viaAttemptID,
		GrantedAt:  time.Now().UTC(),
	}
	g.rows[key] = record
	return record, true, nil
}

func (g *memGranter) Has(_ context.Context, buyerID, courseID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.rows[[2]int64{buyerID, courseID}]
	return ok, nil
}

type stubChain struct {
	transfers []tonindex.Transfer
	err       error
	calls     int
}

func (c *stubChain) RecentTransfers(_ context.Context, _ string, _ int) ([]tonindex.Transfer, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.transfers, nil
}

type stubLimiter struct {
	count int64
	ttl   time.Duration
	err   error
}

func (l *stubLimiter) IncrementWindow(_ context.Context, _ int64, _ time.Duration) (int64, time.Duration, error) {
	if l.err != nil {
		return 0, 0, l.err
	}
	l.count++
	return l.count, l.ttl, nil
}

func describeOutcome(o Outcome) string {
	return fmt.Sprintf("kind=%s attempt=%d", o.Kind, o.Attempt.ID)
}
