package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rey45eyh45/daromatx/internal/config"
	"github.com/rey45eyh45/daromatx/internal/domain/enums"
	"github.com/rey45eyh45/daromatx/internal/infra/tonindex"
)

const (
	testWallet  = "UQD7hkW5-rC8EHHZAmMAnzhddHxexDQKx26ttycUq8hLKVSu"
	testBuyer   = int64(777)
	testCourse  = int64(42)
	testPrice   = int64(299000)
	testRatePer = int64(50000)
)

// 299000 / 50000 = 5.98 TON.
const expectedNano = int64(5_980_000_000)

func tonConfig() config.TONConfig {
	return config.TONConfig{
		Wallet:         testWallet,
		RequestTimeout: 30 * time.Second,
		FiatPerTON:     testRatePer,
		TolerancePct:   90,
		MatchWindow:    24 * time.Hour,
		ScanLimit:      50,
		PollMaxPerMin:  6,
	}
}

type tonFixture struct {
	ledger   *memLedger
	granter  *memGranter
	chain    *stubChain
	verifier *TONVerifier
}

func newTONFixture(chain *stubChain, limiter PollLimiter) *tonFixture {
	ledger := newMemLedger(map[int64]int64{testCourse: testPrice})
	granter := newMemGranter()
	coordinator := NewCoordinator(ledger, granter, nil)

	verifier := NewTONVerifier(coordinator, ledger, chain, limiter, tonConfig(), nil)
	verifier.now = func() time.Time { return ledger.now }

	return &tonFixture{
		ledger:   ledger,
		granter:  granter,
		chain:    chain,
		verifier: verifier,
	}
}

func (f *tonFixture) transferAt(age time.Duration, value int64, comment string) tonindex.Transfer {
	return tonindex.Transfer{
		Hash:     "hash_" + comment,
		At:       f.ledger.now.Add(-age),
		Value:    value,
		Comment:  comment,
		Incoming: true,
	}
}

func TestTONVerifySettlesMatchingTransfer(t *testing.T) {
	chain := &stubChain{}
	f := newTONFixture(chain, nil)
	chain.transfers = []tonindex.Transfer{
		f.transferAt(10*time.Minute, expectedNano, "course_42"),
	}

	outcome, err := f.verifier.Verify(context.Background(), testBuyer, testCourse)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.Kind != OutcomeSettled {
		t.Fatalf("outcome: %s, want settled", describeOutcome(outcome))
	}

	settled := f.ledger.byStatus(enums.PaymentSettled)
	if len(settled) != 1 {
		t.Fatalf("got %d settled attempts, want 1", len(settled))
	}
	attempt := settled[0]
	if attempt.Amount != testPrice || attempt.Channel != "ton" {
		t.Fatalf("attempt froze %+v, want fiat price %d on ton", attempt, testPrice)
	}
	if attempt.ExternalRef == nil || *attempt.ExternalRef != "hash_course_42" {
		t.Fatalf("external ref = %v, want tx hash", attempt.ExternalRef)
	}
	if attempt.SettledAt == nil {
		t.Fatalf("settled attempt must carry settled_at")
	}

	has, err := f.granter.Has(context.Background(), testBuyer, testCourse)
	if err != nil || !has {
		t.Fatalf("entitlement after settle: has = %v, err = %v", has, err)
	}
}

func TestTONVerifySecondCallAlreadyEntitled(t *testing.T) {
	chain := &stubChain{}
	f := newTONFixture(chain, nil)
	chain.transfers = []tonindex.Transfer{
		f.transferAt(10*time.Minute, expectedNano, "course_42_777"),
	}

	if _, err := f.verifier.Verify(context.Background(), testBuyer, testCourse); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	outcome, err := f.verifier.Verify(context.Background(), testBuyer, testCourse)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if outcome.Kind != OutcomeAlreadyEntitled {
		t.Fatalf("second verify outcome: %s, want already_entitled", describeOutcome(outcome))
	}

	if settled := f.ledger.byStatus(enums.PaymentSettled); len(settled) != 1 {
		t.Fatalf("got %d settled attempts after repeat verify, want 1", len(settled))
	}
	if chain.calls != 1 {
		t.Fatalf("indexer called %d times, want 1 (entitled short-circuits)", chain.calls)
	}
}

func TestTONToleranceBoundary(t *testing.T) {
	exactFloor := expectedNano * 90 / 100

	cases := []struct {
		name  string
		value int64
		want  OutcomeKind
	}{
		{"exactly 90 percent settles", exactFloor, OutcomeSettled},
		{"one nanoton under floor stays pending", exactFloor - 1, OutcomeNotFoundYet},
		{"overpayment settles", expectedNano + nanotonPerTON, OutcomeSettled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chain := &stubChain{}
			f := newTONFixture(chain, nil)
			chain.transfers = []tonindex.Transfer{
				f.transferAt(time.Hour, tc.value, "course_42"),
			}

			outcome, err := f.verifier.Verify(context.Background(), testBuyer, testCourse)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if outcome.Kind != tc.want {
				t.Fatalf("outcome: %s, want %s", describeOutcome(outcome), tc.want)
			}
		})
	}
}

func TestTONVerifySkipsNonMatchingTransfers(t *testing.T) {
	chain := &stubChain{}
	f := newTONFixture(chain, nil)

	outgoing := f.transferAt(time.Minute, expectedNano, "course_42")
	outgoing.Incoming = false

	chain.transfers = []tonindex.Transfer{
		outgoing,
		f.transferAt(30*time.Minute, expectedNano, "course_7"),
		f.transferAt(time.Hour, expectedNano, "invoice 991"),
		f.transferAt(25*time.Hour, expectedNano, "course_42"),
	}

	outcome, err := f.verifier.Verify(context.Background(), testBuyer, testCourse)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.Kind != OutcomeNotFoundYet {
		t.Fatalf("outcome: %s, want not_found_yet", describeOutcome(outcome))
	}
	if outcome.ExpectedNanoton != expectedNano {
		t.Fatalf("expected nanoton = %d, want %d", outcome.ExpectedNanoton, expectedNano)
	}
	if outcome.Wallet != testWallet {
		t.Fatalf("wallet = %q, want configured wallet", outcome.Wallet)
	}

	if pending := f.ledger.byStatus(enums.PaymentPending); len(pending) != 1 {
		t.Fatalf("got %d pending attempts, want the opened one kept pending", len(pending))
	}
}

func TestTONVerifyMatchesCommentCaseInsensitively(t *testing.T) {
	chain := &stubChain{}
	f := newTONFixture(chain, nil)
	chain.transfers = []tonindex.Transfer{
		f.transferAt(time.Hour, expectedNano, "Payment COURSE_42_777 from wallet"),
	}

	outcome, err := f.verifier.Verify(context.Background(), testBuyer, testCourse)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.Kind != OutcomeSettled {
		t.Fatalf("outcome: %s, want settled", describeOutcome(outcome))
	}
}

func TestTONVerifyFirstMatchWins(t *testing.T) {
	chain := &stubChain{}
	f := newTONFixture(chain, nil)
	// Indexer returns newest first; both transfers qualify.
	chain.transfers = []tonindex.Transfer{
		f.transferAt(10*time.Minute, expectedNano, "course_42"),
		f.transferAt(2*time.Hour, expectedNano, "course_42_777"),
	}

	outcome, err := f.verifier.Verify(context.Background(), testBuyer, testCourse)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.Kind != OutcomeSettled {
		t.Fatalf("outcome: %s, want settled", describeOutcome(outcome))
	}
	if outcome.Attempt.ExternalRef == nil || *outcome.Attempt.ExternalRef != "hash_course_42" {
		t.Fatalf("external ref = %v, want the newest transfer's hash", outcome.Attempt.ExternalRef)
	}
}

func TestTONVerifyIndexerErrorIsRetryable(t *testing.T) {
	chain := &stubChain{err: errors.New("dial tcp: i/o timeout")}
	f := newTONFixture(chain, nil)

	outcome, err := f.verifier.Verify(context.Background(), testBuyer, testCourse)
	if err != nil {
		t.Fatalf("indexer failure must not surface as an error: %v", err)
	}
	if outcome.Kind != OutcomeNotFoundYet {
		t.Fatalf("outcome: %s, want not_found_yet", describeOutcome(outcome))
	}

	// The attempt survives for a later round; it must never fail because
	// the indexer was down.
	if pending := f.ledger.byStatus(enums.PaymentPending); len(pending) != 1 {
		t.Fatalf("got %d pending attempts, want 1", len(pending))
	}
	if failed := f.ledger.byStatus(enums.PaymentFailed); len(failed) != 0 {
		t.Fatalf("indexer failure produced %d failed attempts, want 0", len(failed))
	}
}

func TestTONVerifyThrottlesExcessPolling(t *testing.T) {
	chain := &stubChain{}
	limiter := &stubLimiter{count: 6, ttl: 42 * time.Second}
	f := newTONFixture(chain, limiter)

	outcome, err := f.verifier.Verify(context.Background(), testBuyer, testCourse)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.Kind != OutcomeThrottled {
		t.Fatalf("outcome: %s, want throttled", describeOutcome(outcome))
	}
	if outcome.RetryAfter != 42*time.Second {
		t.Fatalf("retry after = %v, want limiter ttl", outcome.RetryAfter)
	}
	if chain.calls != 0 {
		t.Fatalf("indexer called %d times while throttled, want 0", chain.calls)
	}
}

func TestTONVerifyLimiterFailureDoesNotBlock(t *testing.T) {
	chain := &stubChain{}
	f := newTONFixture(chain, &stubLimiter{err: errors.New("redis down")})
	chain.transfers = []tonindex.Transfer{
		f.transferAt(time.Hour, expectedNano, "course_42"),
	}

	outcome, err := f.verifier.Verify(context.Background(), testBuyer, testCourse)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.Kind != OutcomeSettled {
		t.Fatalf("outcome: %s, want settled despite limiter failure", describeOutcome(outcome))
	}
}

func TestTONVerifyReusesPendingAttempt(t *testing.T) {
	chain := &stubChain{}
	f := newTONFixture(chain, nil)

	opened, err := f.ledger.Open(context.Background(), testBuyer, testCourse, enums.ChannelTON)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := f.verifier.Verify(context.Background(), testBuyer, testCourse); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := f.verifier.Verify(context.Background(), testBuyer, testCourse); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if pending := f.ledger.byStatus(enums.PaymentPending); len(pending) != 1 || pending[0].ID != opened.ID {
		t.Fatalf("repeat polling must reuse attempt %d, got %+v", opened.ID, pending)
	}
}

func TestExpectedNanoton(t *testing.T) {
	if got := ExpectedNanoton(testPrice, testRatePer); got != expectedNano {
		t.Fatalf("ExpectedNanoton(%d, %d) = %d, want %d", testPrice, testRatePer, got, expectedNano)
	}
	if got := ExpectedNanoton(0, testRatePer); got != 0 {
		t.Fatalf("zero amount must yield 0, got %d", got)
	}
	if got := ExpectedNanoton(testPrice, 0); got != 0 {
		t.Fatalf("zero rate must yield 0, got %d", got)
	}
}

func TestMatchesComment(t *testing.T) {
	cases := []struct {
		comment string
		want    bool
	}{
		{"course_42", true},
		{"course_42_777", true},
		{"COURSE_42", true},
		{"sending for Course_42_777 thanks", true},
		{"course_7", false},
		{"", false},
		{"order 42", false},
		// A longer id must never be claimed by a shorter prefix.
		{"course_420", false},
		{"course_425_777", false},
	}

	for _, tc := range cases {
		if got := MatchesComment(tc.comment, testCourse, testBuyer); got != tc.want {
			t.Fatalf("MatchesComment(%q) = %v, want %v", tc.comment, got, tc.want)
		}
	}
}

func TestTONVerifyNeverClaimsLongerCourseIdTransfer(t *testing.T) {
	chain := &stubChain{}
	fixture := newTONFixture(chain, &stubLimiter{ttl: time.Minute})
	fixture.ledger.prices[4] = 50000 // 1 TON at the test rate
	chain.transfers = []tonindex.Transfer{fixture.transferAt(time.Minute, expectedNano, "course_42")}

	ctx := context.Background()
	outcome, err := fixture.verifier.Verify(ctx, testBuyer, 4)
	if err != nil {
		t.Fatalf("Verify course 4: %v", err)
	}
	if outcome.Kind != OutcomeNotFoundYet {
		t.Fatalf("course 4 claimed course 42's transfer: %s", describeOutcome(outcome))
	}
	if owned, _ := fixture.granter.Has(ctx, testBuyer, 4); owned {
		t.Fatal("course 4 granted off a transfer commented for course 42")
	}

	// The transfer stays claimable by the course it actually names.
	outcome, err = fixture.verifier.Verify(ctx, testBuyer, testCourse)
	if err != nil {
		t.Fatalf("Verify course 42: %v", err)
	}
	if outcome.Kind != OutcomeSettled {
		t.Fatalf("course 42 buyer could not settle own transfer: %s", describeOutcome(outcome))
	}
	if outcome.Attempt.ExternalRef == nil || *outcome.Attempt.ExternalRef != "hash_course_42" {
		t.Fatal("transfer hash was burned before the rightful claim")
	}
}

func TestMatchesCommentDigitBoundary(t *testing.T) {
	cases := []struct {
		comment  string
		courseID int64
		want     bool
	}{
		{"course_42", 4, false},
		{"course_42_777", 4, false},
		{"course_4", 4, true},
		{"course_4_777", 4, true},
		{"course_4 and course_42", 4, true},
		{"course_4.", 4, true},
		{"course_44 course_42", 4, false},
	}

	for _, tc := range cases {
		if got := MatchesComment(tc.comment, tc.courseID, testBuyer); got != tc.want {
			t.Fatalf("MatchesComment(%q, course=%d) = %v, want %v", tc.comment, tc.courseID, got, tc.want)
		}
	}
}

func TestTONVerifyRegrantsAfterGrantFailure(t *testing.T) {
	chain := &stubChain{}
	fixture := newTONFixture(chain, nil)
	chain.transfers = []tonindex.Transfer{fixture.transferAt(time.Minute, expectedNano, "course_42")}

	ctx := context.Background()
	fixture.granter.failNext = errors.New("entitlement store down")

	if _, err := fixture.verifier.Verify(ctx, testBuyer, testCourse); err == nil {
		t.Fatal("expected the first verify to surface the grant failure")
	}

	// The settlement landed before the grant failed: the attempt is
	// settled but the buyer owns nothing.
	if settled := fixture.ledger.byStatus(enums.PaymentSettled); len(settled) != 1 {
		t.Fatalf("got %d settled attempts after failed grant, want 1", len(settled))
	}
	if owned, _ := fixture.granter.Has(ctx, testBuyer, testCourse); owned {
		t.Fatal("grant reported failed yet entitlement exists")
	}

	// The next round must re-drive the grant off the settled attempt
	// without consulting the chain again.
	callsBefore := chain.calls
	outcome, err := fixture.verifier.Verify(ctx, testBuyer, testCourse)
	if err != nil {
		t.Fatalf("recovery verify: %v", err)
	}
	if outcome.Kind != OutcomeSettled {
		t.Fatalf("recovery outcome: %s, want settled", describeOutcome(outcome))
	}
	if chain.calls != callsBefore {
		t.Fatalf("recovery hit the chain indexer %d extra times", chain.calls-callsBefore)
	}
	if owned, _ := fixture.granter.Has(ctx, testBuyer, testCourse); !owned {
		t.Fatal("buyer still not entitled after recovery")
	}
	if pending := fixture.ledger.byStatus(enums.PaymentPending); len(pending) != 0 {
		t.Fatalf("recovery opened %d fresh pending attempts", len(pending))
	}
}
