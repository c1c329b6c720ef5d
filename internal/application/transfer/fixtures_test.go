package transfer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/marshalcore/backend/internal/infrastructure/cache"
	"github.com/marshalcore/backend/internal/infrastructure/config"
	"github.com/marshalcore/backend/internal/infrastructure/gateway"
	"github.com/marshalcore/backend/internal/infrastructure/persistence"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testDirectory() transfer.RecipientDirectory {
	return transfer.MustRecipientDirectory(map[transfer.RecipientType]transfer.RecipientDescriptor{
		transfer.RecipientDirectorGeneral: {
			AccountName:   "Office of the Director General",
			AccountNumber: "0123456789",
			BankCode:      "058",
			Currency:      "NGN",
		},
		transfer.RecipientTechServices: {
			AccountName:   "Technical Services",
			AccountNumber: "9876543210",
			BankCode:      "044",
			Currency:      "NGN",
		},
	})
}

// splitFixture wires the services against sqlite and the simulated gateway
type splitFixture struct {
	clock        *testClock
	gw           *gateway.SimulatedGateway
	ledger       *persistence.GormTransferLedger
	payments     *persistence.GormPaymentRepository
	config       Config
	orchestrator *SplitOrchestrator
	retrier      *RetryCoordinator
	history      *HistoryService
}

func newSplitFixture(t *testing.T, mutate ...func(*Config)) *splitFixture {
	t.Helper()

	database, err := persistence.NewDatabase(&config.DatabaseConfig{
		Driver: config.DriverSQLite,
		DBName: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)
	require.NoError(t, persistence.AutoMigrate(database.DB))
	t.Cleanup(func() { _ = database.Close() })

	clock := newTestClock()
	f := &splitFixture{
		clock:    clock,
		gw:       gateway.NewSimulatedGateway(),
		ledger:   persistence.NewGormTransferLedger(database.DB).WithClock(clock.Now),
		payments: persistence.NewGormPaymentRepository(database.DB),
	}
	f.config = Config{
		Directory: testDirectory(),
		Payments:  f.payments,
		Ledger:    f.ledger,
		Gateway:   f.gw,
		Locker:    cache.NewKeyedMutexLocker(5 * time.Second),
		Policy:    transfer.DefaultRetryPolicy(),
		Now:       clock.Now,
	}
	for _, m := range mutate {
		m(&f.config)
	}
	f.orchestrator = NewSplitOrchestrator(f.config)
	f.retrier = NewRetryCoordinator(f.config)
	f.history = NewHistoryService(f.payments, f.ledger)
	return f
}

func (f *splitFixture) seedPayment(t *testing.T, ref string, dg, ts int64) {
	t.Helper()
	require.NoError(t, f.payments.Create(context.Background(), &transfer.PaymentRecord{
		Reference: ref,
		Amount:    dg + ts,
		Shares: map[transfer.RecipientType]int64{
			transfer.RecipientDirectorGeneral: dg,
			transfer.RecipientTechServices:    ts,
		},
		Metadata: map[string]any{"channel": "card"},
	}))
}

func (f *splitFixture) rows(t *testing.T, ref string) map[transfer.RecipientType]transfer.TransferRecord {
	t.Helper()
	records, err := f.ledger.GetByPayment(context.Background(), ref)
	require.NoError(t, err)
	out := make(map[transfer.RecipientType]transfer.TransferRecord, len(records))
	for _, r := range records {
		out[r.RecipientType] = r
	}
	return out
}

func (f *splitFixture) payment(t *testing.T, ref string) *transfer.PaymentRecord {
	t.Helper()
	p, err := f.payments.FindByReference(context.Background(), ref)
	require.NoError(t, err)
	return p
}

func toStatuses(changes []transfer.StatusChange) []transfer.TransferStatus {
	out := make([]transfer.TransferStatus, len(changes))
	for i, c := range changes {
		out[i] = c.ToStatus
	}
	return out
}
