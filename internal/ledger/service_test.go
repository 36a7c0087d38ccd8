package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/ledgersync/internal/calculator"
	"github.com/mmynk/ledgersync/internal/models"
	"github.com/mmynk/ledgersync/internal/storage/sqlite"
)

// fakeNotifier records reminder calls and hands out sequential handles.
type fakeNotifier struct {
	mu        sync.Mutex
	next      int
	scheduled []string
	cancelled []string
}

func (f *fakeNotifier) Schedule(_ context.Context, ob models.Obligation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.scheduled = append(f.scheduled, ob.ID)
	return fmt.Sprintf("h-%d", f.next), nil
}

func (f *fakeNotifier) Cancel(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, handle)
	return nil
}

func (f *fakeNotifier) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled), len(f.cancelled)
}

type failingNotifier struct{}

func (failingNotifier) Schedule(context.Context, models.Obligation) (string, error) {
	return "", errors.New("scheduler offline")
}
func (failingNotifier) Cancel(context.Context, string) error { return errors.New("scheduler offline") }

func setup(t *testing.T, notifier Notifier) (*Service, *sqlite.SQLiteStore) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	svc := NewService(store, notifier, WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}))
	return svc, store
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func incur(t *testing.T, svc *Service, principal string) string {
	t.Helper()
	id, err := svc.Incur(context.Background(), IncurInput{
		UserID:       "user-1",
		Direction:    models.DirectionPay,
		Counterparty: "Alice",
		Date:         1704067200000,
		Principal:    amount(principal),
		Currency:     "usd",
	})
	require.NoError(t, err)
	return id
}

func settle(t *testing.T, svc *Service, obligationID, value string) string {
	t.Helper()
	id, err := svc.AddSettlement(context.Background(), AddSettlementInput{
		ObligationID: obligationID,
		Amount:       amount(value),
		Date:         1704153600000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func get(t *testing.T, svc *Service, id string) *models.Obligation {
	t.Helper()
	ob, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	return ob
}

// assertInvariant checks the aggregate columns against a fresh re-scan.
func assertInvariant(t *testing.T, svc *Service, id string) {
	t.Helper()
	ob := get(t, svc, id)
	active, err := svc.Settlements(context.Background(), id)
	require.NoError(t, err)

	want := calculator.Compute(ob.PrincipalAmount, calculator.SumActive(active))
	assert.True(t, ob.SettlementAmount.Equal(want.Settled), "settlement %s want %s", ob.SettlementAmount, want.Settled)
	assert.True(t, ob.RemainingAmount.Equal(want.Remaining), "remaining %s want %s", ob.RemainingAmount, want.Remaining)
	assert.True(t, ob.InterestAmount.Equal(want.Interest), "interest %s want %s", ob.InterestAmount, want.Interest)
	assert.Equal(t, want.Status, ob.Status)
}

func TestIncur(t *testing.T) {
	notifier := &fakeNotifier{}
	svc, _ := setup(t, notifier)

	id := incur(t, svc, "100")
	ob := get(t, svc, id)

	assert.Equal(t, "USD", ob.Currency)
	assert.True(t, ob.RemainingAmount.Equal(amount("100")))
	assert.True(t, ob.SettlementAmount.IsZero())
	assert.Equal(t, models.StatusPending, ob.Status)
	assert.True(t, ob.IsDirty)
	assert.Equal(t, "h-1", ob.NotificationID)
}

func TestIncur_ZeroPrincipalIsSettled(t *testing.T) {
	notifier := &fakeNotifier{}
	svc, _ := setup(t, notifier)

	ob := get(t, svc, incur(t, svc, "0"))

	assert.Equal(t, models.StatusSettled, ob.Status)
	assert.Empty(t, ob.NotificationID)
	scheduled, _ := notifier.counts()
	assert.Zero(t, scheduled)
}

func TestIncur_Validation(t *testing.T) {
	svc, _ := setup(t, nil)
	ctx := context.Background()

	base := IncurInput{
		UserID:       "user-1",
		Direction:    models.DirectionCollect,
		Counterparty: "Bob",
		Date:         1704067200000,
		Principal:    amount("10"),
		Currency:     "EUR",
	}

	tests := []struct {
		name   string
		mutate func(in *IncurInput)
	}{
		{"zero date", func(in *IncurInput) { in.Date = 0 }},
		{"negative date", func(in *IncurInput) { in.Date = -5 }},
		{"date beyond year 9999", func(in *IncurInput) { in.Date = 253402300800000 }},
		{"unknown direction", func(in *IncurInput) { in.Direction = "LEND" }},
		{"blank counterparty", func(in *IncurInput) { in.Counterparty = "   " }},
		{"long currency", func(in *IncurInput) { in.Currency = "EURO" }},
		{"negative principal", func(in *IncurInput) { in.Principal = amount("-1") }},
		{"missing user", func(in *IncurInput) { in.UserID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			_, err := svc.Incur(ctx, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	obs, err := svc.ListObligations(ctx, "user-1", models.DirectionCollect)
	require.NoError(t, err)
	assert.Empty(t, obs, "rejected input must not be written")
}

func TestAddSettlement_Overpayment(t *testing.T) {
	notifier := &fakeNotifier{}
	svc, _ := setup(t, notifier)
	id := incur(t, svc, "100")

	settle(t, svc, id, "60")
	ob := get(t, svc, id)
	assert.Equal(t, models.StatusPartiallySettled, ob.Status)
	assert.Equal(t, "h-1", ob.NotificationID)

	settle(t, svc, id, "70")
	ob = get(t, svc, id)
	assert.True(t, ob.SettlementAmount.Equal(amount("130")))
	assert.True(t, ob.RemainingAmount.IsZero())
	assert.True(t, ob.InterestAmount.Equal(amount("30")))
	assert.Equal(t, models.StatusSettled, ob.Status)
	assert.Empty(t, ob.NotificationID)
	assert.Equal(t, []string{"h-1"}, notifier.cancelled)
	assertInvariant(t, svc, id)
}

func TestAddSettlement_MissingObligationIsNoop(t *testing.T) {
	svc, store := setup(t, nil)
	ctx := context.Background()

	id, err := svc.AddSettlement(ctx, AddSettlementInput{ObligationID: "ghost", Amount: amount("5")})
	require.NoError(t, err)
	assert.Empty(t, id)

	dirty, err := store.DirtySettlements(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestAddSettlement_DeletedObligationIsNoop(t *testing.T) {
	svc, _ := setup(t, nil)
	ctx := context.Background()
	id := incur(t, svc, "10")
	require.NoError(t, svc.SoftDelete(ctx, id))

	sid, err := svc.AddSettlement(ctx, AddSettlementInput{ObligationID: id, Amount: amount("5")})
	require.NoError(t, err)
	assert.Empty(t, sid)
	assert.True(t, get(t, svc, id).SettlementAmount.IsZero())
}

func TestDeleteSettlement_Conservation(t *testing.T) {
	svc, _ := setup(t, nil)
	ctx := context.Background()
	id := incur(t, svc, "250")
	settle(t, svc, id, "30.50")

	before := get(t, svc, id)
	sid := settle(t, svc, id, "100")
	require.NoError(t, svc.DeleteSettlement(ctx, sid))
	after := get(t, svc, id)

	assert.True(t, after.PrincipalAmount.Equal(before.PrincipalAmount))
	assert.True(t, after.SettlementAmount.Equal(before.SettlementAmount))
	assert.True(t, after.RemainingAmount.Equal(before.RemainingAmount))
	assert.True(t, after.InterestAmount.Equal(before.InterestAmount))
	assert.Equal(t, before.Status, after.Status)
	assertInvariant(t, svc, id)
}

func TestDeleteSettlement_ReopensAndReschedules(t *testing.T) {
	notifier := &fakeNotifier{}
	svc, _ := setup(t, notifier)
	ctx := context.Background()
	id := incur(t, svc, "100")

	sid := settle(t, svc, id, "100")
	ob := get(t, svc, id)
	require.Equal(t, models.StatusSettled, ob.Status)
	require.Empty(t, ob.NotificationID)

	require.NoError(t, svc.DeleteSettlement(ctx, sid))
	ob = get(t, svc, id)
	assert.Equal(t, models.StatusPending, ob.Status)
	assert.True(t, ob.RemainingAmount.Equal(amount("100")))
	assert.True(t, ob.SettlementAmount.IsZero())
	assert.Equal(t, "h-2", ob.NotificationID)

	scheduled, cancelled := notifier.counts()
	assert.Equal(t, 2, scheduled)
	assert.Equal(t, 1, cancelled)
}

func TestDeleteSettlement_Errors(t *testing.T) {
	svc, store := setup(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.DeleteSettlement(ctx, "missing"), ErrSettlementNotFound)
	assert.ErrorIs(t, svc.DeleteSettlement(ctx, ""), ErrValidation)

	id := incur(t, svc, "10")
	sid := settle(t, svc, id, "4")
	require.NoError(t, svc.DeleteSettlement(ctx, sid))
	first := get(t, svc, id)

	require.NoError(t, svc.DeleteSettlement(ctx, sid), "second delete is a no-op")
	second := get(t, svc, id)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

	st, err := store.GetSettlement(ctx, sid)
	require.NoError(t, err)
	assert.NotNil(t, st.DeletedAt)
	assert.True(t, st.IsDirty)
}

func TestAmendPrincipal(t *testing.T) {
	notifier := &fakeNotifier{}
	svc, _ := setup(t, notifier)
	ctx := context.Background()
	id := incur(t, svc, "100")
	settle(t, svc, id, "60")

	require.NoError(t, svc.AmendPrincipal(ctx, AmendInput{ObligationID: id, Principal: amount("50")}))
	ob := get(t, svc, id)
	assert.True(t, ob.RemainingAmount.IsZero())
	assert.True(t, ob.InterestAmount.Equal(amount("10")))
	assert.Equal(t, models.StatusSettled, ob.Status)
	assert.Empty(t, ob.NotificationID)
	assert.Contains(t, notifier.cancelled, "h-1")

	counterparty := "Alice Smith"
	require.NoError(t, svc.AmendPrincipal(ctx, AmendInput{ObligationID: id, Principal: amount("200"), Counterparty: &counterparty}))
	ob = get(t, svc, id)
	assert.Equal(t, "Alice Smith", ob.Counterparty)
	assert.True(t, ob.RemainingAmount.Equal(amount("140")))
	assert.True(t, ob.SettlementAmount.Equal(amount("60")))
	assert.Equal(t, models.StatusPartiallySettled, ob.Status)
	assert.Equal(t, "h-2", ob.NotificationID)

	active, err := svc.Settlements(ctx, id)
	require.NoError(t, err)
	assert.Len(t, active, 1, "settlement history is untouched")
}

func TestAmendPrincipal_Errors(t *testing.T) {
	svc, _ := setup(t, nil)
	ctx := context.Background()
	id := incur(t, svc, "10")
	bad := "EURO"

	assert.ErrorIs(t, svc.AmendPrincipal(ctx, AmendInput{ObligationID: "ghost", Principal: amount("1")}), ErrObligationNotFound)
	assert.ErrorIs(t, svc.AmendPrincipal(ctx, AmendInput{ObligationID: id, Principal: amount("-1")}), ErrValidation)
	assert.ErrorIs(t, svc.AmendPrincipal(ctx, AmendInput{ObligationID: id, Principal: amount("1"), Currency: &bad}), ErrValidation)
}

func TestSoftDelete(t *testing.T) {
	notifier := &fakeNotifier{}
	svc, store := setup(t, notifier)
	ctx := context.Background()
	id := incur(t, svc, "100")
	keep := incur(t, svc, "5")
	settle(t, svc, id, "10")

	require.NoError(t, svc.SoftDelete(ctx, id))

	obs, err := svc.ListObligations(ctx, "user-1", models.DirectionPay)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, keep, obs[0].ID)

	total, err := svc.Outstanding(ctx, "user-1", models.DirectionPay)
	require.NoError(t, err)
	assert.True(t, total.Equal(amount("5")))

	ob := get(t, svc, id)
	assert.NotNil(t, ob.DeletedAt)
	assert.True(t, ob.IsDirty)
	assert.Empty(t, ob.NotificationID)
	assert.Contains(t, notifier.cancelled, "h-1")

	settlements, err := store.DirtySettlements(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, settlements, 1, "settlements stay for sync")

	assert.NoError(t, svc.SoftDelete(ctx, id), "deleting twice is a no-op")
	assert.ErrorIs(t, svc.SoftDelete(ctx, "ghost"), ErrObligationNotFound)
}

func TestNotifierFailuresDoNotFailTheLedger(t *testing.T) {
	svc, _ := setup(t, failingNotifier{})
	ctx := context.Background()

	id := incur(t, svc, "10")
	settle(t, svc, id, "10")
	require.NoError(t, svc.AmendPrincipal(ctx, AmendInput{ObligationID: id, Principal: amount("20")}))

	ob := get(t, svc, id)
	assert.Empty(t, ob.NotificationID)
	assert.Equal(t, models.StatusPartiallySettled, ob.Status)
}

func TestInvariantHoldsUnderRandomOperations(t *testing.T) {
	svc, _ := setup(t, &fakeNotifier{})
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	id := incur(t, svc, "100")
	var live []string

	for i := 0; i < 60; i++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(live) == 0:
			sid := settle(t, svc, id, decimal.NewFromInt(int64(rng.Intn(50)+1)).String())
			live = append(live, sid)
		case op == 1:
			idx := rng.Intn(len(live))
			require.NoError(t, svc.DeleteSettlement(ctx, live[idx]))
			live = append(live[:idx], live[idx+1:]...)
		default:
			principal := decimal.NewFromInt(int64(rng.Intn(300)))
			require.NoError(t, svc.AmendPrincipal(ctx, AmendInput{ObligationID: id, Principal: principal}))
		}
		assertInvariant(t, svc, id)
	}
}

func TestConcurrentSettlementsSerialize(t *testing.T) {
	svc, _ := setup(t, nil)
	ctx := context.Background()
	id := incur(t, svc, "1000")

	const workers = 20
	var wg sync.WaitGroup
	ids := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sid, err := svc.AddSettlement(ctx, AddSettlementInput{ObligationID: id, Amount: amount("10")})
			assert.NoError(t, err)
			ids <- sid
		}()
	}
	wg.Wait()
	close(ids)

	// Delete half of them concurrently as well.
	var toDelete []string
	for sid := range ids {
		toDelete = append(toDelete, sid)
	}
	for _, sid := range toDelete[:workers/2] {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			assert.NoError(t, svc.DeleteSettlement(ctx, sid))
		}(sid)
	}
	wg.Wait()

	ob := get(t, svc, id)
	assert.True(t, ob.SettlementAmount.Equal(amount("100")), "settled = %s", ob.SettlementAmount)
	assert.True(t, ob.RemainingAmount.Equal(amount("900")))
	assertInvariant(t, svc, id)
}

// settlingNotifier pays the obligation off while its reminder is being
// scheduled, so the handle arrives after the obligation closed.
type settlingNotifier struct {
	fakeNotifier
	svc *Service
}

func (n *settlingNotifier) Schedule(ctx context.Context, ob models.Obligation) (string, error) {
	handle, err := n.fakeNotifier.Schedule(ctx, ob)
	if err != nil {
		return "", err
	}
	_, err = n.svc.AddSettlement(ctx, AddSettlementInput{
		ObligationID: ob.ID,
		Amount:       ob.RemainingAmount,
		Date:         1704153600000,
	})
	return handle, err
}

func TestLateHandleForSettledObligationIsCancelled(t *testing.T) {
	notifier := &settlingNotifier{}
	svc, _ := setup(t, notifier)
	notifier.svc = svc

	id := incur(t, svc, "100")

	ob := get(t, svc, id)
	assert.Equal(t, models.StatusSettled, ob.Status)
	assert.Empty(t, ob.NotificationID, "no handle on a settled obligation")
	assert.Equal(t, []string{"h-1"}, notifier.cancelled)
}
