package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IlyasAtabaev731/onlyfrens/internal/domain/models"
	"github.com/IlyasAtabaev731/onlyfrens/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingRecorder struct {
	mu         sync.Mutex
	applied    map[string]int
	rejected   map[string]int
	noops      map[string]int
	registered int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{applied: map[string]int{}, rejected: map[string]int{}, noops: map[string]int{}}
}

func (r *countingRecorder) ActionApplied(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied[kind]++
}

func (r *countingRecorder) ActionRejected(kind, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected[kind+"/"+reason]++
}

func (r *countingRecorder) NoOp(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noops[kind]++
}

func (r *countingRecorder) AccountRegistered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered++
}

type fixture struct {
	ledger   *Ledger
	clock    *fakeClock
	recorder *countingRecorder
	account  string
}

func newFixture(t *testing.T, grant string) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fakeClock{now: time.Date(2026, time.January, 31, 12, 0, 0, 0, time.UTC)}
	rec := newCountingRecorder()
	l := New(memory.New(logger), logger,
		WithClock(clock.Now),
		WithRecorder(rec),
		WithStartingGrant(decimal.RequireFromString(grant)),
	)

	acc, err := l.Register(context.Background(), "alice", "cred-alice-1", "pubkey-alice")
	require.NoError(t, err)

	return &fixture{ledger: l, clock: clock, recorder: rec, account: acc.ID}
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestExampleScenario(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	dep, err := f.ledger.Deposit(ctx, f.account, amount("50"))
	require.NoError(t, err)
	assert.Equal(t, "150.0000000", models.FormatAmount(dep.Account.Balance))
	assert.Equal(t, models.ActionDeposit, dep.Action.Kind)
	assert.True(t, dep.Action.SignedAmount.Equal(amount("50")))

	sub, err := f.ledger.Subscribe(ctx, f.account, "A", amount("10"))
	require.NoError(t, err)
	assert.False(t, sub.AlreadySubscribed)
	assert.Equal(t, "140.0000000", models.FormatAmount(sub.Account.Balance))
	require.NotNil(t, sub.Subscription.ExpiresAt)
	assert.Equal(t, f.clock.Now().AddDate(0, 1, 0), *sub.Subscription.ExpiresAt)

	_, err = f.ledger.Tip(ctx, f.account, "B", amount("200"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	acc, err := f.ledger.Account(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, "140.0000000", models.FormatAmount(acc.Balance))
	assert.Len(t, acc.ActionHistory, 2)

	wd, err := f.ledger.Withdraw(ctx, f.account, amount("140"))
	require.NoError(t, err)
	assert.True(t, wd.Account.Balance.IsZero())
	assert.Equal(t, models.ActionWithdrawal, wd.Action.Kind)

	_, err = f.ledger.Withdraw(ctx, f.account, amount("1"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	acc, err = f.ledger.Account(ctx, f.account)
	require.NoError(t, err)
	assert.Len(t, acc.ActionHistory, 3)
	assert.True(t, acc.Balance.Equal(acc.LedgerBalance()))
	assert.Equal(t, 2, f.recorder.rejected["TIP/InsufficientBalance"]+f.recorder.rejected["WITHDRAWAL/InsufficientBalance"])
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("active subscription is not charged again", func(t *testing.T) {
		f := newFixture(t, "20")
		first, err := f.ledger.Subscribe(ctx, f.account, "creator", amount("5"))
		require.NoError(t, err)

		f.clock.Advance(24 * time.Hour)
		again, err := f.ledger.Subscribe(ctx, f.account, "creator", amount("5"))
		require.NoError(t, err)
		assert.True(t, again.AlreadySubscribed)
		assert.Nil(t, again.Action)
		assert.Equal(t, first.Subscription, again.Subscription)
		assert.Equal(t, "15.0000000", models.FormatAmount(again.Account.Balance))
		assert.Equal(t, 1, f.recorder.noops["SUBSCRIPTION"])
	})

	t.Run("expired subscription is renewed and charged", func(t *testing.T) {
		f := newFixture(t, "20")
		_, err := f.ledger.Subscribe(ctx, f.account, "creator", amount("5"))
		require.NoError(t, err)

		f.clock.Advance(32 * 24 * time.Hour)
		renewed, err := f.ledger.Subscribe(ctx, f.account, "creator", amount("5"))
		require.NoError(t, err)
		assert.False(t, renewed.AlreadySubscribed)
		require.NotNil(t, renewed.Action)
		assert.Equal(t, "10.0000000", models.FormatAmount(renewed.Account.Balance))
		assert.Equal(t, f.clock.Now().AddDate(0, 1, 0), *renewed.Subscription.ExpiresAt)
		assert.Len(t, renewed.Account.Subscriptions, 1)
	})

	t.Run("free subscription records an action", func(t *testing.T) {
		f := newFixture(t, "0")
		res, err := f.ledger.Subscribe(ctx, f.account, "free", decimal.Zero)
		require.NoError(t, err)
		require.NotNil(t, res.Action)
		assert.True(t, res.Action.SignedAmount.IsZero())
		assert.True(t, res.Account.Balance.IsZero())
	})

	t.Run("insufficient balance leaves no subscription", func(t *testing.T) {
		f := newFixture(t, "1")
		_, err := f.ledger.Subscribe(ctx, f.account, "pricey", amount("2"))
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		acc, err := f.ledger.Account(ctx, f.account)
		require.NoError(t, err)
		assert.Empty(t, acc.Subscriptions)
		assert.Empty(t, acc.ActionHistory)
	})

	t.Run("bad input", func(t *testing.T) {
		f := newFixture(t, "1")
		_, err := f.ledger.Subscribe(ctx, f.account, "", amount("1"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = f.ledger.Subscribe(ctx, f.account, "c", amount("-1"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestBuyCollectible(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "50")
	req := PurchaseRequest{
		CollectibleID: "premium-video-1",
		CreatorID:     "creator",
		Price:         amount("12.5"),
		Metadata:      models.CollectibleMetadata{Name: "Backstage", ImageURL: "https://img/1.png", PremiumContentType: "video"},
	}

	first, err := f.ledger.BuyCollectible(ctx, f.account, req)
	require.NoError(t, err)
	assert.False(t, first.AlreadyOwned)
	assert.Equal(t, "37.5000000", models.FormatAmount(first.Account.Balance))
	assert.Equal(t, "mock-nft-contract-addr-prem", first.Collectible.ContractAddress)
	assert.Len(t, first.Collectible.TokenID, len("mock-token-")+6)
	assert.Equal(t, "Backstage", first.Collectible.Name)
	assert.Equal(t, models.ActionPurchase, first.Action.Kind)
	assert.Equal(t, "premium-video-1", first.Action.TargetID)

	f.clock.Advance(time.Minute)
	second, err := f.ledger.BuyCollectible(ctx, f.account, req)
	require.NoError(t, err)
	assert.True(t, second.AlreadyOwned)
	assert.Nil(t, second.Action)
	assert.Equal(t, first.Collectible, second.Collectible)
	assert.Equal(t, "37.5000000", models.FormatAmount(second.Account.Balance))
	assert.Len(t, second.Account.OwnedCollectibles, 1)
	assert.Len(t, second.Account.ActionHistory, 1)

	t.Run("insufficient balance grants nothing", func(t *testing.T) {
		_, err := f.ledger.BuyCollectible(ctx, f.account, PurchaseRequest{CollectibleID: "x", CreatorID: "c", Price: amount("100")})
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		acc, err := f.ledger.Account(ctx, f.account)
		require.NoError(t, err)
		assert.Len(t, acc.OwnedCollectibles, 1)
	})
}

func TestAmountValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "10")

	cases := []struct {
		name string
		run  func() error
	}{
		{"zero deposit", func() error { _, err := f.ledger.Deposit(ctx, f.account, decimal.Zero); return err }},
		{"negative deposit", func() error { _, err := f.ledger.Deposit(ctx, f.account, amount("-1")); return err }},
		{"zero withdrawal", func() error { _, err := f.ledger.Withdraw(ctx, f.account, decimal.Zero); return err }},
		{"zero tip", func() error { _, err := f.ledger.Tip(ctx, f.account, "c", decimal.Zero); return err }},
		{"tip without creator", func() error { _, err := f.ledger.Tip(ctx, f.account, " ", amount("1")); return err }},
		{"sub-precision deposit", func() error { _, err := f.ledger.Deposit(ctx, f.account, amount("0.00000001")); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			assert.ErrorIs(t, err, ErrInvalidAmount)
			assert.Equal(t, KindInvalidAmount, ErrorKind(err))
		})
	}

	acc, err := f.ledger.Account(ctx, f.account)
	require.NoError(t, err)
	assert.Empty(t, acc.ActionHistory)
}

func TestUnknownAccount(t *testing.T) {
	f := newFixture(t, "10")
	_, err := f.ledger.Deposit(context.Background(), "nobody", amount("1"))
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Equal(t, KindAccountNotFound, ErrorKind(err))
}

func TestConcurrentOutflowsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "10")

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = f.ledger.Tip(ctx, f.account, "creator", amount("1"))
			} else {
				_, _ = f.ledger.Withdraw(ctx, f.account, amount("1"))
			}
		}(i)
	}
	wg.Wait()

	acc, err := f.ledger.Account(ctx, f.account)
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero())
	assert.Len(t, acc.ActionHistory, 10)
	assert.True(t, acc.Balance.Equal(acc.LedgerBalance()))
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "10")

	acc, err := f.ledger.Account(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, "10.0000000", models.FormatAmount(acc.Balance))
	assert.Equal(t, "GCREDALICE1", acc.WalletAddress)
	assert.Equal(t, 1, f.recorder.registered)

	_, err = f.ledger.Register(ctx, "alice", "cred-other", "pk")
	assert.ErrorIs(t, err, ErrUsernameTaken)
	_, err = f.ledger.Register(ctx, "", "cred-other", "pk")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	byCred, err := f.ledger.Login(ctx, "cred-alice-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", byCred.Username)

	byName, err := f.ledger.DemoLogin(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, f.account, byName.ID)

	_, err = f.ledger.Login(ctx, "cred-unknown")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRegisterRejectsCredentialSpelledTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "10")

	_, err := f.ledger.Register(ctx, "carol", "abc+def/", "pk")
	require.NoError(t, err)

	_, err = f.ledger.Register(ctx, "mallory", "abc-def_", "pk")
	assert.ErrorIs(t, err, ErrAccountExists)
	assert.Equal(t, KindUsernameTaken, ErrorKind(err))

	acc, err := f.ledger.Login(ctx, "abc+def/")
	require.NoError(t, err)
	assert.Equal(t, "abc+def/", acc.ID)
	assert.Equal(t, "carol", acc.Username)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "10")

	_, err := f.ledger.Deposit(ctx, f.account, amount("5"))
	require.NoError(t, err)
	_, err = f.ledger.Tip(ctx, f.account, "c1", amount("1"))
	require.NoError(t, err)
	_, err = f.ledger.Tip(ctx, f.account, "c2", amount("2"))
	require.NoError(t, err)

	all, err := f.ledger.History(ctx, f.account, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, models.ActionDeposit, all[0].Kind)

	tips, err := f.ledger.History(ctx, f.account, models.ActionTip, 0)
	require.NoError(t, err)
	require.Len(t, tips, 2)

	last, err := f.ledger.History(ctx, f.account, "", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "c2", last[0].TargetID)

	_, err = f.ledger.History(ctx, f.account, "BOGUS", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestVerifyAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "10")

	access, err := f.ledger.VerifyAccess(ctx, f.account, "nft-1")
	require.NoError(t, err)
	assert.False(t, access.HasAccess)
	assert.Empty(t, access.AccessToken)

	_, err = f.ledger.BuyCollectible(ctx, f.account, PurchaseRequest{CollectibleID: "nft-1", CreatorID: "c", Price: amount("1")})
	require.NoError(t, err)

	access, err = f.ledger.VerifyAccess(ctx, f.account, "nft-1")
	require.NoError(t, err)
	assert.True(t, access.HasAccess)
	assert.Contains(t, access.AccessToken, "_nft-1")
	require.NotNil(t, access.Collectible)
	assert.Equal(t, "nft-1", access.Collectible.ID)
}
