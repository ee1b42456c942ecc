package engine_test

import (
	"StableVault/internal/engine"
	"StableVault/internal/fixedpoint"
	"StableVault/internal/ledger"
	"StableVault/internal/observability"
	"StableVault/internal/oracle"
	"StableVault/internal/token"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func wad(units int64) *big.Int {
	return fixedpoint.FromUnits(units)
}

// centiWad returns units/100 as a wad (for fractional amounts like 4.4).
func centiWad(hundredths int64) *big.Int {
	w := new(big.Int).Mul(big.NewInt(hundredths), fixedpoint.Wad)
	return w.Div(w, big.NewInt(100))
}

type rig struct {
	vaultID uuid.UUID
	eng     *engine.Engine
	weth    *token.Ledger
	stable  *token.Ledger
	feed    *oracle.StaticSource
	records chan engine.Record
}

func newRig(t *testing.T) *rig {
	t.Helper()

	vaultID := uuid.New()
	feed := oracle.NewStaticSource(2000_00000000, time.Now())
	weth := token.NewLedger("WETH", vaultID)
	stable := token.NewLedger("SVUSD", vaultID)
	records := make(chan engine.Record, 16)

	eng, err := engine.New(engine.Config{
		VaultID:     vaultID,
		Assets:      []string{"WETH"},
		Oracles:     []*oracle.Adapter{oracle.NewAdapter("WETH", feed, 0)},
		AssetTokens: []token.FungibleAsset{weth},
		Stable:      stable,
		Logger:      zerolog.Nop(),
		Metrics:     observability.NewMetricsWith(prometheus.NewRegistry()),
		Records:     records,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return &rig{vaultID: vaultID, eng: eng, weth: weth, stable: stable, feed: feed, records: records}
}

// fund seeds a user with WETH and approves the vault to pull it.
func (r *rig) fund(user uuid.UUID, amount *big.Int) {
	r.weth.Seed(user, amount)
	r.weth.Approve(user, r.vaultID, amount)
}

func TestNewRejectsLengthMismatch(t *testing.T) {
	feed := oracle.NewStaticSource(2000_00000000, time.Now())
	_, err := engine.New(engine.Config{
		Assets:      []string{"WETH", "WBTC"},
		Oracles:     []*oracle.Adapter{oracle.NewAdapter("WETH", feed, 0)},
		AssetTokens: []token.FungibleAsset{token.NewLedger("WETH", uuid.New())},
		Logger:      zerolog.Nop(),
		Metrics:     observability.NewMetricsWith(prometheus.NewRegistry()),
	})
	if !errors.Is(err, engine.ErrLengthMismatch) {
		t.Errorf("err = %v, want ErrLengthMismatch", err)
	}
}

func TestDepositCollateral(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.fund(user, wad(10))

	if err := r.eng.DepositCollateral(user, "WETH", wad(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if got := r.eng.CollateralBalance(user, "WETH"); got.Cmp(wad(10)) != 0 {
		t.Errorf("book balance = %s, want %s", got, wad(10))
	}
	if got := r.weth.BalanceOf(r.vaultID); got.Cmp(wad(10)) != 0 {
		t.Errorf("vault custody = %s, want %s", got, wad(10))
	}
	if got := r.weth.BalanceOf(user); got.Sign() != 0 {
		t.Errorf("user token balance = %s, want 0", got)
	}
}

func TestDepositRollsBackWhenPullFails(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.weth.Seed(user, wad(10)) // no approval

	err := r.eng.DepositCollateral(user, "WETH", wad(10))
	if !errors.Is(err, engine.ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if got := r.eng.CollateralBalance(user, "WETH"); got.Sign() != 0 {
		t.Errorf("book balance after rollback = %s, want 0", got)
	}
}

func TestMintDebtWithinRatio(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.fund(user, wad(10))

	if err := r.eng.DepositCollateral(user, "WETH", wad(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// 10 WETH * $2000 = $20000, adjusted $10000: minting exactly $10000
	// lands on the boundary and succeeds.
	if err := r.eng.MintDebt(user, wad(10000)); err != nil {
		t.Fatalf("mint at boundary: %v", err)
	}

	if got := r.stable.BalanceOf(user); got.Cmp(wad(10000)) != 0 {
		t.Errorf("stable balance = %s, want %s", got, wad(10000))
	}
	factor, err := r.eng.HealthFactor(user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if factor.Cmp(engine.MinHealthFactor) != 0 {
		t.Errorf("factor = %s, want exactly %s", factor, engine.MinHealthFactor)
	}
}

func TestMintDebtBeyondRatioRollsBack(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.fund(user, wad(10))

	if err := r.eng.DepositCollateral(user, "WETH", wad(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := r.eng.MintDebt(user, wad(10001))
	var hfErr *engine.BreaksHealthFactorError
	if !errors.As(err, &hfErr) {
		t.Fatalf("err = %v, want BreaksHealthFactorError", err)
	}
	if hfErr.Factor.Cmp(engine.MinHealthFactor) >= 0 {
		t.Errorf("reported factor %s should be below minimum", hfErr.Factor)
	}

	debt, _, err := r.eng.AccountInformation(user)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if debt.Sign() != 0 {
		t.Errorf("debt after rejected mint = %s, want 0", debt)
	}
	if got := r.stable.BalanceOf(user); got.Sign() != 0 {
		t.Errorf("stable balance after rejected mint = %s, want 0", got)
	}
}

func TestMintDebtRejectsNonPositive(t *testing.T) {
	r := newRig(t)
	if err := r.eng.MintDebt(uuid.New(), big.NewInt(0)); !errors.Is(err, ledger.ErrNonPositiveAmount) {
		t.Errorf("err = %v, want ErrNonPositiveAmount", err)
	}
}

func TestMintDebtFailsOnStalePrice(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.fund(user, wad(10))
	if err := r.eng.DepositCollateral(user, "WETH", wad(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	r.feed.SetUpdatedAt(time.Now().Add(-4 * time.Hour))

	err := r.eng.MintDebt(user, wad(100))
	if !errors.Is(err, oracle.ErrStalePrice) {
		t.Fatalf("err = %v, want ErrStalePrice", err)
	}
	if got := r.eng.TotalDebt(); got.Sign() != 0 {
		t.Errorf("debt after stale-price mint = %s, want 0", got)
	}
}

func TestRedeemCollateral(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.fund(user, wad(10))

	if err := r.eng.DepositCollateral(user, "WETH", wad(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := r.eng.MintDebt(user, wad(5000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// $5000 debt needs $10000 adjusted = 5 WETH; redeeming 5 leaves the
	// factor at exactly 1.0.
	if err := r.eng.RedeemCollateral(user, "WETH", wad(5)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got := r.weth.BalanceOf(user); got.Cmp(wad(5)) != 0 {
		t.Errorf("user token balance = %s, want %s", got, wad(5))
	}

	// One more unit breaks the ratio and must roll back whole.
	err := r.eng.RedeemCollateral(user, "WETH", wad(1))
	if !engine.IsBreaksHealthFactor(err) {
		t.Fatalf("err = %v, want BreaksHealthFactorError", err)
	}
	if got := r.eng.CollateralBalance(user, "WETH"); got.Cmp(wad(5)) != 0 {
		t.Errorf("book balance after rejected redeem = %s, want %s", got, wad(5))
	}
	if got := r.weth.BalanceOf(user); got.Cmp(wad(5)) != 0 {
		t.Errorf("user token balance after rejected redeem = %s, want %s", got, wad(5))
	}
}

func TestBurnDebt(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.fund(user, wad(10))

	if err := r.eng.DepositCollateral(user, "WETH", wad(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := r.eng.MintDebt(user, wad(8000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	r.stable.Approve(user, r.vaultID, wad(3000))
	if err := r.eng.BurnDebt(user, wad(3000)); err != nil {
		t.Fatalf("burn: %v", err)
	}

	debt, _, err := r.eng.AccountInformation(user)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if debt.Cmp(wad(5000)) != 0 {
		t.Errorf("debt = %s, want %s", debt, wad(5000))
	}
	if got := r.stable.TotalSupply(); got.Cmp(wad(5000)) != 0 {
		t.Errorf("stable supply = %s, want %s", got, wad(5000))
	}
}

func TestBurnDebtRollsBackWhenPullFails(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.fund(user, wad(10))

	if err := r.eng.DepositCollateral(user, "WETH", wad(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := r.eng.MintDebt(user, wad(8000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// No stable approval: the pull fails and the debt decrease unwinds.
	err := r.eng.BurnDebt(user, wad(3000))
	if !errors.Is(err, engine.ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	debt, _, err := r.eng.AccountInformation(user)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if debt.Cmp(wad(8000)) != 0 {
		t.Errorf("debt after rollback = %s, want %s", debt, wad(8000))
	}
}

func TestBurnDebtBeyondOutstanding(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.fund(user, wad(10))

	if err := r.eng.DepositCollateral(user, "WETH", wad(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := r.eng.MintDebt(user, wad(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := r.eng.BurnDebt(user, wad(101)); !errors.Is(err, ledger.ErrInsufficientDebt) {
		t.Errorf("err = %v, want ErrInsufficientDebt", err)
	}
}

func TestDepositAndMintAtomicity(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.fund(user, wad(10))

	// Mint leg breaks the ratio, so the deposit leg must unwind too.
	err := r.eng.DepositCollateralAndMintDebt(user, "WETH", wad(10), wad(10001))
	if !engine.IsBreaksHealthFactor(err) {
		t.Fatalf("err = %v, want BreaksHealthFactorError", err)
	}
	if got := r.eng.CollateralBalance(user, "WETH"); got.Sign() != 0 {
		t.Errorf("book balance = %s, want 0", got)
	}
	if got := r.weth.BalanceOf(user); got.Cmp(wad(10)) != 0 {
		t.Errorf("user token balance = %s, want %s restored", got, wad(10))
	}

	if err := r.eng.DepositCollateralAndMintDebt(user, "WETH", wad(10), wad(10000)); err != nil {
		t.Fatalf("combined op: %v", err)
	}
	if got := r.stable.BalanceOf(user); got.Cmp(wad(10000)) != 0 {
		t.Errorf("stable balance = %s, want %s", got, wad(10000))
	}
}

func TestRedeemCollateralForDebt(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.fund(user, wad(10))

	if err := r.eng.DepositCollateralAndMintDebt(user, "WETH", wad(10), wad(10000)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Burning first makes room: after burning $4000 the remaining $6000
	// debt needs 6 WETH, so 4 can leave.
	r.stable.Approve(user, r.vaultID, wad(4000))
	if err := r.eng.RedeemCollateralForDebt(user, "WETH", wad(4), wad(4000)); err != nil {
		t.Fatalf("combined op: %v", err)
	}

	debt, _, err := r.eng.AccountInformation(user)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if debt.Cmp(wad(6000)) != 0 {
		t.Errorf("debt = %s, want %s", debt, wad(6000))
	}
	if got := r.weth.BalanceOf(user); got.Cmp(wad(4)) != 0 {
		t.Errorf("user token balance = %s, want %s", got, wad(4))
	}
}

func TestRedeemForDebtUnwindsBurnWhenRedeemFails(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.fund(user, wad(10))

	if err := r.eng.DepositCollateralAndMintDebt(user, "WETH", wad(10), wad(10000)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Burning $1000 leaves $9000 debt needing 9 WETH; redeeming 2 breaks
	// the ratio, so the burn leg must unwind as well.
	r.stable.Approve(user, r.vaultID, wad(1000))
	err := r.eng.RedeemCollateralForDebt(user, "WETH", wad(2), wad(1000))
	if !engine.IsBreaksHealthFactor(err) {
		t.Fatalf("err = %v, want BreaksHealthFactorError", err)
	}

	debt, _, err := r.eng.AccountInformation(user)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if debt.Cmp(wad(10000)) != 0 {
		t.Errorf("debt after rollback = %s, want %s", debt, wad(10000))
	}
	if got := r.stable.BalanceOf(user); got.Cmp(wad(10000)) != 0 {
		t.Errorf("stable balance after rollback = %s, want %s", got, wad(10000))
	}
	if got := r.stable.TotalSupply(); got.Cmp(wad(10000)) != 0 {
		t.Errorf("stable supply after rollback = %s, want %s", got, wad(10000))
	}
}

func TestLiquidate(t *testing.T) {
	r := newRig(t)
	user, liquidator := uuid.New(), uuid.New()
	r.fund(user, wad(10))

	if err := r.eng.DepositCollateralAndMintDebt(user, "WETH", wad(10), wad(8000)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Price drop: $2000 -> $1500. Collateral $15000, adjusted $7500,
	// against $8000 debt the factor is 0.9375.
	r.feed.SetPrice(1500_00000000)

	before, err := r.eng.HealthFactor(user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if before.Cmp(engine.MinHealthFactor) >= 0 {
		t.Fatalf("setup: factor %s should be below minimum", before)
	}

	r.stable.Seed(liquidator, wad(6000))
	r.stable.Approve(liquidator, r.vaultID, wad(6000))

	if err := r.eng.Liquidate(liquidator, user, "WETH", wad(6000)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// $6000 at $1500 is 4 WETH, plus 10% bonus = 4.4 WETH seized.
	seized := centiWad(440)
	if got := r.weth.BalanceOf(liquidator); got.Cmp(seized) != 0 {
		t.Errorf("liquidator collateral = %s, want %s", got, seized)
	}

	debt, _, err := r.eng.AccountInformation(user)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if debt.Cmp(wad(2000)) != 0 {
		t.Errorf("debt = %s, want %s", debt, wad(2000))
	}

	after, err := r.eng.HealthFactor(user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if after.Cmp(before) <= 0 {
		t.Errorf("factor did not rise: %s -> %s", before, after)
	}
	if after.Cmp(engine.MinHealthFactor) <= 0 {
		t.Errorf("factor %s should be strictly above minimum", after)
	}
}

func TestLiquidateHealthyTargetRejected(t *testing.T) {
	r := newRig(t)
	user, liquidator := uuid.New(), uuid.New()
	r.fund(user, wad(10))

	if err := r.eng.DepositCollateralAndMintDebt(user, "WETH", wad(10), wad(8000)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	custodyBefore := r.weth.BalanceOf(r.vaultID)

	err := r.eng.Liquidate(liquidator, user, "WETH", wad(1000))
	if !errors.Is(err, engine.ErrHealthFactorOk) {
		t.Fatalf("err = %v, want ErrHealthFactorOk", err)
	}

	debt, _, err := r.eng.AccountInformation(user)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if debt.Cmp(wad(8000)) != 0 {
		t.Errorf("debt = %s, want %s unchanged", debt, wad(8000))
	}
	if got := r.weth.BalanceOf(r.vaultID); got.Cmp(custodyBefore) != 0 {
		t.Errorf("custody = %s, want %s unchanged", got, custodyBefore)
	}
}

func TestLiquidateIneffectiveRollsBack(t *testing.T) {
	r := newRig(t)
	user, liquidator := uuid.New(), uuid.New()
	r.fund(user, wad(10))

	if err := r.eng.DepositCollateralAndMintDebt(user, "WETH", wad(10), wad(10000)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Deep drop: collateral $15000 against $10000 debt. Covering only
	// $1500 seizes 1.1 WETH and leaves the factor below 1.0, so the
	// whole call must unwind.
	r.feed.SetPrice(1500_00000000)
	r.stable.Seed(liquidator, wad(1500))
	r.stable.Approve(liquidator, r.vaultID, wad(1500))

	err := r.eng.Liquidate(liquidator, user, "WETH", wad(1500))
	if !errors.Is(err, engine.ErrHealthFactorNotImproved) {
		t.Fatalf("err = %v, want ErrHealthFactorNotImproved", err)
	}

	debt, _, err := r.eng.AccountInformation(user)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if debt.Cmp(wad(10000)) != 0 {
		t.Errorf("debt after rollback = %s, want %s", debt, wad(10000))
	}
	if got := r.eng.CollateralBalance(user, "WETH"); got.Cmp(wad(10)) != 0 {
		t.Errorf("book balance after rollback = %s, want %s", got, wad(10))
	}
	if got := r.stable.BalanceOf(liquidator); got.Cmp(wad(1500)) != 0 {
		t.Errorf("liquidator stable after rollback = %s, want %s", got, wad(1500))
	}
}

func TestConservationAcrossOperations(t *testing.T) {
	r := newRig(t)
	alice, bob := uuid.New(), uuid.New()
	r.fund(alice, wad(10))
	r.fund(bob, wad(20))

	if err := r.eng.DepositCollateralAndMintDebt(alice, "WETH", wad(10), wad(8000)); err != nil {
		t.Fatalf("alice: %v", err)
	}
	if err := r.eng.DepositCollateral(bob, "WETH", wad(20)); err != nil {
		t.Fatalf("bob deposit: %v", err)
	}
	if err := r.eng.RedeemCollateral(bob, "WETH", wad(7)); err != nil {
		t.Fatalf("bob redeem: %v", err)
	}

	book := r.eng.TotalDeposited("WETH")
	custody := r.weth.BalanceOf(r.vaultID)
	if book.Cmp(custody) != 0 {
		t.Errorf("book total %s != custodied %s", book, custody)
	}

	if got := r.eng.TotalDebt(); got.Cmp(r.stable.TotalSupply()) != 0 {
		t.Errorf("debt total %s != stable supply %s", got, r.stable.TotalSupply())
	}
}

// reentrantAsset wraps a real ledger and fires a callback from inside
// TransferFrom, the way a hostile token would.
type reentrantAsset struct {
	inner  *token.Ledger
	attack func() error
	got    error
}

func (a *reentrantAsset) Transfer(to uuid.UUID, amount *big.Int) bool {
	return a.inner.Transfer(to, amount)
}

func (a *reentrantAsset) TransferFrom(from, to uuid.UUID, amount *big.Int) bool {
	if a.attack != nil {
		fn := a.attack
		a.attack = nil
		a.got = fn()
	}
	return a.inner.TransferFrom(from, to, amount)
}

func (a *reentrantAsset) BalanceOf(holder uuid.UUID) *big.Int {
	return a.inner.BalanceOf(holder)
}

func TestReentrantMutationRejected(t *testing.T) {
	vaultID := uuid.New()
	feed := oracle.NewStaticSource(2000_00000000, time.Now())
	weth := token.NewLedger("WETH", vaultID)
	hostile := &reentrantAsset{inner: weth}
	stable := token.NewLedger("SVUSD", vaultID)

	eng, err := engine.New(engine.Config{
		VaultID:     vaultID,
		Assets:      []string{"WETH"},
		Oracles:     []*oracle.Adapter{oracle.NewAdapter("WETH", feed, 0)},
		AssetTokens: []token.FungibleAsset{hostile},
		Stable:      stable,
		Logger:      zerolog.Nop(),
		Metrics:     observability.NewMetricsWith(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	user := uuid.New()
	weth.Seed(user, wad(10))
	weth.Approve(user, vaultID, wad(10))
	hostile.attack = func() error {
		return eng.MintDebt(user, wad(1))
	}

	if err := eng.DepositCollateral(user, "WETH", wad(10)); err != nil {
		t.Fatalf("outer deposit: %v", err)
	}
	if !errors.Is(hostile.got, engine.ErrBusy) {
		t.Errorf("re-entrant call err = %v, want ErrBusy", hostile.got)
	}
	if got := eng.TotalDebt(); got.Sign() != 0 {
		t.Errorf("debt after re-entrant mint attempt = %s, want 0", got)
	}
}

// failingStable forces the mint branch to fail.
type failingStable struct {
	*token.Ledger
}

func (f *failingStable) Mint(to uuid.UUID, amount *big.Int) bool {
	return false
}

func TestMintDebtRollsBackWhenTokenMintFails(t *testing.T) {
	vaultID := uuid.New()
	feed := oracle.NewStaticSource(2000_00000000, time.Now())
	weth := token.NewLedger("WETH", vaultID)
	stable := &failingStable{Ledger: token.NewLedger("SVUSD", vaultID)}

	eng, err := engine.New(engine.Config{
		VaultID:     vaultID,
		Assets:      []string{"WETH"},
		Oracles:     []*oracle.Adapter{oracle.NewAdapter("WETH", feed, 0)},
		AssetTokens: []token.FungibleAsset{weth},
		Stable:      stable,
		Logger:      zerolog.Nop(),
		Metrics:     observability.NewMetricsWith(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	user := uuid.New()
	weth.Seed(user, wad(10))
	weth.Approve(user, vaultID, wad(10))
	if err := eng.DepositCollateral(user, "WETH", wad(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := eng.MintDebt(user, wad(100)); !errors.Is(err, engine.ErrMintFailed) {
		t.Fatalf("err = %v, want ErrMintFailed", err)
	}
	if got := eng.TotalDebt(); got.Sign() != 0 {
		t.Errorf("debt after rollback = %s, want 0", got)
	}
}

func TestReadAccessorsIdempotent(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.fund(user, wad(10))
	if err := r.eng.DepositCollateralAndMintDebt(user, "WETH", wad(10), wad(5000)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	f1, err := r.eng.HealthFactor(user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	f2, err := r.eng.HealthFactor(user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if f1.Cmp(f2) != 0 {
		t.Errorf("health factor not stable: %s vs %s", f1, f2)
	}

	v1, err := r.eng.AccountCollateralValueUsd(user)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	v2, err := r.eng.AccountCollateralValueUsd(user)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	if v1.Cmp(v2) != 0 {
		t.Errorf("collateral value not stable: %s vs %s", v1, v2)
	}
}

func TestRecordsEmittedOnCommit(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.fund(user, wad(10))

	if err := r.eng.DepositCollateral(user, "WETH", wad(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	select {
	case rec := <-r.records:
		if rec.Kind != engine.OpDeposit {
			t.Errorf("record kind = %q, want %q", rec.Kind, engine.OpDeposit)
		}
		if rec.User != user {
			t.Errorf("record user = %s, want %s", rec.User, user)
		}
		if rec.Amount.Cmp(wad(10)) != 0 {
			t.Errorf("record amount = %s, want %s", rec.Amount, wad(10))
		}
	default:
		t.Fatal("no record emitted")
	}

	// A rejected operation leaves no record.
	if err := r.eng.MintDebt(user, big.NewInt(0)); err == nil {
		t.Fatal("expected rejection")
	}
	select {
	case rec := <-r.records:
		t.Errorf("unexpected record %q after rejection", rec.Kind)
	default:
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	r := newRig(t)
	user := uuid.New()
	r.fund(user, wad(10))
	if err := r.eng.DepositCollateralAndMintDebt(user, "WETH", wad(10), wad(5000)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	state := r.eng.SnapshotState()

	r2 := newRig(t)
	if err := r2.eng.RestoreState(state); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := r2.eng.CollateralBalance(user, "WETH"); got.Cmp(wad(10)) != 0 {
		t.Errorf("restored collateral = %s, want %s", got, wad(10))
	}
	debt, _, err := r2.eng.AccountInformation(user)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if debt.Cmp(wad(5000)) != 0 {
		t.Errorf("restored debt = %s, want %s", debt, wad(5000))
	}
}
