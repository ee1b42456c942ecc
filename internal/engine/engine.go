package engine

import (
	"StableVault/internal/fixedpoint"
	"StableVault/internal/ledger"
	"StableVault/internal/observability"
	"StableVault/internal/oracle"
	"StableVault/internal/token"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config assembles an Engine. Assets, Oracles, and AssetTokens are parallel
// lists pairing each collateral asset with its price feed and its token
// ledger; the pairing is fixed for the life of the engine.
type Config struct {
	VaultID     uuid.UUID
	Assets      []string
	Oracles     []*oracle.Adapter
	AssetTokens []token.FungibleAsset
	Stable      token.MintableBurnable

	Logger  zerolog.Logger
	Metrics *observability.Metrics

	// Records, when non-nil, receives a Record per committed operation.
	// Sends never block; a full channel drops the record (the books, not
	// the log, are the source of truth).
	Records chan<- Record
}

// Engine is the orchestrator: it owns the collateral and debt books, gates
// every mutation on the health factor, and calls out to the token ledgers
// for the actual transfers, mints, and burns.
//
// One mutating operation runs at a time. Concurrent or re-entrant mutating
// calls are rejected with ErrBusy rather than queued, so a callback can
// never observe a half-applied operation.
type Engine struct {
	vaultID    uuid.UUID
	collateral *ledger.CollateralBook
	debts      *ledger.DebtBook
	adapters   map[string]*oracle.Adapter
	assets     map[string]token.FungibleAsset
	stable     token.MintableBurnable

	log     zerolog.Logger
	metrics *observability.Metrics
	records chan<- Record

	busy atomic.Bool
}

func New(cfg Config) (*Engine, error) {
	if len(cfg.Assets) != len(cfg.Oracles) || len(cfg.Assets) != len(cfg.AssetTokens) {
		return nil, fmt.Errorf("%w: %d assets, %d oracles, %d tokens",
			ErrLengthMismatch, len(cfg.Assets), len(cfg.Oracles), len(cfg.AssetTokens))
	}

	adapters := make(map[string]*oracle.Adapter, len(cfg.Assets))
	assets := make(map[string]token.FungibleAsset, len(cfg.Assets))
	for i, asset := range cfg.Assets {
		adapters[asset] = cfg.Oracles[i]
		assets[asset] = cfg.AssetTokens[i]
	}

	return &Engine{
		vaultID:    cfg.VaultID,
		collateral: ledger.NewCollateralBook(cfg.Assets, adapters),
		debts:      ledger.NewDebtBook(),
		adapters:   adapters,
		assets:     assets,
		stable:     cfg.Stable,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		records:    cfg.Records,
	}, nil
}

// VaultID is the engine's own identity on the token ledgers, the holder of
// all custodied collateral and of pulled stable tokens awaiting burn.
func (e *Engine) VaultID() uuid.UUID {
	return e.vaultID
}

// --- mutating operations ---

// DepositCollateral credits the user's book entry, then pulls the asset
// from the user into the vault's custody. The book moves first; a failed
// pull restores it.
func (e *Engine) DepositCollateral(user uuid.UUID, asset string, amount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	return e.run(OpDeposit, func() (*Record, error) {
		if err := e.depositCollateral(user, asset, amount); err != nil {
			return nil, err
		}
		return &Record{Kind: OpDeposit, User: user, Asset: asset, Amount: fixedpoint.Clone(amount)}, nil
	})
}

// MintDebt increases the user's debt and mints stable tokens to them,
// provided the position stays healthy.
func (e *Engine) MintDebt(user uuid.UUID, amount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	return e.run(OpMint, func() (*Record, error) {
		if err := e.mintDebt(user, amount); err != nil {
			return nil, err
		}
		return &Record{Kind: OpMint, User: user, Debt: fixedpoint.Clone(amount)}, nil
	})
}

// DepositCollateralAndMintDebt runs a deposit then a mint as one atomic
// operation: a failed mint unwinds the deposit too.
func (e *Engine) DepositCollateralAndMintDebt(user uuid.UUID, asset string, collateralAmount, debtAmount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	return e.run(OpDepositAndMint, func() (*Record, error) {
		if err := e.depositCollateral(user, asset, collateralAmount); err != nil {
			return nil, err
		}
		if err := e.mintDebt(user, debtAmount); err != nil {
			e.undoDeposit(user, asset, collateralAmount)
			return nil, err
		}
		return &Record{
			Kind:   OpDepositAndMint,
			User:   user,
			Asset:  asset,
			Amount: fixedpoint.Clone(collateralAmount),
			Debt:   fixedpoint.Clone(debtAmount),
		}, nil
	})
}

// RedeemCollateral debits the user's book entry and transfers the asset
// back to them, provided the position stays healthy.
func (e *Engine) RedeemCollateral(user uuid.UUID, asset string, amount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	return e.run(OpRedeem, func() (*Record, error) {
		if err := e.redeemCollateral(user, asset, amount); err != nil {
			return nil, err
		}
		return &Record{Kind: OpRedeem, User: user, Asset: asset, Amount: fixedpoint.Clone(amount)}, nil
	})
}

// BurnDebt pulls stable tokens from the user, burns them, and reduces the
// user's debt by the same amount.
func (e *Engine) BurnDebt(user uuid.UUID, amount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	return e.run(OpBurn, func() (*Record, error) {
		if err := e.burnDebt(user, amount); err != nil {
			return nil, err
		}
		return &Record{Kind: OpBurn, User: user, Debt: fixedpoint.Clone(amount)}, nil
	})
}

// RedeemCollateralForDebt burns debt then redeems collateral as one atomic
// operation. The burn runs first so the redeem's health check sees the
// reduced debt.
func (e *Engine) RedeemCollateralForDebt(user uuid.UUID, asset string, collateralAmount, debtAmount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	return e.run(OpRedeemForDebt, func() (*Record, error) {
		if err := e.burnDebt(user, debtAmount); err != nil {
			return nil, err
		}
		if err := e.redeemCollateral(user, asset, collateralAmount); err != nil {
			e.undoBurn(user, debtAmount)
			return nil, err
		}
		return &Record{
			Kind:   OpRedeemForDebt,
			User:   user,
			Asset:  asset,
			Amount: fixedpoint.Clone(collateralAmount),
			Debt:   fixedpoint.Clone(debtAmount),
		}, nil
	})
}

// Liquidate lets a third party cover part of an unhealthy user's debt in
// exchange for the equivalent collateral plus a bonus.
func (e *Engine) Liquidate(liquidator, user uuid.UUID, asset string, debtToCover *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	return e.run(OpLiquidate, func() (*Record, error) {
		seized, err := e.liquidate(liquidator, user, asset, debtToCover)
		if err != nil {
			return nil, err
		}
		e.metrics.LiquidationsTotal.Inc()
		return &Record{
			Kind:       OpLiquidate,
			User:       user,
			Liquidator: liquidator,
			Asset:      asset,
			Debt:       fixedpoint.Clone(debtToCover),
			Seized:     seized,
		}, nil
	})
}

// --- operation bodies (caller holds the guard) ---

func (e *Engine) depositCollateral(user uuid.UUID, asset string, amount *big.Int) error {
	if err := e.collateral.Deposit(user, asset, amount); err != nil {
		return err
	}
	if !e.assets[asset].TransferFrom(user, e.vaultID, amount) {
		e.undoDeposit(user, asset, amount)
		return fmt.Errorf("%w: pulling %s %s from %s", ErrTransferFailed, amount, asset, user)
	}
	return nil
}

func (e *Engine) mintDebt(user uuid.UUID, amount *big.Int) error {
	if err := e.debts.Increase(user, amount); err != nil {
		return err
	}
	factor, err := e.healthFactorOf(user)
	if err != nil {
		e.mustDecreaseDebt(user, amount)
		return err
	}
	if !healthy(factor) {
		e.mustDecreaseDebt(user, amount)
		return &BreaksHealthFactorError{Factor: factor}
	}
	if !e.stable.Mint(user, amount) {
		e.mustDecreaseDebt(user, amount)
		return fmt.Errorf("%w: %s to %s", ErrMintFailed, amount, user)
	}
	return nil
}

func (e *Engine) redeemCollateral(user uuid.UUID, asset string, amount *big.Int) error {
	if err := e.collateral.Withdraw(user, asset, amount); err != nil {
		return err
	}
	factor, err := e.healthFactorOf(user)
	if err != nil {
		e.mustDepositBook(user, asset, amount)
		return err
	}
	if !healthy(factor) {
		e.mustDepositBook(user, asset, amount)
		return &BreaksHealthFactorError{Factor: factor}
	}
	if !e.assets[asset].Transfer(user, amount) {
		e.mustDepositBook(user, asset, amount)
		return fmt.Errorf("%w: returning %s %s to %s", ErrTransferFailed, amount, asset, user)
	}
	return nil
}

func (e *Engine) burnDebt(user uuid.UUID, amount *big.Int) error {
	if err := e.debts.Decrease(user, amount); err != nil {
		return err
	}
	if !e.stable.TransferFrom(user, e.vaultID, amount) {
		e.mustIncreaseDebt(user, amount)
		return fmt.Errorf("%w: pulling %s stable from %s", ErrTransferFailed, amount, user)
	}
	if !e.stable.Burn(amount) {
		e.stable.Transfer(user, amount)
		e.mustIncreaseDebt(user, amount)
		return fmt.Errorf("%w: %s", ErrBurnFailed, amount)
	}
	// Burning only improves health; this is a hard guard, not a hot path.
	factor, err := e.healthFactorOf(user)
	if err != nil {
		e.undoBurn(user, amount)
		return err
	}
	if !healthy(factor) {
		e.undoBurn(user, amount)
		return &BreaksHealthFactorError{Factor: factor}
	}
	return nil
}

func (e *Engine) liquidate(liquidator, user uuid.UUID, asset string, debtToCover *big.Int) (*big.Int, error) {
	if !fixedpoint.IsPositive(debtToCover) {
		return nil, ledger.ErrNonPositiveAmount
	}
	adapter, ok := e.adapters[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnsupportedAsset, asset)
	}

	startFactor, err := e.healthFactorOf(user)
	if err != nil {
		return nil, err
	}
	if healthy(startFactor) {
		return nil, fmt.Errorf("%w: factor %s", ErrHealthFactorOk, startFactor)
	}

	assetAmount, err := adapter.AssetAmountFromUsd(debtToCover)
	if err != nil {
		return nil, err
	}
	bonus := fixedpoint.MulDiv(assetAmount, big.NewInt(LiquidationBonus), big.NewInt(LiquidationPrecision))
	seized := new(big.Int).Add(assetAmount, bonus)

	if err := e.collateral.Withdraw(user, asset, seized); err != nil {
		return nil, err
	}
	if err := e.debts.Decrease(user, debtToCover); err != nil {
		e.mustDepositBook(user, asset, seized)
		return nil, err
	}

	undoBooks := func() {
		e.mustIncreaseDebt(user, debtToCover)
		e.mustDepositBook(user, asset, seized)
	}

	endFactor, err := e.healthFactorOf(user)
	if err != nil {
		undoBooks()
		return nil, err
	}
	if endFactor.Cmp(MinHealthFactor) <= 0 {
		undoBooks()
		return nil, fmt.Errorf("%w: %s -> %s", ErrHealthFactorNotImproved, startFactor, endFactor)
	}

	liqFactor, err := e.healthFactorOf(liquidator)
	if err != nil {
		undoBooks()
		return nil, err
	}
	if !healthy(liqFactor) {
		undoBooks()
		return nil, &BreaksHealthFactorError{Factor: liqFactor}
	}

	if !e.stable.TransferFrom(liquidator, e.vaultID, debtToCover) {
		undoBooks()
		return nil, fmt.Errorf("%w: pulling %s stable from liquidator %s", ErrTransferFailed, debtToCover, liquidator)
	}
	if !e.stable.Burn(debtToCover) {
		e.stable.Transfer(liquidator, debtToCover)
		undoBooks()
		return nil, fmt.Errorf("%w: %s", ErrBurnFailed, debtToCover)
	}
	if !e.assets[asset].Transfer(liquidator, seized) {
		e.stable.Mint(liquidator, debtToCover)
		undoBooks()
		return nil, fmt.Errorf("%w: paying %s %s to liquidator %s", ErrTransferFailed, seized, asset, liquidator)
	}
	return seized, nil
}

// --- compensation helpers ---

// undoDeposit reverses a committed deposit: book entry down, asset back to
// the user.
func (e *Engine) undoDeposit(user uuid.UUID, asset string, amount *big.Int) {
	if err := e.collateral.Withdraw(user, asset, amount); err != nil {
		e.log.Error().Err(err).Str("asset", asset).Stringer("user", user).
			Msg("deposit rollback failed, book diverged")
	}
}

// undoBurn reverses a committed burn: debt back up, stable re-minted.
func (e *Engine) undoBurn(user uuid.UUID, amount *big.Int) {
	e.mustIncreaseDebt(user, amount)
	if !e.stable.Mint(user, amount) {
		e.log.Error().Stringer("user", user).Str("amount", amount.String()).
			Msg("burn rollback mint failed, supply diverged")
	}
}

// The must* helpers reverse a book mutation this same operation applied, so
// failure means the books diverged mid-operation. That is logged, never
// swallowed into a nil error.

func (e *Engine) mustDecreaseDebt(user uuid.UUID, amount *big.Int) {
	if err := e.debts.Decrease(user, amount); err != nil {
		e.log.Error().Err(err).Stringer("user", user).Msg("debt rollback failed")
	}
}

func (e *Engine) mustIncreaseDebt(user uuid.UUID, amount *big.Int) {
	if err := e.debts.Increase(user, amount); err != nil {
		e.log.Error().Err(err).Stringer("user", user).Msg("debt rollback failed")
	}
}

func (e *Engine) mustDepositBook(user uuid.UUID, asset string, amount *big.Int) {
	if err := e.collateral.Deposit(user, asset, amount); err != nil {
		e.log.Error().Err(err).Str("asset", asset).Stringer("user", user).Msg("collateral rollback failed")
	}
}

// --- read accessors ---

// HealthFactor returns the user's current solvency ratio. It consults the
// oracle, so stale feeds surface here too.
func (e *Engine) HealthFactor(user uuid.UUID) (*big.Int, error) {
	return e.healthFactorOf(user)
}

// AccountInformation returns the user's outstanding debt and total
// collateral USD value.
func (e *Engine) AccountInformation(user uuid.UUID) (debt, collateralUsd *big.Int, err error) {
	collateralUsd, err = e.collateral.TotalUsd(user)
	if err != nil {
		return nil, nil, err
	}
	return e.debts.Debt(user), collateralUsd, nil
}

// CollateralBalance returns the user's deposited amount of one asset.
func (e *Engine) CollateralBalance(user uuid.UUID, asset string) *big.Int {
	return e.collateral.Balance(user, asset)
}

// AccountCollateralValueUsd returns the USD value of all the user's
// collateral at current prices.
func (e *Engine) AccountCollateralValueUsd(user uuid.UUID) (*big.Int, error) {
	return e.collateral.TotalUsd(user)
}

// Assets returns the registered collateral assets in registration order.
func (e *Engine) Assets() []string {
	return e.collateral.Assets()
}

// TotalDebt is the sum of all users' debt.
func (e *Engine) TotalDebt() *big.Int {
	return e.debts.Total()
}

// TotalDeposited is the sum of all users' book entries for one asset.
func (e *Engine) TotalDeposited(asset string) *big.Int {
	return e.collateral.TotalDeposited(asset)
}

func (e *Engine) healthFactorOf(user uuid.UUID) (*big.Int, error) {
	collateralUsd, err := e.collateral.TotalUsd(user)
	if err != nil {
		return nil, err
	}
	return HealthFactor(e.debts.Debt(user), collateralUsd), nil
}

// --- snapshot / restore ---

// State is the engine's durable book state. Token ledger balances are
// snapshotted separately by their owners.
type State struct {
	Collateral map[uuid.UUID]map[string]*big.Int
	Debts      map[uuid.UUID]*big.Int
}

func (e *Engine) SnapshotState() State {
	return State{
		Collateral: e.collateral.Snapshot(),
		Debts:      e.debts.Snapshot(),
	}
}

// RestoreState overwrites both books. Only valid before serving traffic.
func (e *Engine) RestoreState(s State) error {
	if err := e.collateral.Restore(s.Collateral); err != nil {
		return err
	}
	return e.debts.Restore(s.Debts)
}

// --- plumbing ---

func (e *Engine) acquire() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (e *Engine) release() {
	e.busy.Store(false)
}

// run wraps one operation body with timing, metrics, logging, and record
// emission. The body returns a Record only on commit.
func (e *Engine) run(op string, body func() (*Record, error)) error {
	start := time.Now()
	rec, err := body()
	e.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		reason := rejectReason(err)
		e.metrics.OperationsRejected.WithLabelValues(op, reason).Inc()
		if reason == "stale_price" {
			e.metrics.StalePriceErrors.Inc()
		}
		e.log.Warn().Err(err).Str("op", op).Msg("operation rejected")
		return err
	}

	e.metrics.OperationsTotal.WithLabelValues(op).Inc()
	e.metrics.DebtOutstanding.Set(wadFloat(e.debts.Total()))
	if rec.Asset != "" {
		e.metrics.CollateralDeposits.WithLabelValues(rec.Asset).Set(wadFloat(e.collateral.TotalDeposited(rec.Asset)))
	}

	rec.ID = uuid.New()
	rec.At = time.Now().UTC()
	if factor, ferr := e.healthFactorOf(rec.User); ferr == nil {
		rec.Health = factor
	}

	e.log.Info().Str("op", op).Stringer("user", rec.User).Str("asset", rec.Asset).
		Msg("operation committed")

	if e.records != nil {
		select {
		case e.records <- *rec:
		default:
			e.log.Warn().Str("op", op).Msg("record channel full, audit record dropped")
		}
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case IsBreaksHealthFactor(err):
		return "health_factor"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrHealthFactorOk):
		return "target_healthy"
	case errors.Is(err, ErrHealthFactorNotImproved):
		return "not_improved"
	case errors.Is(err, ledger.ErrNonPositiveAmount), errors.Is(err, ledger.ErrUnsupportedAsset):
		return "invalid_input"
	case errors.Is(err, ledger.ErrInsufficientCollateral), errors.Is(err, ledger.ErrInsufficientDebt):
		return "insufficient_balance"
	case errors.Is(err, oracle.ErrStalePrice):
		return "stale_price"
	case errors.Is(err, ErrTransferFailed), errors.Is(err, ErrMintFailed), errors.Is(err, ErrBurnFailed):
		return "token_failure"
	default:
		return "other"
	}
}

func wadFloat(v *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), new(big.Float).SetInt(fixedpoint.Wad)).Float64()
	return f
}
