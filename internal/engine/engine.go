package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"StakeVault/internal/authz"
	"StakeVault/internal/custody"
	"StakeVault/internal/event"
	"StakeVault/internal/ledger"
	"StakeVault/internal/observability"
)

// invariantCheckInterval controls how often the full cross-record aggregate
// check runs. Per-operation checks stay O(1); the full sum is periodic.
const invariantCheckInterval = 256

// Output is a committed operation ready for persistence and publishing.
type Output struct {
	Envelope *event.Envelope
	Event    event.Event
}

// Engine implements the six ledger operations and owns all mutation of the
// ledger store. Each operation is atomic: validation first, then the custody
// transfer (the only post-validation failure point), then the infallible
// ledger mutation under the record lock. A failed operation leaves all
// ledger state unchanged.
type Engine struct {
	programID string

	store     *ledger.Store
	validator *ledger.InvariantValidator
	bank      custody.Transferer
	approvals *authz.ApprovalChecker

	sequence atomic.Int64
	opCount  atomic.Int64

	persistChan chan<- Output
	publishChan chan<- Output

	metrics *observability.Metrics
	log     zerolog.Logger
	clock   func() time.Time
}

// Config carries the engine's collaborators.
type Config struct {
	ProgramID   string
	Store       *ledger.Store
	Bank        custody.Transferer
	Approvals   *authz.ApprovalChecker
	PersistChan chan<- Output
	PublishChan chan<- Output
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
}

func New(cfg Config) *Engine {
	return &Engine{
		programID:   cfg.ProgramID,
		store:       cfg.Store,
		validator:   ledger.NewInvariantValidator(cfg.Store),
		bank:        cfg.Bank,
		approvals:   cfg.Approvals,
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
		clock:       time.Now,
	}
}

// SetClock overrides the commit timestamp clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.clock = now
}

// SetSequence sets the next sequence to assign (used during recovery).
func (e *Engine) SetSequence(seq int64) {
	e.sequence.Store(seq)
}

// Sequence returns the next sequence to assign.
func (e *Engine) Sequence() int64 {
	return e.sequence.Load()
}

// Initialize creates the GlobalState singleton with the given authority.
// Fails with ledger.ErrAlreadyInitialized on a second call.
func (e *Engine) Initialize(ctx context.Context, authority string) error {
	start := time.Now()

	if err := e.store.Initialize(authority); err != nil {
		e.reject("initialize", "already_initialized")
		return err
	}

	e.commit("initialize", start, &event.Initialized{
		OpID:      uuid.New(),
		Authority: authority,
		Timestamp: e.clock(),
	})
	return nil
}

// Stake moves amount from the user's account into the asset's vault and
// recognizes it as principal. Creates the StakeInfo record on first stake.
func (e *Engine) Stake(ctx context.Context, user, asset string, amount uint64) (ledger.StakeInfo, error) {
	start := time.Now()

	if amount == 0 {
		e.reject("stake", "invalid_amount")
		return ledger.StakeInfo{}, ErrInvalidAmount
	}
	if !e.store.Initialized() {
		e.reject("stake", "not_initialized")
		return ledger.StakeInfo{}, ledger.ErrNotInitialized
	}

	vault := custody.DeriveVaultAddress(asset)

	var after ledger.StakeInfo
	err := e.store.WithRecord(user, asset, true, func(info *ledger.StakeInfo) error {
		// The transfer is the only fallible step after validation. Once it
		// succeeds, the mutation below cannot fail.
		if err := e.bank.Transfer(ctx, asset, user, vault, amount, custody.AuthorityHandle{}); err != nil {
			return err
		}

		info.TotalStaked += amount
		info.LastUpdate = e.clock()
		e.store.AddTotalStaked(amount)

		after = *info
		return nil
	})
	if err != nil {
		e.reject("stake", "custody")
		return ledger.StakeInfo{}, fmt.Errorf("stake %d %s for %s: %w", amount, asset, user, err)
	}
	e.checkRecord(after)

	e.commit("stake", start, &event.Staked{
		OpID:          uuid.New(),
		UserAddr:      user,
		AssetSymbol:   asset,
		Amount:        amount,
		TotalStaked:   after.TotalStaked,
		InGameBalance: after.InGameBalance,
		GlobalStaked:  e.store.TotalStaked(),
		Timestamp:     after.LastUpdate,
	})
	return after, nil
}

// Unstake is the self-service, entitlement-capped withdrawal path. The
// in-game balance is the binding ceiling; principal floors at zero when the
// withdrawal consumes more than the remaining recognized principal.
func (e *Engine) Unstake(ctx context.Context, user, asset string, amount uint64) (ledger.StakeInfo, error) {
	return e.unstake(ctx, user, asset, amount, false)
}

// AuthorizedUnstake is the uncapped withdrawal path: a fresh backend-signed
// approval substitutes for the entitlement ceiling. Same ledger update
// formula as Unstake otherwise; the vault balance check inside the custody
// primitive still applies.
func (e *Engine) AuthorizedUnstake(ctx context.Context, user, asset string, amount uint64, backendKey, signature, message []byte) (ledger.StakeInfo, error) {
	start := time.Now()

	if amount == 0 {
		e.reject("authorized_unstake", "invalid_amount")
		return ledger.StakeInfo{}, ErrInvalidAmount
	}

	if err := e.approvals.Check(backendKey, signature, message, user, amount); err != nil {
		reason := approvalRejectReason(err)
		e.reject("authorized_unstake", reason)
		if e.metrics != nil {
			e.metrics.ApprovalsRejected.WithLabelValues(reason).Inc()
		}
		return ledger.StakeInfo{}, err
	}
	if e.metrics != nil {
		e.metrics.ApprovalsAccepted.Inc()
	}

	return e.unstakeLocked(ctx, user, asset, amount, true, start)
}

func (e *Engine) unstake(ctx context.Context, user, asset string, amount uint64, authorized bool) (ledger.StakeInfo, error) {
	start := time.Now()

	if amount == 0 {
		e.reject("unstake", "invalid_amount")
		return ledger.StakeInfo{}, ErrInvalidAmount
	}

	return e.unstakeLocked(ctx, user, asset, amount, authorized, start)
}

func (e *Engine) unstakeLocked(ctx context.Context, user, asset string, amount uint64, authorized bool, start time.Time) (ledger.StakeInfo, error) {
	op := "unstake"
	if authorized {
		op = "authorized_unstake"
	}

	vault := custody.DeriveVaultAddress(asset)
	auth := custody.DeriveVaultAuthority(e.programID, asset)

	var after ledger.StakeInfo
	var principalDelta uint64

	err := e.store.WithRecord(user, asset, false, func(info *ledger.StakeInfo) error {
		if !authorized && amount > info.InGameBalance {
			return ErrInsufficientBalance
		}

		// Vault liquidity is the custody primitive's check, not ours: amounts
		// beyond principal are only withdrawable once rewards were deposited.
		if err := e.bank.Transfer(ctx, asset, vault, user, amount, auth); err != nil {
			return err
		}

		principalDelta = min(amount, info.TotalStaked)
		info.TotalStaked -= principalDelta
		info.InGameBalance -= min(amount, info.InGameBalance)
		info.LastUpdate = e.clock()
		e.store.SubTotalStaked(principalDelta)

		after = *info
		return nil
	})
	if err != nil {
		e.reject(op, rejectReason(err))
		return ledger.StakeInfo{}, fmt.Errorf("%s %d %s for %s: %w", op, amount, asset, user, err)
	}

	e.commit(op, start, &event.Unstaked{
		OpID:             uuid.New(),
		UserAddr:         user,
		AssetSymbol:      asset,
		Amount:           amount,
		PrincipalDelta:   principalDelta,
		RemainingStaked:  after.TotalStaked,
		RemainingBalance: after.InGameBalance,
		GlobalStaked:     e.store.TotalStaked(),
		Authorized:       authorized,
		Timestamp:        after.LastUpdate,
	})
	return after, nil
}

// DepositRewards moves amount from the authority's account into the vault.
// Pure liquidity top-up: no StakeInfo and no aggregate change. It backs
// future entitlement ceilings that exceed principal.
func (e *Engine) DepositRewards(ctx context.Context, caller, asset string, amount uint64) error {
	start := time.Now()

	if err := e.requireAuthority(caller); err != nil {
		e.reject("deposit_rewards", "unauthorized")
		return err
	}
	if amount == 0 {
		e.reject("deposit_rewards", "invalid_amount")
		return ErrInvalidAmount
	}

	vault := custody.DeriveVaultAddress(asset)
	if err := e.bank.Transfer(ctx, asset, caller, vault, amount, custody.AuthorityHandle{}); err != nil {
		e.reject("deposit_rewards", "custody")
		return fmt.Errorf("deposit rewards %d %s: %w", amount, asset, err)
	}

	e.commit("deposit_rewards", start, &event.RewardsDeposited{
		OpID:        uuid.New(),
		Authority:   caller,
		AssetSymbol: asset,
		Amount:      amount,
		Timestamp:   e.clock(),
	})
	return nil
}

// SetEntitlement overwrites the user's in-game balance. Absolute, not a
// delta, and no solvency check here: solvency is enforced lazily at
// withdrawal time by the vault balance.
func (e *Engine) SetEntitlement(ctx context.Context, caller, user, asset string, balance uint64) (ledger.StakeInfo, error) {
	start := time.Now()

	if err := e.requireAuthority(caller); err != nil {
		e.reject("set_entitlement", "unauthorized")
		return ledger.StakeInfo{}, err
	}

	var after ledger.StakeInfo
	err := e.store.WithRecord(user, asset, false, func(info *ledger.StakeInfo) error {
		info.InGameBalance = balance
		info.LastUpdate = e.clock()
		after = *info
		return nil
	})
	if err != nil {
		e.reject("set_entitlement", "no_stake_found")
		return ledger.StakeInfo{}, err
	}
	e.checkRecord(after)

	e.commit("set_entitlement", start, &event.EntitlementSet{
		OpID:        uuid.New(),
		UserAddr:    user,
		AssetSymbol: asset,
		Balance:     balance,
		TotalStaked: after.TotalStaked,
		Timestamp:   after.LastUpdate,
	})
	return after, nil
}

// StakeInfo returns a copy of the record for (user, asset).
func (e *Engine) StakeInfo(user, asset string) (ledger.StakeInfo, error) {
	info, ok := e.store.Get(user, asset)
	if !ok {
		return ledger.StakeInfo{}, ledger.ErrNoStakeFound
	}
	return info, nil
}

// Global returns a copy of the GlobalState.
func (e *Engine) Global() (ledger.GlobalState, error) {
	return e.store.Global()
}

// checkRecord runs the per-record wraparound guard after a mutation that can
// grow a field. Unstakes only shrink both fields, so they skip it. Like the
// aggregate check, a breach is a bug, not an input error.
func (e *Engine) checkRecord(info ledger.StakeInfo) {
	if err := e.validator.ValidateRecord(info); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
}

func (e *Engine) requireAuthority(caller string) error {
	authority, err := e.store.Authority()
	if err != nil {
		return err
	}
	if caller != authority {
		return ErrUnauthorized
	}
	return nil
}

// commit assigns a sequence, records metrics and emits the event.
// Blocking send to the persist channel (backpressure, no event lost);
// non-blocking send to the publish channel (downstream can re-read the log).
func (e *Engine) commit(op string, start time.Time, evt event.Event) {
	seq := e.sequence.Add(1) - 1

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal %s event: %v", evt.EventType(), err))
	}

	output := Output{
		Envelope: &event.Envelope{
			Sequence:       seq,
			IdempotencyKey: evt.IdempotencyKey(),
			EventType:      evt.EventType(),
			User:           evt.User(),
			Asset:          evt.Asset(),
			Timestamp:      e.clock(),
			Payload:        payload,
		},
		Event: evt,
	}

	if e.persistChan != nil {
		e.persistChan <- output
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		e.metrics.OpSequence.Set(float64(seq + 1))
		e.metrics.TotalStaked.Set(float64(e.store.TotalStaked()))
	}

	e.log.Debug().
		Str("op", op).
		Int64("sequence", seq).
		Str("event", evt.EventType().String()).
		Msg("operation committed")

	// Periodic full aggregate check. A violation is a bug, not an input
	// error: crash loudly instead of limping on with a corrupt ledger.
	if n := e.opCount.Add(1); n%invariantCheckInterval == 0 {
		if err := e.validator.ValidateAggregate(); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
		}
	}
}

func (e *Engine) reject(op, reason string) {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, reason).Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrNoStakeFound):
		return "no_stake_found"
	case errors.Is(err, custody.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "custody"
	}
}

func approvalRejectReason(err error) string {
	switch {
	case errors.Is(err, authz.ErrUntrustedBackend):
		return "untrusted_backend"
	case errors.Is(err, authz.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, authz.ErrStaleApproval):
		return "stale"
	case errors.Is(err, authz.ErrReplayedApproval):
		return "replay"
	case errors.Is(err, authz.ErrApprovalMismatch):
		return "mismatch"
	case errors.Is(err, authz.ErrMalformedApproval):
		return "malformed"
	default:
		return "other"
	}
}
