package engine_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"StakeVault/internal/authz"
	"StakeVault/internal/custody"
	"StakeVault/internal/engine"
	"StakeVault/internal/ledger"
)

const (
	testAsset     = "GT"
	testAuthority = "authority-acct"
	testUser      = "user-1"
)

type testEnv struct {
	eng        *engine.Engine
	store      *ledger.Store
	bank       *custody.Bank
	backendPub ed25519.PublicKey
	backendKey ed25519.PrivateKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate backend key: %v", err)
	}

	store := ledger.NewStore()
	bank := custody.NewBank("stakevault")
	bank.RegisterVault(testAsset)
	bank.Mint(testAsset, testUser, 1_000)
	bank.Mint(testAsset, testAuthority, 1_000)

	approvals := authz.NewApprovalChecker(pub, authz.Ed25519Verifier{}, 5*time.Minute, 1024)

	eng := engine.New(engine.Config{
		ProgramID: "stakevault",
		Store:     store,
		Bank:      bank,
		Approvals: approvals,
		Logger:    zerolog.Nop(),
	})

	if err := eng.Initialize(context.Background(), testAuthority); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	return &testEnv{
		eng:        eng,
		store:      store,
		bank:       bank,
		backendPub: pub,
		backendKey: priv,
	}
}

func (env *testEnv) signApproval(user string, amount uint64) (message, signature []byte) {
	approval := authz.Approval{
		Action:    authz.ActionUnstake,
		User:      user,
		Amount:    amount,
		Timestamp: time.Now(),
	}
	message = approval.Encode()
	signature = ed25519.Sign(env.backendKey, message)
	return message, signature
}

func (env *testEnv) mustStake(t *testing.T, user string, amount uint64) {
	t.Helper()
	if _, err := env.eng.Stake(context.Background(), user, testAsset, amount); err != nil {
		t.Fatalf("stake %d: %v", amount, err)
	}
}

func (env *testEnv) mustSetEntitlement(t *testing.T, user string, balance uint64) {
	t.Helper()
	if _, err := env.eng.SetEntitlement(context.Background(), testAuthority, user, testAsset, balance); err != nil {
		t.Fatalf("set entitlement %d: %v", balance, err)
	}
}

func (env *testEnv) assertRecord(t *testing.T, user string, totalStaked, inGameBalance uint64) {
	t.Helper()
	info, err := env.eng.StakeInfo(user, testAsset)
	if err != nil {
		t.Fatalf("stake info: %v", err)
	}
	if info.TotalStaked != totalStaked {
		t.Errorf("total_staked: got %d, want %d", info.TotalStaked, totalStaked)
	}
	if info.InGameBalance != inGameBalance {
		t.Errorf("in_game_balance: got %d, want %d", info.InGameBalance, inGameBalance)
	}
}

func (env *testEnv) assertGlobal(t *testing.T, totalStaked uint64) {
	t.Helper()
	global, err := env.eng.Global()
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	if global.TotalStaked != totalStaked {
		t.Errorf("global total_staked: got %d, want %d", global.TotalStaked, totalStaked)
	}
}

func TestInitializeTwice_Fails(t *testing.T) {
	env := newTestEnv(t)

	err := env.eng.Initialize(context.Background(), "someone-else")
	if !errors.Is(err, ledger.ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}

	global, _ := env.eng.Global()
	if global.Authority != testAuthority {
		t.Errorf("authority overwritten: got %s", global.Authority)
	}
}

// stake 100, entitlement 120, unstake 80: principal floors track the formula
// principal_delta = min(amount, totalStaked).
func TestUnstake_PartialPrincipal(t *testing.T) {
	env := newTestEnv(t)

	env.mustStake(t, testUser, 100)
	env.mustSetEntitlement(t, testUser, 120)

	info, err := env.eng.Unstake(context.Background(), testUser, testAsset, 80)
	if err != nil {
		t.Fatalf("unstake 80: %v", err)
	}
	if info.TotalStaked != 20 || info.InGameBalance != 40 {
		t.Errorf("got {%d, %d}, want {20, 40}", info.TotalStaked, info.InGameBalance)
	}
	env.assertGlobal(t, 20)
}

// Continues the previous scenario: entitlement 60, unstake 60 drains both
// fields to zero. Rewards must be deposited first, the vault holds only 20
// of principal at that point.
func TestUnstake_DrainsToZero(t *testing.T) {
	env := newTestEnv(t)

	env.mustStake(t, testUser, 100)
	env.mustSetEntitlement(t, testUser, 120)
	if _, err := env.eng.Unstake(context.Background(), testUser, testAsset, 80); err != nil {
		t.Fatalf("unstake 80: %v", err)
	}

	if err := env.eng.DepositRewards(context.Background(), testAuthority, testAsset, 40); err != nil {
		t.Fatalf("deposit rewards: %v", err)
	}

	env.mustSetEntitlement(t, testUser, 60)
	info, err := env.eng.Unstake(context.Background(), testUser, testAsset, 60)
	if err != nil {
		t.Fatalf("unstake 60: %v", err)
	}
	if info.TotalStaked != 0 || info.InGameBalance != 0 {
		t.Errorf("got {%d, %d}, want {0, 0}", info.TotalStaked, info.InGameBalance)
	}
	env.assertGlobal(t, 0)

	// Dormant record stays addressable for future stakes
	env.mustStake(t, testUser, 10)
	env.assertRecord(t, testUser, 10, 0)
}

// stake 50, entitlement 30, unstake 40 exceeds the ceiling: rejected with
// no state change anywhere.
func TestUnstake_ExceedsEntitlement(t *testing.T) {
	env := newTestEnv(t)

	env.mustStake(t, testUser, 50)
	env.mustSetEntitlement(t, testUser, 30)

	vaultBefore := env.vaultBalance(t)
	userBefore := env.bank.Balance(testAsset, testUser)

	_, err := env.eng.Unstake(context.Background(), testUser, testAsset, 40)
	if !errors.Is(err, engine.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	env.assertRecord(t, testUser, 50, 30)
	env.assertGlobal(t, 50)
	if got := env.vaultBalance(t); got != vaultBefore {
		t.Errorf("vault balance changed: %d -> %d", vaultBefore, got)
	}
	if got := env.bank.Balance(testAsset, testUser); got != userBefore {
		t.Errorf("user balance changed: %d -> %d", userBefore, got)
	}
}

func TestDepositRewards_LiquidityOnly(t *testing.T) {
	env := newTestEnv(t)

	env.mustStake(t, testUser, 100)
	vaultBefore := env.vaultBalance(t)

	if err := env.eng.DepositRewards(context.Background(), testAuthority, testAsset, 250); err != nil {
		t.Fatalf("deposit rewards: %v", err)
	}

	if got := env.vaultBalance(t); got != vaultBefore+250 {
		t.Errorf("vault balance: got %d, want %d", got, vaultBefore+250)
	}
	env.assertRecord(t, testUser, 100, 0)
	env.assertGlobal(t, 100)
}

func TestDepositRewards_NotAuthority(t *testing.T) {
	env := newTestEnv(t)

	err := env.eng.DepositRewards(context.Background(), testUser, testAsset, 10)
	if !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSetEntitlement_RequiresRecordAndAuthority(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.eng.SetEntitlement(context.Background(), testAuthority, testUser, testAsset, 50)
	if !errors.Is(err, ledger.ErrNoStakeFound) {
		t.Fatalf("expected ErrNoStakeFound, got %v", err)
	}

	env.mustStake(t, testUser, 10)
	_, err = env.eng.SetEntitlement(context.Background(), "impostor", testUser, testAsset, 50)
	if !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// Absolute overwrite, not a delta
	env.mustSetEntitlement(t, testUser, 50)
	env.mustSetEntitlement(t, testUser, 7)
	env.assertRecord(t, testUser, 10, 7)
}

func TestStake_ZeroAmount(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.eng.Stake(context.Background(), testUser, testAsset, 0)
	if !errors.Is(err, engine.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := env.eng.StakeInfo(testUser, testAsset); !errors.Is(err, ledger.ErrNoStakeFound) {
		t.Errorf("zero-amount stake created a record")
	}
}

func TestStake_InsufficientFunds_NoStateChange(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.eng.Stake(context.Background(), testUser, testAsset, 5_000)
	if !errors.Is(err, custody.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	env.assertGlobal(t, 0)
	// No record either: the first stake for the pair failed, so the pair
	// must stay unaddressable
	if _, err := env.eng.StakeInfo(testUser, testAsset); !errors.Is(err, ledger.ErrNoStakeFound) {
		t.Errorf("failed stake left a record: %v", err)
	}
	if _, err := env.eng.Unstake(context.Background(), testUser, testAsset, 1); !errors.Is(err, ledger.ErrNoStakeFound) {
		t.Errorf("unstake after failed stake: got %v, want ErrNoStakeFound", err)
	}

	// An existing record survives a later failed stake with its values intact
	env.mustStake(t, testUser, 100)
	if _, err := env.eng.Stake(context.Background(), testUser, testAsset, 5_000); !errors.Is(err, custody.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	env.assertRecord(t, testUser, 100, 0)
	env.assertGlobal(t, 100)
}

// A mutation that breaches the wraparound guard is ledger corruption and
// must crash the process, not commit.
func TestStake_WrapGuardPanics(t *testing.T) {
	env := newTestEnv(t)
	env.bank.Mint(testAsset, testUser, 1<<62)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on wraparound guard breach")
		}
	}()
	env.eng.Stake(context.Background(), testUser, testAsset, 1<<62)
}

func TestSetEntitlement_WrapGuardPanics(t *testing.T) {
	env := newTestEnv(t)
	env.mustStake(t, testUser, 10)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on wraparound guard breach")
		}
	}()
	env.eng.SetEntitlement(context.Background(), testAuthority, testUser, testAsset, 1<<62)
}

func TestUnstake_NoRecord(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.eng.Unstake(context.Background(), "nobody", testAsset, 10)
	if !errors.Is(err, ledger.ErrNoStakeFound) {
		t.Fatalf("expected ErrNoStakeFound, got %v", err)
	}
}

func TestAuthorizedUnstake_BypassesEntitlement(t *testing.T) {
	env := newTestEnv(t)

	env.mustStake(t, testUser, 100)
	env.mustSetEntitlement(t, testUser, 10)

	// 80 > entitlement 10, only the backend approval lets it through
	message, signature := env.signApproval(testUser, 80)
	info, err := env.eng.AuthorizedUnstake(context.Background(), testUser, testAsset, 80, env.backendPub, signature, message)
	if err != nil {
		t.Fatalf("authorized unstake: %v", err)
	}

	if info.TotalStaked != 20 {
		t.Errorf("total_staked: got %d, want 20", info.TotalStaked)
	}
	// Entitlement saturates at zero instead of underflowing
	if info.InGameBalance != 0 {
		t.Errorf("in_game_balance: got %d, want 0", info.InGameBalance)
	}
	env.assertGlobal(t, 20)
}

func TestAuthorizedUnstake_WrongSigner(t *testing.T) {
	env := newTestEnv(t)
	env.mustStake(t, testUser, 100)

	otherPub, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	approval := authz.Approval{Action: authz.ActionUnstake, User: testUser, Amount: 50, Timestamp: time.Now()}
	message := approval.Encode()

	// Untrusted key, even with a self-consistent signature
	signature := ed25519.Sign(otherPriv, message)
	_, err = env.eng.AuthorizedUnstake(context.Background(), testUser, testAsset, 50, otherPub, signature, message)
	if !errors.Is(err, authz.ErrUntrustedBackend) {
		t.Fatalf("expected ErrUntrustedBackend, got %v", err)
	}

	// Trusted key presented, but the signature is from the wrong key
	_, err = env.eng.AuthorizedUnstake(context.Background(), testUser, testAsset, 50, env.backendPub, signature, message)
	if !errors.Is(err, authz.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	env.assertRecord(t, testUser, 100, 0)
	env.assertGlobal(t, 100)
}

func TestAuthorizedUnstake_Replay(t *testing.T) {
	env := newTestEnv(t)
	env.mustStake(t, testUser, 100)

	message, signature := env.signApproval(testUser, 30)
	if _, err := env.eng.AuthorizedUnstake(context.Background(), testUser, testAsset, 30, env.backendPub, signature, message); err != nil {
		t.Fatalf("first authorized unstake: %v", err)
	}

	_, err := env.eng.AuthorizedUnstake(context.Background(), testUser, testAsset, 30, env.backendPub, signature, message)
	if !errors.Is(err, authz.ErrReplayedApproval) {
		t.Fatalf("expected ErrReplayedApproval, got %v", err)
	}

	env.assertRecord(t, testUser, 70, 0)
}

func TestAuthorizedUnstake_VaultInsolvent_NoStateChange(t *testing.T) {
	env := newTestEnv(t)
	env.mustStake(t, testUser, 100)

	// Approval for more than the vault holds
	message, signature := env.signApproval(testUser, 500)
	_, err := env.eng.AuthorizedUnstake(context.Background(), testUser, testAsset, 500, env.backendPub, signature, message)
	if !errors.Is(err, custody.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	env.assertRecord(t, testUser, 100, 0)
	env.assertGlobal(t, 100)
}

func TestAuthorizedUnstake_RequiresRecord(t *testing.T) {
	env := newTestEnv(t)

	message, signature := env.signApproval("nobody", 10)
	_, err := env.eng.AuthorizedUnstake(context.Background(), "nobody", testAsset, 10, env.backendPub, signature, message)
	if !errors.Is(err, ledger.ErrNoStakeFound) {
		t.Fatalf("expected ErrNoStakeFound, got %v", err)
	}
}

func TestAggregateConsistency_ConcurrentStakes(t *testing.T) {
	env := newTestEnv(t)

	const (
		users     = 8
		opsPer    = 50
		stakeSize = 2
	)
	for i := 0; i < users; i++ {
		env.bank.Mint(testAsset, fmt.Sprintf("user-%d", i), opsPer*stakeSize)
	}

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for j := 0; j < opsPer; j++ {
				if _, err := env.eng.Stake(context.Background(), user, testAsset, stakeSize); err != nil {
					t.Errorf("stake by %s: %v", user, err)
					return
				}
			}
		}(fmt.Sprintf("user-%d", i))
	}
	wg.Wait()

	var sum uint64
	for _, info := range env.store.Snapshot() {
		sum += info.TotalStaked
	}
	global, _ := env.eng.Global()
	if global.TotalStaked != sum {
		t.Errorf("aggregate mismatch: global %d, record sum %d", global.TotalStaked, sum)
	}
	if want := uint64(users * opsPer * stakeSize); sum != want {
		t.Errorf("record sum: got %d, want %d", sum, want)
	}
}

func TestAggregateConsistency_MixedOps(t *testing.T) {
	env := newTestEnv(t)

	env.mustStake(t, testUser, 300)
	env.mustSetEntitlement(t, testUser, 300)

	ops := []struct {
		stake   uint64
		unstake uint64
	}{
		{0, 50}, {40, 0}, {0, 120}, {0, 30}, {10, 0},
	}
	for _, op := range ops {
		if op.stake > 0 {
			env.mustStake(t, testUser, op.stake)
		}
		if op.unstake > 0 {
			if _, err := env.eng.Unstake(context.Background(), testUser, testAsset, op.unstake); err != nil {
				t.Fatalf("unstake %d: %v", op.unstake, err)
			}
		}

		var sum uint64
		for _, info := range env.store.Snapshot() {
			sum += info.TotalStaked
		}
		global, _ := env.eng.Global()
		if global.TotalStaked != sum {
			t.Fatalf("aggregate mismatch after op %+v: global %d, sum %d", op, global.TotalStaked, sum)
		}
	}
}

func (env *testEnv) vaultBalance(t *testing.T) uint64 {
	t.Helper()
	vault, err := env.bank.VaultAddress(testAsset)
	if err != nil {
		t.Fatalf("vault address: %v", err)
	}
	return env.bank.Balance(testAsset, vault)
}
