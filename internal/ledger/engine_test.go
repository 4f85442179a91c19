package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/covenant-labs/covenant/internal/storage"
)

// testEngine creates an engine over a temporary SQLite database.
func testEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewEngine(db)
}

// ident makes a deterministic test identity.
func ident(b byte) Identity {
	var id Identity
	for i := range id {
		id[i] = b
	}
	return id
}

// setupProtocol initializes the protocol and funds the given accounts.
func setupProtocol(t *testing.T, e *Engine, funded map[Identity]uint64) {
	t.Helper()
	ctx := context.Background()
	if err := e.Initialize(ctx, ident(0xAA)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for id, amount := range funded {
		if err := e.Deposit(ctx, id, amount); err != nil {
			t.Fatalf("Deposit: %v", err)
		}
	}
}

// registerProvider registers a funded provider with the given stake.
func registerProvider(t *testing.T, e *Engine, authority Identity, stake uint64) Address {
	t.Helper()
	addr, err := e.RegisterProvider(context.Background(), authority, "svc", "https://svc.example", stake)
	if err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}
	return addr
}

// checkStakeInvariant asserts that Protocol.TotalStaked equals both the sum
// of all providers' stake and the sum of all vault balances.
func checkStakeInvariant(t *testing.T, e *Engine) {
	t.Helper()
	proto, err := e.GetProtocol()
	if err != nil {
		t.Fatalf("GetProtocol: %v", err)
	}
	providers, err := e.ListProviders()
	if err != nil {
		t.Fatalf("ListProviders: %v", err)
	}
	var stakeSum, vaultSum uint64
	for _, p := range providers {
		stakeSum += p.StakeAmount
		vb, err := e.VaultBalance(p.Authority)
		if err != nil {
			t.Fatalf("VaultBalance: %v", err)
		}
		vaultSum += vb
	}
	if proto.TotalStaked != stakeSum {
		t.Errorf("TotalStaked = %d, sum of provider stakes = %d", proto.TotalStaked, stakeSum)
	}
	if proto.TotalStaked != vaultSum {
		t.Errorf("TotalStaked = %d, sum of vault balances = %d", proto.TotalStaked, vaultSum)
	}
}

func TestInitialize(t *testing.T) {
	e := testEngine(t)
	authority := ident(1)
	if err := e.Initialize(context.Background(), authority); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	p, err := e.GetProtocol()
	if err != nil {
		t.Fatalf("GetProtocol: %v", err)
	}
	if p.Authority != authority {
		t.Errorf("authority = %s, want %s", p.Authority, authority)
	}
	if p.TotalProviders != 0 || p.TotalStaked != 0 || p.TotalSlashed != 0 {
		t.Errorf("counters not zero: %+v", p)
	}
}

func TestInitialize_Twice(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	if err := e.Initialize(ctx, ident(1)); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	if err := e.Initialize(ctx, ident(2)); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second Initialize: got %v, want ErrAlreadyInitialized", err)
	}
}

func TestDeposit_ZeroAmount(t *testing.T) {
	e := testEngine(t)
	if err := e.Deposit(context.Background(), ident(1), 0); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("got %v, want ErrZeroAmount", err)
	}
}

func TestRegisterProvider(t *testing.T) {
	e := testEngine(t)
	authority := ident(1)
	setupProtocol(t, e, map[Identity]uint64{authority: 600_000_000})

	addr := registerProvider(t, e, authority, 500_000_000)

	p, err := e.GetProvider(addr)
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if p.StakeAmount != 500_000_000 {
		t.Errorf("stake = %d, want 500000000", p.StakeAmount)
	}
	if !p.IsActive {
		t.Error("provider should be active")
	}
	if p.ViolationsCount != 0 || p.SuccessfulRequests != 0 {
		t.Errorf("counters not zero: %+v", p)
	}

	// Funds left the general balance and are locked in the vault.
	bal, err := e.Balance(authority)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 100_000_000 {
		t.Errorf("account balance = %d, want 100000000", bal)
	}
	vb, err := e.VaultBalance(authority)
	if err != nil {
		t.Fatalf("VaultBalance: %v", err)
	}
	if vb != 500_000_000 {
		t.Errorf("vault balance = %d, want 500000000", vb)
	}

	proto, err := e.GetProtocol()
	if err != nil {
		t.Fatalf("GetProtocol: %v", err)
	}
	if proto.TotalProviders != 1 {
		t.Errorf("total_providers = %d, want 1", proto.TotalProviders)
	}
	checkStakeInvariant(t, e)
}

func TestRegisterProvider_BelowMinStake(t *testing.T) {
	e := testEngine(t)
	authority := ident(1)
	setupProtocol(t, e, map[Identity]uint64{authority: 500_000_000})

	addr, err := e.RegisterProvider(context.Background(), authority, "svc", "https://svc.example", MinStake-1)
	if !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("got %v, want ErrInsufficientStake", err)
	}

	// No records were created and no funds moved.
	if _, err := e.GetProvider(addr); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("provider record exists after failed registration")
	}
	bal, _ := e.Balance(authority)
	if bal != 500_000_000 {
		t.Errorf("account balance = %d, want unchanged 500000000", bal)
	}
	proto, _ := e.GetProtocol()
	if proto.TotalProviders != 0 {
		t.Errorf("total_providers = %d, want 0", proto.TotalProviders)
	}
}

func TestRegisterProvider_InsufficientFunds(t *testing.T) {
	e := testEngine(t)
	authority := ident(1)
	setupProtocol(t, e, map[Identity]uint64{authority: MinStake - 1})

	_, err := e.RegisterProvider(context.Background(), authority, "svc", "https://svc.example", MinStake)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	// The aborted instruction left no provider behind.
	if _, err := e.GetProvider(ProviderAddress(authority)); !errors.Is(err, ErrProviderNotFound) {
		t.Error("provider record exists after aborted registration")
	}
}

func TestRegisterProvider_Duplicate(t *testing.T) {
	e := testEngine(t)
	authority := ident(1)
	setupProtocol(t, e, map[Identity]uint64{authority: 2 * MinStake})
	registerProvider(t, e, authority, MinStake)

	_, err := e.RegisterProvider(context.Background(), authority, "svc2", "https://two.example", MinStake)
	if !errors.Is(err, ErrProviderExists) {
		t.Fatalf("got %v, want ErrProviderExists", err)
	}
}

func TestRegisterProvider_FieldBounds(t *testing.T) {
	e := testEngine(t)
	authority := ident(1)
	setupProtocol(t, e, map[Identity]uint64{authority: MinStake})

	long := make([]byte, MaxNameLen+1)
	_, err := e.RegisterProvider(context.Background(), authority, string(long), "e", MinStake)
	if !errors.Is(err, ErrNameTooLong) {
		t.Errorf("got %v, want ErrNameTooLong", err)
	}

	long = make([]byte, MaxEndpointLen+1)
	_, err = e.RegisterProvider(context.Background(), authority, "n", string(long), MinStake)
	if !errors.Is(err, ErrEndpointTooLong) {
		t.Errorf("got %v, want ErrEndpointTooLong", err)
	}
}

func TestDefineSLA(t *testing.T) {
	e := testEngine(t)
	authority := ident(1)
	setupProtocol(t, e, map[Identity]uint64{authority: MinStake})
	providerAddr := registerProvider(t, e, authority, MinStake)
	ctx := context.Background()

	// Boundary values succeed.
	if _, err := e.DefineSLA(ctx, authority, 100, 500, 100, 1); err != nil {
		t.Fatalf("DefineSLA: %v", err)
	}
	sla, err := e.GetSLA(providerAddr)
	if err != nil {
		t.Fatalf("GetSLA: %v", err)
	}
	if sla.UptimeGuarantee != 100 || sla.AccuracyGuarantee != 100 || sla.PenaltyPct != 1 {
		t.Errorf("unexpected SLA: %+v", sla)
	}
	if !sla.IsActive {
		t.Error("SLA should be active")
	}

	// Redefining replaces the terms wholesale.
	if _, err := e.DefineSLA(ctx, authority, 95, 2000, 90, 25); err != nil {
		t.Fatalf("redefine SLA: %v", err)
	}
	sla, err = e.GetSLA(providerAddr)
	if err != nil {
		t.Fatalf("GetSLA after redefine: %v", err)
	}
	if sla.UptimeGuarantee != 95 || sla.PenaltyPct != 25 {
		t.Errorf("redefine did not replace terms: %+v", sla)
	}
}

func TestDefineSLA_InvalidBounds(t *testing.T) {
	e := testEngine(t)
	authority := ident(1)
	setupProtocol(t, e, map[Identity]uint64{authority: MinStake})
	registerProvider(t, e, authority, MinStake)
	ctx := context.Background()

	cases := []struct {
		name                      string
		uptime, accuracy, penalty uint8
		respMs                    uint32
		want                      error
	}{
		{"uptime 101", 101, 90, 10, 500, ErrInvalidPercentage},
		{"accuracy 101", 99, 101, 10, 500, ErrInvalidPercentage},
		{"penalty 0", 99, 90, 0, 500, ErrInvalidPercentage},
		{"penalty 101", 99, 90, 101, 500, ErrInvalidPercentage},
		{"response time 0", 99, 90, 10, 0, ErrInvalidResponseTime},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.DefineSLA(ctx, authority, tc.uptime, tc.respMs, tc.accuracy, tc.penalty)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDefineSLA_NoProvider(t *testing.T) {
	e := testEngine(t)
	setupProtocol(t, e, nil)
	_, err := e.DefineSLA(context.Background(), ident(9), 99, 500, 95, 10)
	if !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("got %v, want ErrProviderNotFound", err)
	}
}

func TestReportViolation(t *testing.T) {
	e := testEngine(t)
	authority, reporter := ident(1), ident(2)
	setupProtocol(t, e, map[Identity]uint64{authority: MinStake})
	providerAddr := registerProvider(t, e, authority, MinStake)
	ctx := context.Background()

	evidence := EvidenceHash([]byte("latency trace"))
	addr, seq, err := e.ReportViolation(ctx, reporter, providerAddr, ResponseTimeViolation, evidence, "p99 above bound")
	if err != nil {
		t.Fatalf("ReportViolation: %v", err)
	}
	if seq != 0 {
		t.Errorf("first seq = %d, want 0", seq)
	}
	if addr != ViolationAddress(providerAddr, 0) {
		t.Error("violation address does not match derivation")
	}

	v, err := e.GetViolation(providerAddr, 0)
	if err != nil {
		t.Fatalf("GetViolation: %v", err)
	}
	if v.Reporter != reporter || v.Type != ResponseTimeViolation || v.IsResolved {
		t.Errorf("unexpected violation: %+v", v)
	}
	if v.EvidenceHash != evidence {
		t.Error("evidence hash not stored verbatim")
	}

	// Second report gets the next sequence index.
	_, seq, err = e.ReportViolation(ctx, reporter, providerAddr, UptimeViolation, evidence, "")
	if err != nil {
		t.Fatalf("second ReportViolation: %v", err)
	}
	if seq != 1 {
		t.Errorf("second seq = %d, want 1", seq)
	}
	p, _ := e.GetProvider(providerAddr)
	if p.ViolationsCount != 2 {
		t.Errorf("violations_count = %d, want 2", p.ViolationsCount)
	}
}

func TestReportViolation_InactiveProvider(t *testing.T) {
	e := testEngine(t)
	authority, reporter := ident(1), ident(2)
	setupProtocol(t, e, map[Identity]uint64{authority: MinStake})
	providerAddr := registerProvider(t, e, authority, MinStake)
	ctx := context.Background()

	// Withdraw everything; the provider deactivates.
	if err := e.WithdrawStake(ctx, authority, MinStake); err != nil {
		t.Fatalf("WithdrawStake: %v", err)
	}
	_, _, err := e.ReportViolation(ctx, reporter, providerAddr, UptimeViolation, [32]byte{}, "")
	if !errors.Is(err, ErrProviderInactive) {
		t.Fatalf("got %v, want ErrProviderInactive", err)
	}
}

// slashFixture registers a staked provider with an SLA and one reported
// violation, returning the provider address and the violation address.
func slashFixture(t *testing.T, e *Engine, authority, reporter Identity, stake uint64, penaltyPct uint8) (Address, Address) {
	t.Helper()
	ctx := context.Background()
	setupProtocol(t, e, map[Identity]uint64{authority: stake})
	providerAddr := registerProvider(t, e, authority, stake)
	if _, err := e.DefineSLA(ctx, authority, 99, 500, 95, penaltyPct); err != nil {
		t.Fatalf("DefineSLA: %v", err)
	}
	violationAddr, _, err := e.ReportViolation(ctx, reporter, providerAddr, UptimeViolation, EvidenceHash([]byte("ev")), "down")
	if err != nil {
		t.Fatalf("ReportViolation: %v", err)
	}
	return providerAddr, violationAddr
}

func TestSlash(t *testing.T) {
	e := testEngine(t)
	authority, reporter := ident(1), ident(2)
	providerAddr, violationAddr := slashFixture(t, e, authority, reporter, 500_000_000, 10)

	amount, err := e.Slash(context.Background(), reporter, violationAddr)
	if err != nil {
		t.Fatalf("Slash: %v", err)
	}
	if amount != 50_000_000 {
		t.Errorf("penalty = %d, want 50000000", amount)
	}

	p, _ := e.GetProvider(providerAddr)
	if p.StakeAmount != 450_000_000 {
		t.Errorf("stake = %d, want 450000000", p.StakeAmount)
	}
	if !p.IsActive {
		t.Error("provider should remain active above MinStake")
	}

	// The reporter was paid from the vault.
	bal, _ := e.Balance(reporter)
	if bal != 50_000_000 {
		t.Errorf("reporter balance = %d, want 50000000", bal)
	}
	vb, _ := e.VaultBalance(authority)
	if vb != 450_000_000 {
		t.Errorf("vault balance = %d, want 450000000", vb)
	}

	v, _ := e.GetViolation(providerAddr, 0)
	if !v.IsResolved {
		t.Error("violation should be resolved")
	}

	proto, _ := e.GetProtocol()
	if proto.TotalSlashed != 50_000_000 {
		t.Errorf("total_slashed = %d, want 50000000", proto.TotalSlashed)
	}
	checkStakeInvariant(t, e)
}

func TestSlash_Twice(t *testing.T) {
	e := testEngine(t)
	authority, reporter := ident(1), ident(2)
	providerAddr, violationAddr := slashFixture(t, e, authority, reporter, 500_000_000, 10)
	ctx := context.Background()

	if _, err := e.Slash(ctx, reporter, violationAddr); err != nil {
		t.Fatalf("first Slash: %v", err)
	}
	if _, err := e.Slash(ctx, reporter, violationAddr); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second Slash: got %v, want ErrAlreadyResolved", err)
	}

	// No second transfer happened.
	bal, _ := e.Balance(reporter)
	if bal != 50_000_000 {
		t.Errorf("reporter balance = %d, want 50000000 after one slash", bal)
	}
	p, _ := e.GetProvider(providerAddr)
	if p.StakeAmount != 450_000_000 {
		t.Errorf("stake = %d, want 450000000 after one slash", p.StakeAmount)
	}
}

func TestSlash_NotReporter(t *testing.T) {
	e := testEngine(t)
	authority, reporter := ident(1), ident(2)
	_, violationAddr := slashFixture(t, e, authority, reporter, 500_000_000, 10)

	_, err := e.Slash(context.Background(), ident(3), violationAddr)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestSlash_NoSLA(t *testing.T) {
	e := testEngine(t)
	authority, reporter := ident(1), ident(2)
	setupProtocol(t, e, map[Identity]uint64{authority: MinStake})
	providerAddr := registerProvider(t, e, authority, MinStake)
	ctx := context.Background()

	violationAddr, _, err := e.ReportViolation(ctx, reporter, providerAddr, UptimeViolation, [32]byte{}, "")
	if err != nil {
		t.Fatalf("ReportViolation: %v", err)
	}
	if _, err := e.Slash(ctx, reporter, violationAddr); !errors.Is(err, ErrSLANotFound) {
		t.Fatalf("got %v, want ErrSLANotFound", err)
	}
}

func TestSlash_DeactivatesBelowMinStake(t *testing.T) {
	e := testEngine(t)
	authority, reporter := ident(1), ident(2)
	providerAddr, violationAddr := slashFixture(t, e, authority, reporter, MinStake, 10)

	amount, err := e.Slash(context.Background(), reporter, violationAddr)
	if err != nil {
		t.Fatalf("Slash: %v", err)
	}
	if amount != MinStake/10 {
		t.Errorf("penalty = %d, want %d", amount, MinStake/10)
	}

	p, _ := e.GetProvider(providerAddr)
	if p.IsActive {
		t.Error("provider should deactivate when stake falls below MinStake")
	}
	// The record persists as a historical entry.
	if p.StakeAmount != MinStake-MinStake/10 {
		t.Errorf("stake = %d", p.StakeAmount)
	}
	checkStakeInvariant(t, e)
}

func TestSlash_FloorsTowardZero(t *testing.T) {
	e := testEngine(t)
	authority, reporter := ident(1), ident(2)
	// 100_000_001 * 3 / 100 = 3_000_000.03, must truncate to 3_000_000.
	_, violationAddr := slashFixture(t, e, authority, reporter, 100_000_001, 3)

	amount, err := e.Slash(context.Background(), reporter, violationAddr)
	if err != nil {
		t.Fatalf("Slash: %v", err)
	}
	if amount != 3_000_000 {
		t.Errorf("penalty = %d, want 3000000", amount)
	}
}

func TestRecordSuccess(t *testing.T) {
	e := testEngine(t)
	authority := ident(1)
	setupProtocol(t, e, map[Identity]uint64{authority: MinStake})
	providerAddr := registerProvider(t, e, authority, MinStake)
	ctx := context.Background()

	// Any caller may record a success.
	for i := 0; i < 3; i++ {
		if err := e.RecordSuccess(ctx, ident(byte(10+i)), providerAddr); err != nil {
			t.Fatalf("RecordSuccess: %v", err)
		}
	}
	p, _ := e.GetProvider(providerAddr)
	if p.SuccessfulRequests != 3 {
		t.Errorf("successful_requests = %d, want 3", p.SuccessfulRequests)
	}
}

func TestWithdrawStake(t *testing.T) {
	e := testEngine(t)
	authority := ident(1)
	setupProtocol(t, e, map[Identity]uint64{authority: 500_000_000})
	providerAddr := registerProvider(t, e, authority, 500_000_000)
	ctx := context.Background()

	// Dropping to 50_000_000 would land strictly between 0 and MinStake.
	err := e.WithdrawStake(ctx, authority, 450_000_000)
	if !errors.Is(err, ErrBelowMinimumStake) {
		t.Fatalf("got %v, want ErrBelowMinimumStake", err)
	}

	// Withdrawing down to exactly MinStake succeeds and stays active.
	if err := e.WithdrawStake(ctx, authority, 400_000_000); err != nil {
		t.Fatalf("WithdrawStake to MinStake: %v", err)
	}
	p, _ := e.GetProvider(providerAddr)
	if p.StakeAmount != MinStake || !p.IsActive {
		t.Errorf("stake = %d active = %v, want %d true", p.StakeAmount, p.IsActive, MinStake)
	}
	checkStakeInvariant(t, e)

	// Withdrawing the full remainder zeroes the stake and deactivates.
	if err := e.WithdrawStake(ctx, authority, MinStake); err != nil {
		t.Fatalf("WithdrawStake remainder: %v", err)
	}
	p, _ = e.GetProvider(providerAddr)
	if p.StakeAmount != 0 || p.IsActive {
		t.Errorf("stake = %d active = %v, want 0 false", p.StakeAmount, p.IsActive)
	}

	// All funds are back in the general balance.
	bal, _ := e.Balance(authority)
	if bal != 500_000_000 {
		t.Errorf("account balance = %d, want 500000000", bal)
	}
	checkStakeInvariant(t, e)

	// Registration is permanent: the record persists after full withdrawal.
	proto, _ := e.GetProtocol()
	if proto.TotalProviders != 1 {
		t.Errorf("total_providers = %d, want 1 (deactivation does not deregister)", proto.TotalProviders)
	}
}

func TestWithdrawStake_MoreThanStaked(t *testing.T) {
	e := testEngine(t)
	authority := ident(1)
	setupProtocol(t, e, map[Identity]uint64{authority: MinStake})
	registerProvider(t, e, authority, MinStake)

	err := e.WithdrawStake(context.Background(), authority, MinStake+1)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestWithdrawStake_Inactive(t *testing.T) {
	e := testEngine(t)
	authority := ident(1)
	setupProtocol(t, e, map[Identity]uint64{authority: MinStake})
	registerProvider(t, e, authority, MinStake)
	ctx := context.Background()

	if err := e.WithdrawStake(ctx, authority, MinStake); err != nil {
		t.Fatalf("full withdrawal: %v", err)
	}
	if err := e.WithdrawStake(ctx, authority, 1); !errors.Is(err, ErrProviderInactive) {
		t.Fatalf("got %v, want ErrProviderInactive", err)
	}
}

func TestEndToEnd(t *testing.T) {
	e := testEngine(t)
	authority, reporter := ident(1), ident(2)
	ctx := context.Background()

	if err := e.Initialize(ctx, ident(0xAA)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := e.Deposit(ctx, authority, 500_000_000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	providerAddr, err := e.RegisterProvider(ctx, authority, "inference-api", "https://api.example", 500_000_000)
	if err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}
	if _, err := e.DefineSLA(ctx, authority, 99, 1000, 95, 10); err != nil {
		t.Fatalf("DefineSLA: %v", err)
	}
	violationAddr, _, err := e.ReportViolation(ctx, reporter, providerAddr, ServiceUnavailable, EvidenceHash([]byte("outage log")), "5xx for 20 minutes")
	if err != nil {
		t.Fatalf("ReportViolation: %v", err)
	}
	if _, err := e.Slash(ctx, reporter, violationAddr); err != nil {
		t.Fatalf("Slash: %v", err)
	}

	p, _ := e.GetProvider(providerAddr)
	if p.StakeAmount != 450_000_000 {
		t.Errorf("stake = %d, want 450000000", p.StakeAmount)
	}
	proto, _ := e.GetProtocol()
	if proto.TotalSlashed != 50_000_000 {
		t.Errorf("total_slashed = %d, want 50000000", proto.TotalSlashed)
	}
	v, _ := e.GetViolation(providerAddr, 0)
	if !v.IsResolved {
		t.Error("violation should be resolved")
	}
	checkStakeInvariant(t, e)

	// Every committed instruction left exactly one transaction log entry.
	entries, err := e.DB().ListLog(0, 100)
	if err != nil {
		t.Fatalf("ListLog: %v", err)
	}
	wantOps := []string{"initialize", "deposit", "register_provider", "define_sla", "report_violation", "slash"}
	if len(entries) != len(wantOps) {
		t.Fatalf("log has %d entries, want %d", len(entries), len(wantOps))
	}
	for i, op := range wantOps {
		if entries[i].Instruction != op {
			t.Errorf("log[%d] = %s, want %s", i, entries[i].Instruction, op)
		}
	}
}

func TestStakeInvariant_MixedOperations(t *testing.T) {
	e := testEngine(t)
	a1, a2, reporter := ident(1), ident(2), ident(3)
	ctx := context.Background()

	setupProtocol(t, e, map[Identity]uint64{a1: 900_000_000, a2: 400_000_000})
	p1 := registerProvider(t, e, a1, 800_000_000)
	registerProvider(t, e, a2, 400_000_000)
	checkStakeInvariant(t, e)

	if _, err := e.DefineSLA(ctx, a1, 99, 500, 95, 25); err != nil {
		t.Fatalf("DefineSLA: %v", err)
	}
	vAddr, _, err := e.ReportViolation(ctx, reporter, p1, AccuracyViolation, [32]byte{1}, "")
	if err != nil {
		t.Fatalf("ReportViolation: %v", err)
	}
	if _, err := e.Slash(ctx, reporter, vAddr); err != nil {
		t.Fatalf("Slash: %v", err)
	}
	checkStakeInvariant(t, e)

	if err := e.WithdrawStake(ctx, a1, 100_000_000); err != nil {
		t.Fatalf("WithdrawStake: %v", err)
	}
	checkStakeInvariant(t, e)

	proto, _ := e.GetProtocol()
	// 800M + 400M staked, minus 200M slashed (25% of 800M), minus 100M withdrawn.
	if proto.TotalStaked != 900_000_000 {
		t.Errorf("total_staked = %d, want 900000000", proto.TotalStaked)
	}
	if proto.TotalSlashed != 200_000_000 {
		t.Errorf("total_slashed = %d, want 200000000", proto.TotalSlashed)
	}
}

func TestMulDivFloor(t *testing.T) {
	cases := []struct {
		a, b, den, want uint64
	}{
		{999, 10, 100, 99},
		{1, 1, 100, 0},
		{500_000_000, 10, 100, 50_000_000},
		// Larger than 2^64/100: the 128-bit intermediate must not wrap.
		{1 << 62, 100, 100, 1 << 62},
		{18_446_744_073_709_551_615, 100, 100, 18_446_744_073_709_551_615},
	}
	for _, tc := range cases {
		if got := mulDivFloor(tc.a, tc.b, tc.den); got != tc.want {
			t.Errorf("mulDivFloor(%d, %d, %d) = %d, want %d", tc.a, tc.b, tc.den, got, tc.want)
		}
	}
}
