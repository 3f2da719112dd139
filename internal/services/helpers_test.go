package services

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/stretchr/testify/require"

	"charitylottery/internal/identity"
	"charitylottery/internal/ledger"
	"charitylottery/internal/oracle"
)

const (
	testProgram = "charity-lottery-test"
	// One token in base units.
	token = uint64(1_000_000_000)
	day   = uint64(86_400)
	t0    = uint64(1_700_000_000)
)

// stubOracle hands out preset values, one per commit in order.
type stubOracle struct {
	mu        sync.Mutex
	values    []uint64
	seeds     map[string][]byte
	order     map[string]int
	commits   int
	verifyErr error
}

func newStubOracle(values ...uint64) *stubOracle {
	return &stubOracle{values: values, seeds: map[string][]byte{}, order: map[string]int{}}
}

func (o *stubOracle) Commit(_ context.Context, seed []byte) (*oracle.Commitment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	handle := fmt.Sprintf("req-%d", o.commits)
	o.seeds[handle] = seed
	o.order[handle] = o.commits
	o.commits++
	sum := sha256.Sum256(seed)
	return &oracle.Commitment{Handle: handle, Seed: seed, Commitment: sum[:]}, nil
}

func (o *stubOracle) Reveal(_ context.Context, handle string) (*oracle.Reveal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, ok := o.order[handle]
	if !ok {
		return nil, oracle.ErrUnknownHandle
	}
	v := o.values[len(o.values)-1]
	if n < len(o.values) {
		v = o.values[n]
	}
	return &oracle.Reveal{Handle: handle, Value: v, Proof: []byte("proof")}, nil
}

func (o *stubOracle) Verify(_, _ []byte, _ *oracle.Reveal) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.verifyErr
}

type fixture struct {
	svc   *LotteryService
	store *ledger.Store
	admin string
}

func newIdentity(t *testing.T) string {
	t.Helper()
	priv, err := ec.NewPrivateKey()
	require.NoError(t, err)
	return identity.Of(priv)
}

func newFixture(t *testing.T, orc oracle.Oracle) *fixture {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	admin := newIdentity(t)
	svc := NewLotteryService(store, orc, Params{
		ProgramID:             testProgram,
		Admin:                 admin,
		MinRevealDelay:        1,
		RevealWindow:          150,
		MaxTicketsPerPurchase: 100,
	})
	return &fixture{svc: svc, store: store, admin: admin}
}

// funded returns a new identity holding amount.
func (f *fixture) funded(t *testing.T, amount uint64) string {
	t.Helper()
	id := newIdentity(t)
	require.NoError(t, f.svc.Deposit(f.admin, id, amount))
	return id
}

// charity registers a charity and returns its ID and treasury.
func (f *fixture) charity(t *testing.T, name string) (uint64, string) {
	t.Helper()
	treasury := newIdentity(t)
	c, err := f.svc.RegisterCharity(f.admin, name, name+" description", treasury)
	require.NoError(t, err)
	return c.ID, treasury
}

func (f *fixture) openRound(t *testing.T, price, start, end uint64) {
	t.Helper()
	_, err := f.svc.InitializeRound(f.admin, price, start, end)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, id string) uint64 {
	t.Helper()
	bal, err := f.svc.Balance(id)
	require.NoError(t, err)
	return bal
}
