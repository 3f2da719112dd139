package oracle

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/logger"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/xof/blake2xb"
)

// Beacon is an oracle whose randomness is a BLS signature over the committed
// seed. BLS signatures are unique per (key, message), so once the seed is
// fixed the value is fixed too, and nobody without the key can compute it.
type Beacon struct {
	suite  *pairing.SuiteBn256
	secret kyber.Scalar
	public kyber.Point

	mu      sync.Mutex
	pending map[string][]byte
	counter uint64
}

// NewBeacon creates a beacon with a key pair drawn from stream.
func NewBeacon(stream cipher.Stream) *Beacon {
	suite := pairing.NewSuiteBn256()
	secret, public := bls.NewKeyPair(suite, stream)
	return &Beacon{
		suite:   suite,
		secret:  secret,
		public:  public,
		pending: make(map[string][]byte),
	}
}

// NewBeaconFromSeed creates a beacon whose key pair is derived from seed.
// The same seed always yields the same key.
func NewBeaconFromSeed(seed []byte) *Beacon {
	sum := sha256.Sum256(seed)
	return NewBeacon(blake2xb.New(sum[:]))
}

// PublicKey returns the hex encoding of the beacon's BLS public key.
func (b *Beacon) PublicKey() string {
	buf, err := b.public.MarshalBinary()
	if err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

func (b *Beacon) commitmentFor(seed []byte) ([]byte, error) {
	pub, err := b.public.MarshalBinary()
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write(pub)
	h.Write(seed)
	return h.Sum(nil), nil
}

// Commit registers seed and returns a handle to reveal it with.
func (b *Beacon) Commit(ctx context.Context, seed []byte) (*Commitment, error) {
	if len(seed) == 0 {
		return nil, ErrEmptySeed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	commitment, err := b.commitmentFor(seed)
	if err != nil {
		return nil, fmt.Errorf("oracle: commitment: %w", err)
	}

	b.mu.Lock()
	b.counter++
	h := sha256.New()
	h.Write(commitment)
	h.Write(binary.BigEndian.AppendUint64(nil, b.counter))
	handle := hex.EncodeToString(h.Sum(nil)[:16])
	b.pending[handle] = append([]byte(nil), seed...)
	b.mu.Unlock()

	logger.Infof("oracle: committed seed %x as %s", seed, handle)
	return &Commitment{Handle: handle, Seed: seed, Commitment: commitment}, nil
}

// Reveal signs the committed seed. A handle can be revealed more than once
// and always yields the same value.
func (b *Beacon) Reveal(ctx context.Context, handle string) (*Reveal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	seed, ok := b.pending[handle]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}

	sig, err := bls.Sign(b.suite, b.secret, seed)
	if err != nil {
		return nil, fmt.Errorf("oracle: sign: %w", err)
	}
	randomness := sha256.Sum256(sig)
	return &Reveal{
		Handle:     handle,
		Randomness: randomness[:],
		Value:      binary.BigEndian.Uint64(randomness[:8]),
		Proof:      sig,
	}, nil
}

// Verify checks the BLS proof against the seed and the derived value.
func (b *Beacon) Verify(seed, commitment []byte, rev *Reveal) error {
	if rev == nil {
		return ErrVerifyFailed
	}
	want, err := b.commitmentFor(seed)
	if err != nil {
		return fmt.Errorf("oracle: commitment: %w", err)
	}
	if !bytes.Equal(want, commitment) {
		return fmt.Errorf("%w: commitment mismatch", ErrVerifyFailed)
	}
	if err := bls.Verify(b.suite, b.public, seed, rev.Proof); err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	randomness := sha256.Sum256(rev.Proof)
	if !bytes.Equal(randomness[:], rev.Randomness) || binary.BigEndian.Uint64(randomness[:8]) != rev.Value {
		return fmt.Errorf("%w: value does not derive from proof", ErrVerifyFailed)
	}
	return nil
}
