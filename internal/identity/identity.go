// Package identity handles participant identities: hex-encoded compressed
// secp256k1 public keys, and the request signatures made with them.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

var (
	ErrInvalidIdentity  = errors.New("identity: invalid public key")
	ErrInvalidSignature = errors.New("identity: invalid signature")
)

// Parse validates s as a public key and returns its canonical compressed hex form.
func Parse(s string) (string, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	pub, err := ec.PublicKeyFromBytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return hex.EncodeToString(pub.Compressed()), nil
}

// Of returns the identity string of a private key.
func Of(priv *ec.PrivateKey) string {
	return hex.EncodeToString(priv.PubKey().Compressed())
}

// Request is what a request signature covers. Nonce is chosen by the caller
// and may be used once; Timestamp is the Unix second the request was signed.
type Request struct {
	Method    string
	Path      string
	Nonce     string
	Timestamp int64
	Body      []byte
}

// Digest is the message hash a request signature covers:
// "METHOD PATH\nNONCE\nTIMESTAMP\nBODY".
func (r Request) Digest() []byte {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte(" "))
	h.Write([]byte(r.Path))
	h.Write([]byte("\n"))
	h.Write([]byte(r.Nonce))
	h.Write([]byte("\n"))
	h.Write([]byte(strconv.FormatInt(r.Timestamp, 10)))
	h.Write([]byte("\n"))
	h.Write(r.Body)
	return h.Sum(nil)
}

// Sign signs a request and returns the hex DER signature.
func Sign(priv *ec.PrivateKey, req Request) (string, error) {
	sig, err := priv.Sign(req.Digest())
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify checks a hex DER signature by id over the request.
func Verify(id, sigHex string, req Request) error {
	pubBytes, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	pub, err := ec.PublicKeyFromBytes(pubBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	raw, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	sig, err := ec.ParseDERSignature(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !sig.Verify(req.Digest(), pub) {
		return ErrInvalidSignature
	}
	return nil
}
