package core

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// discoveryKeyTag namespaces the HMAC used to derive a discovery key from a
// public key, so the derivation is keyed by purpose rather than hashing raw
// material directly.
var discoveryKeyTag = []byte("corelog/discovery-key")

// DiscoveryKey derives the rendezvous key peers hash their way to before
// they know anything else about a log: HMAC-SHA256 over the log's public
// key, keyed by a fixed application tag.
func DiscoveryKey(publicKey []byte) []byte {
	h := hmac.New(sha256.New, discoveryKeyTag)
	h.Write(publicKey)
	return h.Sum(nil)
}

// SignedRoot is the payload committed to by a Signer: the tree length and
// the hash of its mountain peaks at that length.
type SignedRoot struct {
	Length uint64 `cbor:"1,keyasint"`
	Hash   []byte `cbor:"2,keyasint"`
}

// Signer produces and checks COSE Sign1 signatures over SignedRoot values.
// A publicly keyed log needs a publicly verifiable signature rather than a
// shared-secret MAC.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner generates a fresh P-256 signing key.
func NewSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &Signer{key: key}, nil
}

// SignerFromPKCS8 reconstructs a Signer from a marshaled private key, as
// stored in a Header.
func SignerFromPKCS8(der []byte) (*Signer, error) {
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	ek, ok := k.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is not ECDSA")
	}
	return &Signer{key: ek}, nil
}

// MarshalPKCS8 serializes the private key for storage in a Header.
func (s *Signer) MarshalPKCS8() ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(s.key)
}

// PublicKey returns the marshaled public key identifying the log.
func (s *Signer) PublicKey() ([]byte, error) {
	return x509.MarshalPKIXPublicKey(&s.key.PublicKey)
}

// Sign produces a COSE Sign1 message over root, with the encoded root
// embedded as its payload.
func (s *Signer) Sign(root SignedRoot) ([]byte, error) {
	payload, err := cbor.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("marshal root: %w", err)
	}
	signer, err := cose.NewSigner(cose.AlgorithmES256, s.key)
	if err != nil {
		return nil, fmt.Errorf("build cose signer: %w", err)
	}
	msg := cose.Sign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: cose.AlgorithmES256,
			},
		},
		Payload: payload,
	}
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("sign root: %w", err)
	}
	return msg.MarshalCBOR()
}

// Verify checks a COSE Sign1 message against the given public key and
// returns the signed root decoded from its embedded payload.
func Verify(publicKeyDER, sig []byte) (SignedRoot, error) {
	pub, err := x509.ParsePKIXPublicKey(publicKeyDER)
	if err != nil {
		return SignedRoot{}, fmt.Errorf("parse public key: %w", err)
	}
	epub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return SignedRoot{}, fmt.Errorf("public key is not ECDSA")
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, epub)
	if err != nil {
		return SignedRoot{}, fmt.Errorf("build cose verifier: %w", err)
	}
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(sig); err != nil {
		return SignedRoot{}, fmt.Errorf("unmarshal signature: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return SignedRoot{}, ErrInvalidSignature
	}
	var root SignedRoot
	if err := cbor.Unmarshal(msg.Payload, &root); err != nil {
		return SignedRoot{}, fmt.Errorf("unmarshal root: %w", err)
	}
	return root, nil
}
