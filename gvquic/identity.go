package gvquic

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/grapevine-net/grapevine/gvpeer"
)

// Identity is a node's cryptographic identity:
// an Ed25519 keypair and the self-signed certificate
// presented during the TLS handshake.
//
// Identities are ephemeral.
// A node gets a fresh ID every time it starts,
// which is fine for a network whose membership
// is rediscovered continuously anyway.
type Identity struct {
	id gvpeer.ID

	tlsCert tls.Certificate
}

// NewIdentity generates a fresh Ed25519 identity.
func NewIdentity() (*Identity, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: randomSerial(),

		Subject: pkix.Name{CommonName: "grapevine"},

		NotBefore: time.Now().Add(-15 * time.Second),
		// The certificate is never chain-verified,
		// only used as a carrier for the public key,
		// so the expiry just needs to outlive any process.
		NotAfter: time.Now().Add(365 * 24 * time.Hour),

		KeyUsage: x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},

		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(nil, template, template, pubKey, privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate from DER: %w", err)
	}

	return &Identity{
		id: PeerIDFromPublicKey(pubKey),

		tlsCert: tls.Certificate{
			Certificate: [][]byte{cert.Raw},
			PrivateKey:  privKey,
			Leaf:        cert,
		},
	}, nil
}

// ID returns the peer ID derived from the identity's public key.
func (i *Identity) ID() gvpeer.ID {
	return i.id
}

// PeerIDFromPublicKey derives the peer ID for an Ed25519 public key:
// the lowercase hex encoding of the key's SHA-256 digest.
func PeerIDFromPublicKey(pub ed25519.PublicKey) gvpeer.ID {
	sum := sha256.Sum256(pub)
	return gvpeer.ID(hex.EncodeToString(sum[:]))
}

// PeerIDFromCert derives the peer ID from a presented certificate.
// Certificates over anything but Ed25519 are rejected.
func PeerIDFromCert(cert *x509.Certificate) (gvpeer.ID, error) {
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return "", UnsupportedKeyError{Key: cert.PublicKey}
	}

	return PeerIDFromPublicKey(pub), nil
}

func randomSerial() *big.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	num, err := crand.Int(crand.Reader, limit)
	if err != nil {
		panic(fmt.Errorf("failed to create random serial: %w", err))
	}

	return num
}
