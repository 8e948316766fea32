// Package certificate builds, signs and verifies deletion certificates.
//
// The signed body is a fixed-order JSON encoding of every certificate field
// except the signature. Signatures are RSA-PSS over SHA-256 with the salt
// length equal to the hash length.
package certificate

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"dsrengine/internal/deletion/models"
)

// KeyBits is the size of generated signing keys.
const KeyBits = 2048

var (
	ErrInvalidSignature = errors.New("certificate signature is invalid")
	ErrUnknownKey       = errors.New("certificate signed by an unknown key")
	ErrMalformed        = errors.New("malformed certificate encoding")
)

var pssOptions = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}

// body is the signed portion of a certificate. Field order is the wire order.
type body struct {
	ID          string                   `json:"certificate_id"`
	DeletionID  string                   `json:"deletion_id"`
	RequestID   string                   `json:"request_id"`
	SubjectHash string                   `json:"subject_hash"`
	ItemCount   int                      `json:"item_count"`
	Method      string                   `json:"method"`
	Items       []models.CertificateItem `json:"items,omitempty"`
	ItemsDigest string                   `json:"items_digest,omitempty"`
	IssuedAt    string                   `json:"issued_at"`
	RetainUntil string                   `json:"retain_until"`
	KeyID       string                   `json:"key_id"`
}

// Body returns the canonical bytes that are signed.
func Body(c *models.Certificate) ([]byte, error) {
	return json.Marshal(body{
		ID:          c.ID.String(),
		DeletionID:  c.DeletionID.String(),
		RequestID:   c.RequestID.String(),
		SubjectHash: c.SubjectHash,
		ItemCount:   c.ItemCount,
		Method:      c.Method,
		Items:       c.Items,
		ItemsDigest: c.ItemsDigest,
		IssuedAt:    c.IssuedAt.UTC().Format(time.RFC3339Nano),
		RetainUntil: c.RetainUntil.UTC().Format(time.RFC3339Nano),
		KeyID:       c.KeyID,
	})
}

// Normalize truncates timestamps to what Postgres keeps so a stored
// certificate re-encodes to the bytes that were signed.
func Normalize(c *models.Certificate) {
	c.IssuedAt = c.IssuedAt.UTC().Truncate(time.Microsecond)
	c.RetainUntil = c.RetainUntil.UTC().Truncate(time.Microsecond)
}

// ItemsDigest is the hex SHA-256 over the sorted item proofs, one line each.
// Empty items are listed with an explicit marker in place of pass hashes.
func ItemsDigest(items []models.CertificateItem) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = it.Module + "/" + it.ItemID + ":" + proof(it)
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

const emptyProof = "empty"

func proof(it models.CertificateItem) string {
	if it.Empty {
		return emptyProof
	}
	return strings.Join(it.PassHashes[:], ":")
}

// Signer holds the engine's private signing key.
type Signer struct {
	keyID string
	key   *rsa.PrivateKey
}

func NewSigner(keyID string, key *rsa.PrivateKey) (*Signer, error) {
	if keyID == "" {
		return nil, errors.New("signing key ID is required")
	}
	if key == nil {
		return nil, errors.New("signing key is required")
	}
	if key.N.BitLen() < KeyBits {
		return nil, fmt.Errorf("signing key must be at least %d bits", KeyBits)
	}
	return &Signer{keyID: keyID, key: key}, nil
}

// GenerateSigner creates a signer with a fresh RSA-2048 key.
func GenerateSigner(keyID string) (*Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return NewSigner(keyID, key)
}

// LoadSigner reads a PEM encoded PKCS#1 or PKCS#8 RSA private key.
func LoadSigner(keyID, path string) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("signing key is not PEM encoded")
	}
	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			var ok bool
			if key, ok = parsed.(*rsa.PrivateKey); !ok {
				err = errors.New("signing key is not RSA")
			}
		}
	default:
		err = fmt.Errorf("unsupported PEM block %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return NewSigner(keyID, key)
}

func (s *Signer) KeyID() string { return s.keyID }

func (s *Signer) PublicKey() *rsa.PublicKey { return &s.key.PublicKey }

// Sign stamps the key ID and sets the signature over the certificate body.
func (s *Signer) Sign(c *models.Certificate) error {
	Normalize(c)
	c.KeyID = s.keyID
	b, err := Body(c)
	if err != nil {
		return fmt.Errorf("encode certificate: %w", err)
	}
	digest := sha256.Sum256(b)
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], pssOptions)
	if err != nil {
		return fmt.Errorf("sign certificate: %w", err)
	}
	c.Signature = sig
	return nil
}

// Verifier checks signatures against known public keys by key ID.
type Verifier struct {
	keys map[string]*rsa.PublicKey
}

func NewVerifier() *Verifier {
	return &Verifier{keys: make(map[string]*rsa.PublicKey)}
}

// Trust adds a public key. Rotated keys stay trusted so old certificates
// still verify.
func (v *Verifier) Trust(keyID string, pub *rsa.PublicKey) {
	v.keys[keyID] = pub
}

// Verify re-encodes the certificate body and checks the signature.
func (v *Verifier) Verify(c *models.Certificate) error {
	pub, ok := v.keys[c.KeyID]
	if !ok {
		return ErrUnknownKey
	}
	b, err := Body(c)
	if err != nil {
		return fmt.Errorf("encode certificate: %w", err)
	}
	return verify(pub, b, c.Signature)
}

// VerifyBinary checks a certificate in the MarshalBinary encoding.
func (v *Verifier) VerifyBinary(data []byte) error {
	b, sig, err := split(data)
	if err != nil {
		return err
	}
	var decoded body
	if err := json.Unmarshal(b, &decoded); err != nil {
		return ErrMalformed
	}
	pub, ok := v.keys[decoded.KeyID]
	if !ok {
		return ErrUnknownKey
	}
	return verify(pub, b, sig)
}

func verify(pub *rsa.PublicKey, b, sig []byte) error {
	digest := sha256.Sum256(b)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, pssOptions); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

// MarshalBinary encodes a certificate as a 4-byte big-endian body length,
// the body, then the signature.
func MarshalBinary(c *models.Certificate) ([]byte, error) {
	b, err := Body(c)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4, 4+len(b)+len(c.Signature))
	binary.BigEndian.PutUint32(out, uint32(len(b)))
	out = append(out, b...)
	return append(out, c.Signature...), nil
}

func split(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, ErrMalformed
	}
	n := binary.BigEndian.Uint32(data)
	if uint64(n) > uint64(len(data)-4) {
		return nil, nil, ErrMalformed
	}
	return data[4 : 4+n], data[4+n:], nil
}
