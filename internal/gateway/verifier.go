/**
 * @description
 * This file implements signature verification for inbound gateway webhooks.
 * Each gateway signs the exact raw bytes of the notification body; verifiers
 * therefore operate on the body as received, never on a re-serialized form.
 *
 * Key features:
 * - Security: constant-time HMAC comparison via hmac.Equal.
 * - Polymorphism: one Verifier implementation per gateway, selected by the
 *   webhook route.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha1, crypto/sha256, crypto/rsa, crypto/x509: signature schemes.
 * - encoding/base64, encoding/hex, encoding/pem: wire encodings of signatures and keys.
 */
package gateway

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Gateway namespaces. The pair (space, gateway transaction id) is globally unique.
const (
	SpaceCardgate = "cardgate"
	SpacePayflow  = "payflow"
	SpaceInstapix = "instapix"
)

// ErrInvalidSignature is returned when a notification fails verification.
// Callers must reject the request and apply no mutation.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Verifier checks that a raw notification body genuinely originated from the
// claimed gateway. Implementations are pure checks with no side effects.
type Verifier interface {
	Verify(body []byte, headers http.Header) error
}

// CardgateVerifier validates cardgate webhooks: HMAC-SHA256 over the raw
// body, hex-encoded in the X-Cardgate-Signature header, with an optional
// "sha256=" prefix.
type CardgateVerifier struct {
	secret []byte
}

func NewCardgateVerifier(secret string) *CardgateVerifier {
	return &CardgateVerifier{secret: []byte(secret)}
}

func (v *CardgateVerifier) Verify(body []byte, headers http.Header) error {
	header := strings.TrimSpace(headers.Get("X-Cardgate-Signature"))
	if header == "" {
		return fmt.Errorf("%w: missing X-Cardgate-Signature header", ErrInvalidSignature)
	}
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: cardgate secret not configured", ErrInvalidSignature)
	}

	candidate := header
	if strings.HasPrefix(strings.ToLower(candidate), "sha256=") {
		candidate = strings.TrimSpace(candidate[7:])
	}

	provided, err := hex.DecodeString(candidate)
	if err != nil {
		return fmt.Errorf("%w: signature is not valid hex", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// PayflowVerifier validates payflow webhooks. Payflow historically signed
// with HMAC-SHA1 base64 and newer deliveries use HMAC-SHA256 base64; both are
// accepted against the same shared secret.
type PayflowVerifier struct {
	secret []byte
}

func NewPayflowVerifier(secret string) *PayflowVerifier {
	return &PayflowVerifier{secret: []byte(secret)}
}

func (v *PayflowVerifier) Verify(body []byte, headers http.Header) error {
	header := strings.TrimSpace(headers.Get("X-Payflow-Signature"))
	if header == "" {
		return fmt.Errorf("%w: missing X-Payflow-Signature header", ErrInvalidSignature)
	}
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: payflow secret not configured", ErrInvalidSignature)
	}

	provided, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return fmt.Errorf("%w: signature is not valid base64", ErrInvalidSignature)
	}

	sha1Mac := hmac.New(sha1.New, v.secret)
	sha1Mac.Write(body)
	if hmac.Equal(provided, sha1Mac.Sum(nil)) {
		return nil
	}

	sha256Mac := hmac.New(sha256.New, v.secret)
	sha256Mac.Write(body)
	if hmac.Equal(provided, sha256Mac.Sum(nil)) {
		return nil
	}

	return ErrInvalidSignature
}

// InstapixVerifier validates instapix webhooks: RSA PKCS#1 v1.5 SHA-256
// signature over the raw body, base64-encoded in X-Instapix-Signature,
// verified against the network's published certificate public key.
type InstapixVerifier struct {
	publicKey *rsa.PublicKey
}

// NewInstapixVerifier parses a PEM-encoded RSA public key (PKIX "PUBLIC KEY"
// or PKCS#1 "RSA PUBLIC KEY" block).
func NewInstapixVerifier(publicKeyPEM string) (*InstapixVerifier, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("instapix public key: no PEM block found")
	}

	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("instapix public key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("instapix public key: not an RSA key")
		}
		return &InstapixVerifier{publicKey: rsaKey}, nil
	case "RSA PUBLIC KEY":
		rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("instapix public key: %w", err)
		}
		return &InstapixVerifier{publicKey: rsaKey}, nil
	default:
		return nil, fmt.Errorf("instapix public key: unsupported PEM block %q", block.Type)
	}
}

func (v *InstapixVerifier) Verify(body []byte, headers http.Header) error {
	header := strings.TrimSpace(headers.Get("X-Instapix-Signature"))
	if header == "" {
		return fmt.Errorf("%w: missing X-Instapix-Signature header", ErrInvalidSignature)
	}
	if v.publicKey == nil {
		return fmt.Errorf("%w: instapix public key not configured", ErrInvalidSignature)
	}

	signature, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return fmt.Errorf("%w: signature is not valid base64", ErrInvalidSignature)
	}

	digest := sha256.Sum256(body)
	if err := rsa.VerifyPKCS1v15(v.publicKey, crypto.SHA256, digest[:], signature); err != nil {
		return ErrInvalidSignature
	}
	return nil
}
