package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Sentinel is prepended to plaintext before encryption. A decryption is only
// trusted when the recovered text still starts with it.
const Sentinel = "ENCRYPTED:"

// appSalt stretches the configured secret. It is fixed so every process on
// every device derives the same key from the same secret.
var appSalt = sha256.Sum256([]byte("plate clipboard history v1"))

// Codec encrypts and decrypts textual clipboard content with a single
// configuration-supplied secret.
type Codec struct {
	key []byte
}

// NewCodec derives the codec key from secret.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("encryption secret is empty")
	}
	key, err := DeriveKeyFromPassphraseWithSalt(secret, appSalt[:])
	if err != nil {
		return nil, fmt.Errorf("derive codec key: %w", err)
	}
	return &Codec{key: key}, nil
}

// Encrypt returns the envelope for plaintext: base64(nonce || GCM(Sentinel + plaintext)).
func (c *Codec) Encrypt(plaintext string) (string, error) {
	ct, err := Encrypt(c.key, []byte(Sentinel+plaintext))
	if err != nil {
		return "", fmt.Errorf("encrypt content: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt recovers the plaintext of an envelope. Input that is not an
// envelope produced with this key (legacy plaintext, malformed data, or
// content from another secret) is returned unchanged.
func (c *Codec) Decrypt(envelope string) string {
	plaintext, ok := c.open(envelope)
	if !ok {
		return envelope
	}
	return plaintext
}

// IsEnvelope reports whether s decrypts to sentinel-tagged content.
func (c *Codec) IsEnvelope(s string) bool {
	_, ok := c.open(s)
	return ok
}

func (c *Codec) open(envelope string) (string, bool) {
	if envelope == "" {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", false
	}
	pt, err := Decrypt(c.key, raw)
	if err != nil {
		slog.Debug("codec: not an envelope", "len", len(envelope), "err", err)
		return "", false
	}
	text := string(pt)
	if !strings.HasPrefix(text, Sentinel) {
		return "", false
	}
	return strings.TrimPrefix(text, Sentinel), true
}
