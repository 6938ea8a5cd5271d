// Package vault encrypts push subscription credentials at rest.
//
// Ciphertext format: "<version>:<base64url(nonce || sealed)>". The version
// names the key that sealed the value, so values written under an older key
// stay readable after the current key changes.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	keySize  = chacha20poly1305.KeySize
	tailSize = 16
	kdfInfo  = "alumnihub push subscription "
)

var (
	ErrMalformed         = errors.New("malformed ciphertext")
	ErrUnknownKeyVersion = errors.New("unknown key version")
	ErrDecrypt           = errors.New("decrypt failed")
)

// Keyring holds one AEAD per key version and seals new values with the
// current version.
type Keyring struct {
	current string
	aeads   map[string]cipher.AEAD
}

// ParseSecrets parses "v1:secret,v2:secret" into a version -> secret map.
func ParseSecrets(s string) (map[string][]byte, error) {
	secrets := make(map[string][]byte)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		version, secret, ok := strings.Cut(part, ":")
		version = strings.TrimSpace(version)
		if !ok || version == "" || secret == "" {
			return nil, fmt.Errorf("invalid key entry %q, expected version:secret", part)
		}
		if _, dup := secrets[version]; dup {
			return nil, fmt.Errorf("duplicate key version %q", version)
		}
		secrets[version] = []byte(secret)
	}
	if len(secrets) == 0 {
		return nil, errors.New("no keys configured")
	}
	return secrets, nil
}

// NewKeyring derives a 256-bit key per version with HKDF-SHA256 and
// builds an XChaCha20-Poly1305 AEAD for each.
func NewKeyring(secrets map[string][]byte, current string) (*Keyring, error) {
	if _, ok := secrets[current]; !ok {
		return nil, fmt.Errorf("%w: current version %q", ErrUnknownKeyVersion, current)
	}

	aeads := make(map[string]cipher.AEAD, len(secrets))
	for version, secret := range secrets {
		if strings.Contains(version, ":") {
			return nil, fmt.Errorf("key version %q must not contain ':'", version)
		}
		key, err := deriveKey(secret, version)
		if err != nil {
			return nil, err
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("create aead for %q: %w", version, err)
		}
		aeads[version] = aead
	}

	return &Keyring{current: current, aeads: aeads}, nil
}

func deriveKey(secret []byte, version string) ([]byte, error) {
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(kdfInfo+version))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key %q: %w", version, err)
	}
	return key, nil
}

// CurrentVersion returns the version used for new ciphertext.
func (k *Keyring) CurrentVersion() string {
	return k.current
}

// Versions returns all known key versions, sorted.
func (k *Keyring) Versions() []string {
	out := make([]string, 0, len(k.aeads))
	for v := range k.aeads {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Encrypt seals plaintext with the current key. Output is non-deterministic.
func (k *Keyring) Encrypt(plaintext string) (string, error) {
	return k.seal(k.current, plaintext)
}

func (k *Keyring) seal(version, plaintext string) (string, error) {
	aead := k.aeads[version]

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(version))
	return version + ":" + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt under any known key version.
func (k *Keyring) Decrypt(ciphertext string) (string, error) {
	version, encoded, ok := strings.Cut(ciphertext, ":")
	if !ok || version == "" {
		return "", ErrMalformed
	}
	aead, ok := k.aeads[version]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKeyVersion, version)
	}

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrMalformed)
	}

	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, []byte(version))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}

// Reencrypt re-seals ciphertext under the current key. It reports false
// without touching the value when it is already current.
func (k *Keyring) Reencrypt(ciphertext string) (string, bool, error) {
	if version, _, _ := strings.Cut(ciphertext, ":"); version == k.current {
		return ciphertext, false, nil
	}
	plaintext, err := k.Decrypt(ciphertext)
	if err != nil {
		return "", false, err
	}
	out, err := k.Encrypt(plaintext)
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

// HashEndpoint returns the lookup hash for a plaintext endpoint.
func HashEndpoint(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:])
}

// Tail returns the last 16 characters of s for audit logs.
func Tail(s string) string {
	r := []rune(s)
	if len(r) <= tailSize {
		return s
	}
	return string(r[len(r)-tailSize:])
}
