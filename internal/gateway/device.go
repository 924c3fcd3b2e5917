package gateway

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Device is the locally held identity used to sign handshake nonces. It is
// generated once and persisted; a missing or corrupted file causes a fresh
// identity to be generated in its place.
type Device struct {
	ID        string
	PublicKey ed25519.PublicKey

	priv ed25519.PrivateKey
}

type deviceFile struct {
	ID         string `json:"id"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// LoadOrCreateDevice reads the device identity at path, creating (or
// replacing) it when absent or unreadable.
func LoadOrCreateDevice(path string) (*Device, error) {
	if d, err := readDevice(path); err == nil {
		return d, nil
	}
	return createDevice(path)
}

func readDevice(path string) (*Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var df deviceFile
	if err := json.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("parse device file: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(df.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	priv, err := base64.StdEncoding.DecodeString(df.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if df.ID == "" || len(pub) != ed25519.PublicKeySize || len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("device file is corrupted")
	}
	return &Device{ID: df.ID, PublicKey: pub, priv: priv}, nil
}

func createDevice(path string) (*Device, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}
	d := &Device{ID: uuid.NewString(), PublicKey: pub, priv: priv}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create device dir: %w", err)
	}
	data, err := json.MarshalIndent(deviceFile{
		ID:         d.ID,
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal device file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write device file: %w", err)
	}
	return d, nil
}

// Sign produces the base64 signature over "<nonce>.<signedAt unix ms>".
func (d *Device) Sign(nonce string, signedAt time.Time) string {
	msg := fmt.Sprintf("%s.%d", nonce, signedAt.UnixMilli())
	return base64.StdEncoding.EncodeToString(ed25519.Sign(d.priv, []byte(msg)))
}

// Verify checks a signature produced by Sign. Used by tests and by any
// in-process gateway stub.
func Verify(pub ed25519.PublicKey, nonce string, signedAt time.Time, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	msg := fmt.Sprintf("%s.%d", nonce, signedAt.UnixMilli())
	return ed25519.Verify(pub, []byte(msg), sig)
}

// Info builds the handshake device block for a challenge nonce.
func (d *Device) Info(nonce string) *DeviceInfo {
	now := time.Now().UTC()
	return &DeviceInfo{
		ID:        d.ID,
		PublicKey: base64.StdEncoding.EncodeToString(d.PublicKey),
		Signature: d.Sign(nonce, now),
		SignedAt:  now.UnixMilli(),
		Nonce:     nonce,
	}
}
