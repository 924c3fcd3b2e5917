package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDevicePersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "device.json")

	first, err := LoadOrCreateDevice(path)
	if err != nil {
		t.Fatalf("LoadOrCreateDevice: %v", err)
	}
	if first.ID == "" {
		t.Fatal("device has no id")
	}

	second, err := LoadOrCreateDevice(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("reload changed id: %s != %s", second.ID, first.ID)
	}
	if !second.PublicKey.Equal(first.PublicKey) {
		t.Fatal("reload changed public key")
	}
}

func TestDeviceSignatureVerifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")
	dev, err := LoadOrCreateDevice(path)
	if err != nil {
		t.Fatalf("LoadOrCreateDevice: %v", err)
	}

	info := dev.Info("nonce-abc")
	if info.Nonce != "nonce-abc" || info.Signature == "" {
		t.Fatalf("info = %+v", info)
	}
	signedAt := time.UnixMilli(info.SignedAt)
	if !Verify(dev.PublicKey, info.Nonce, signedAt, info.Signature) {
		t.Fatal("signature did not verify")
	}
	if Verify(dev.PublicKey, "other-nonce", signedAt, info.Signature) {
		t.Fatal("signature verified against the wrong nonce")
	}
}

func TestDeviceCorruptFileRegenerated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")
	first, err := LoadOrCreateDevice(path)
	if err != nil {
		t.Fatalf("LoadOrCreateDevice: %v", err)
	}

	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}
	second, err := LoadOrCreateDevice(path)
	if err != nil {
		t.Fatalf("reload after corruption: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("corrupted identity was not regenerated")
	}
}
