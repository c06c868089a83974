package camconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/camlink/bc-go/internal/crypto"
	"github.com/camlink/bc-go/internal/discovery"
	"github.com/camlink/bc-go/internal/session"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cameras.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadParsesEntriesAndDefaults(t *testing.T) {
	path := writeTempConfig(t, `
cameras:
  - name: driveway
    address: 192.168.1.20:9000
    username: admin
    password: hunter2
    max_encryption: bcencrypt
    print_format: human
  - name: garage
    uid: CAM0123ABCD
    discovery_method: local
    username: admin
`)

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Cameras) != 2 {
		t.Fatalf("got %d cameras want 2", len(f.Cameras))
	}

	driveway := f.Cameras[0]
	if driveway.MaxEncryptionMode() != crypto.ModeBCEncrypt {
		t.Fatalf("got mode %v want bcencrypt", driveway.MaxEncryptionMode())
	}
	if driveway.PrintFormatValue() != session.PrintFormatHuman {
		t.Fatalf("got print format %v want human", driveway.PrintFormatValue())
	}

	garage := f.Cameras[1]
	if garage.MaxEncryptionMode() != crypto.ModeAES {
		t.Fatalf("unset max_encryption should default to strictest (aes), got %v", garage.MaxEncryptionMode())
	}
	if garage.AllowedMask() != discovery.MaskLocal {
		t.Fatalf("got mask %v want MaskLocal", garage.AllowedMask())
	}
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
