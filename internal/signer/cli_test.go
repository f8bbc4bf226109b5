package signer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/inkform/trustcore/internal/shared/config"
	"github.com/inkform/trustcore/internal/shared/errors"
)

// writeStubTool writes a shell script standing in for the signing CLI and
// returns its path.
func writeStubTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub tool requires a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "stub-signer")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o700); err != nil {
		t.Fatalf("write stub tool: %v", err)
	}
	return path
}

// stubArgsPrelude extracts the --bundle, --output-certificate, and blob
// arguments the same way the real tool would see them.
const stubArgsPrelude = `
bundle=""
cert=""
blob=""
while [ $# -gt 0 ]; do
  case "$1" in
    --bundle) bundle="$2"; shift 2 ;;
    --output-certificate) cert="$2"; shift 2 ;;
    --yes) shift ;;
    --*) if [ $# -gt 1 ]; then shift 2; else shift; fi ;;
    sign-blob) shift ;;
    *) blob="$1"; shift ;;
  esac
done
`

// TestCLISignerSuccess tests the full happy path: signature on stdout plus
// bundle and certificate files
func TestCLISignerSuccess(t *testing.T) {
	tool := writeStubTool(t, stubArgsPrelude+`
[ -f "$blob" ] || exit 9
echo '{"rekorEntry":"stub"}' > "$bundle"
printf -- '-----BEGIN CERTIFICATE-----\nc3R1Yg==\n-----END CERTIFICATE-----\n' > "$cert"
printf 'bWVzc2FnZS1zaWduYXR1cmU='
`)

	s := NewCLISigner(config.SignerConfig{
		Provider: ProviderExternalCLI,
		CLIPath:  tool,
		Mode:     "keyless",
	})

	bundle, err := s.Sign(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if bundle.Provider != ProviderExternalCLI {
		t.Errorf("Expected provider %s, got %s", ProviderExternalCLI, bundle.Provider)
	}
	if bundle.SignatureBlob != "bWVzc2FnZS1zaWduYXR1cmU=" {
		t.Errorf("Unexpected signature: %q", bundle.SignatureBlob)
	}
	if !strings.Contains(bundle.BundleJSON, "rekorEntry") {
		t.Errorf("Expected bundle JSON, got %q", bundle.BundleJSON)
	}
	if len(bundle.CertChain) != 1 || bundle.CertChain[0].PEM == nil {
		t.Fatal("Expected certificate in cert chain")
	}
	if !strings.Contains(*bundle.CertChain[0].PEM, "BEGIN CERTIFICATE") {
		t.Errorf("Unexpected certificate: %q", *bundle.CertChain[0].PEM)
	}
}

// TestCLISignerKeyModePassesKeyID tests that mode=key records the key path
// as the key ID
func TestCLISignerKeyModePassesKeyID(t *testing.T) {
	tool := writeStubTool(t, stubArgsPrelude+`
printf 'c2ln'
`)

	s := NewCLISigner(config.SignerConfig{
		Provider: ProviderExternalCLI,
		CLIPath:  tool,
		Mode:     "key",
		KeyPath:  "/etc/trustcore/signer.key",
	})

	bundle, err := s.Sign(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if bundle.KeyID != "/etc/trustcore/signer.key" {
		t.Errorf("Expected key path as key ID, got %q", bundle.KeyID)
	}
}

// TestCLISignerNonZeroExit tests that a failing tool maps to a rejection
// carrying the tool's stderr
func TestCLISignerNonZeroExit(t *testing.T) {
	tool := writeStubTool(t, `
echo "token has expired" >&2
exit 3
`)

	s := NewCLISigner(config.SignerConfig{CLIPath: tool, Mode: "keyless"})

	_, err := s.Sign(context.Background(), []byte("payload"))
	if err == nil {
		t.Fatal("Expected error for failing tool")
	}
	if !errors.Is(err, errors.ErrSignerRejected) {
		t.Errorf("Expected ErrSignerRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "token has expired") {
		t.Errorf("Expected stderr in error, got %v", err)
	}
}

// TestCLISignerEmptyStdout tests that a clean exit without a signature is a
// rejection
func TestCLISignerEmptyStdout(t *testing.T) {
	tool := writeStubTool(t, `exit 0`)

	s := NewCLISigner(config.SignerConfig{CLIPath: tool, Mode: "keyless"})

	_, err := s.Sign(context.Background(), []byte("payload"))
	if !errors.Is(err, errors.ErrSignerRejected) {
		t.Errorf("Expected ErrSignerRejected, got %v", err)
	}
}

// TestCLISignerMissingBundle tests that a signature without a bundle file is
// accepted with an empty bundle
func TestCLISignerMissingBundle(t *testing.T) {
	tool := writeStubTool(t, `printf 'c2ln'`)

	s := NewCLISigner(config.SignerConfig{CLIPath: tool, Mode: "keyless"})

	bundle, err := s.Sign(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if bundle.BundleJSON != "" {
		t.Errorf("Expected empty bundle JSON, got %q", bundle.BundleJSON)
	}
}

// TestCLISignerMissingBinary tests that an absent tool maps to unavailable
func TestCLISignerMissingBinary(t *testing.T) {
	s := NewCLISigner(config.SignerConfig{
		CLIPath: filepath.Join(t.TempDir(), "no-such-tool"),
		Mode:    "keyless",
	})

	_, err := s.Sign(context.Background(), []byte("payload"))
	if !errors.Is(err, errors.ErrSignerUnavailable) {
		t.Errorf("Expected ErrSignerUnavailable, got %v", err)
	}
}

// TestCLISignerTimeout tests that a hanging tool is killed at the deadline
// even when a child it spawned keeps the output pipes open
func TestCLISignerTimeout(t *testing.T) {
	tool := writeStubTool(t, `sleep 30 &
sleep 30`)

	s := NewCLISigner(config.SignerConfig{CLIPath: tool, Mode: "keyless"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Sign(ctx, []byte("payload"))
	if !errors.Is(err, errors.ErrSignerTimeout) {
		t.Errorf("Expected ErrSignerTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Tool was not killed at the deadline, Sign took %v", elapsed)
	}
}

// TestCLISignerTempHygiene tests that no payload or key material survives a
// signing call, successful or not
func TestCLISignerTempHygiene(t *testing.T) {
	parent := t.TempDir()

	tool := writeStubTool(t, `printf 'c2ln'`)
	ok := NewCLISigner(config.SignerConfig{CLIPath: tool, Mode: "keyless"})
	ok.tempDir = parent
	if _, err := ok.Sign(context.Background(), []byte("secret payload")); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	failing := writeStubTool(t, `exit 1`)
	bad := NewCLISigner(config.SignerConfig{CLIPath: failing, Mode: "keyless"})
	bad.tempDir = parent
	if _, err := bad.Sign(context.Background(), []byte("secret payload")); err == nil {
		t.Fatal("Expected error from failing tool")
	}

	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty temp parent, found %d entries", len(entries))
	}
}
