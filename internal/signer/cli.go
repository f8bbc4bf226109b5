package signer

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/inkform/trustcore/internal/shared/config"
	"github.com/inkform/trustcore/internal/shared/errors"
	"github.com/inkform/trustcore/internal/shared/logger"
)

const stderrCap = 8 << 10

// CLISigner shells out to a cosign-style signing tool:
//
//	<tool> sign-blob --yes --bundle <bundle.json> --output-certificate <cert.pem> \
//	    [--rekor-url ...] [--fulcio-url ...] [--key ...] [--identity-token ...] <blob>
//
// stdout carries the signature; the bundle JSON and certificate PEM are read
// back from the temp directory. All temp files live only for the duration of
// the call, are owner-only, and are removed on every exit path.
type CLISigner struct {
	cfg config.SignerConfig

	// tempDir overrides the temp parent, for tests
	tempDir string
}

func NewCLISigner(cfg config.SignerConfig) *CLISigner {
	return &CLISigner{cfg: cfg}
}

func (s *CLISigner) Provider() string {
	return ProviderExternalCLI
}

func (s *CLISigner) Sign(ctx context.Context, payload []byte) (*Bundle, error) {
	dir, err := os.MkdirTemp(s.tempDir, "trustcore-sign-")
	if err != nil {
		return nil, errors.SignerUnavailable(fmt.Errorf("create temp dir: %w", err))
	}
	defer os.RemoveAll(dir)

	blobPath := filepath.Join(dir, "payload.bin")
	bundlePath := filepath.Join(dir, "bundle.json")
	certPath := filepath.Join(dir, "cert.pem")

	if err := os.WriteFile(blobPath, payload, 0o600); err != nil {
		return nil, errors.SignerUnavailable(fmt.Errorf("write payload: %w", err))
	}

	args := []string{
		"sign-blob", "--yes",
		"--bundle", bundlePath,
		"--output-certificate", certPath,
	}
	env := os.Environ()
	keyID := ""

	switch s.cfg.Mode {
	case "keyless":
		// Some tool versions gate keyless behind an opt-in flag.
		env = append(env, "COSIGN_EXPERIMENTAL=1")
		if s.cfg.IdentityToken != "" {
			args = append(args, "--identity-token", s.cfg.IdentityToken)
		}
	case "key":
		args = append(args, "--key", s.cfg.KeyPath)
		keyID = s.cfg.KeyPath
		if s.cfg.KeyPassword != "" {
			env = append(env, "COSIGN_PASSWORD="+s.cfg.KeyPassword)
		}
	case "kms":
		args = append(args, "--key", s.cfg.KMSURI)
		keyID = s.cfg.KMSURI
	}

	if s.cfg.RekorURL != "" {
		args = append(args, "--rekor-url", s.cfg.RekorURL)
	}
	if s.cfg.FulcioURL != "" {
		args = append(args, "--fulcio-url", s.cfg.FulcioURL)
	}
	args = append(args, blobPath)

	var stdout bytes.Buffer
	var stderr cappedBuffer
	cmd := exec.CommandContext(ctx, s.cfg.CLIPath, args...)
	cmd.Env = env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Without a wait delay, Run blocks past the kill for as long as any
	// surviving child of the tool holds the stdout/stderr pipes.
	cmd.WaitDelay = time.Second
	killGroupOnCancel(cmd)

	if runErr := cmd.Run(); runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.SignerTimeout(ctxErr)
		}
		var exitErr *exec.ExitError
		if stderrors.As(runErr, &exitErr) {
			return nil, errors.SignerRejected(fmt.Sprintf(
				"signing tool exited with %d: %s", exitErr.ExitCode(), stderr.String()))
		}
		// Binary missing or not executable.
		return nil, errors.SignerUnavailable(runErr)
	}

	signature := strings.TrimSpace(stdout.String())
	if signature == "" {
		return nil, errors.SignerRejected("signing tool produced no signature on stdout")
	}

	bundle := &Bundle{
		Provider:      ProviderExternalCLI,
		Algorithm:     AlgorithmECDSAP256SHA256,
		SignatureBlob: signature,
		KeyID:         keyID,
	}

	if raw, err := os.ReadFile(bundlePath); err == nil {
		bundle.BundleJSON = string(raw)
	} else {
		// Signature without a bundle is accepted; the caller records an
		// empty TSA token and the gap stays visible in the logs.
		logger.Warn(ctx, "signing tool returned a signature but no bundle file")
	}

	if raw, err := os.ReadFile(certPath); err == nil && len(bytes.TrimSpace(raw)) > 0 {
		pemStr := string(raw)
		bundle.CertChain = []CertEntry{{PEM: &pemStr, Algorithm: bundle.Algorithm}}
	}

	return bundle, nil
}

// cappedBuffer keeps at most stderrCap bytes of tool stderr.
type cappedBuffer struct {
	buf bytes.Buffer
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if remaining := stderrCap - c.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			c.buf.Write(p[:remaining])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return strings.TrimSpace(c.buf.String())
}
