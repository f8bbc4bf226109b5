package tsa

import (
	"bytes"
	"context"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"os/exec"

	"github.com/inkform/trustcore/internal/shared/errors"
)

// defaultContainerImage runs the TSQ encoding when no local openssl binary
// is wanted on the host.
const defaultContainerImage = "alpine/openssl"

// OpenSSLTSQEncoder delegates TimeStampReq construction to the openssl CLI:
//
//	openssl ts -query -sha256 -digest <hex> [-cert] [-policy OID] -out -
//
// optionally inside a container. The contract is only the produced DER
// bytes; the native encoder is the default.
type OpenSSLTSQEncoder struct {
	PolicyOID    string
	CertReq      bool
	UseContainer bool

	// Binary overrides "openssl"; Image overrides the container image.
	Binary string
	Image  string
}

func (e *OpenSSLTSQEncoder) Encode(ctx context.Context, digest []byte) ([]byte, error) {
	args := []string{"ts", "-query", "-sha256", "-digest", hex.EncodeToString(digest)}
	if e.CertReq {
		args = append(args, "-cert")
	}
	if e.PolicyOID != "" {
		args = append(args, "-policy", e.PolicyOID)
	}
	args = append(args, "-out", "-")

	binary := e.Binary
	if binary == "" {
		binary = "openssl"
	}

	var cmd *exec.Cmd
	if e.UseContainer {
		image := e.Image
		if image == "" {
			image = defaultContainerImage
		}
		cmd = exec.CommandContext(ctx, "docker", append([]string{"run", "--rm", image, binary}, args...)...)
	} else {
		cmd = exec.CommandContext(ctx, binary, args...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.TsaTimeout(ctxErr)
		}
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			return nil, errors.TsaRejected(fmt.Sprintf(
				"tsq encoder exited with %d: %s", exitErr.ExitCode(), stderr.String()))
		}
		return nil, errors.TsaUnavailable(err)
	}

	der := stdout.Bytes()
	if len(der) == 0 {
		return nil, errors.TsaRejected("tsq encoder produced no output")
	}
	return der, nil
}
