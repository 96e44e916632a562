package sign

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/avast/apkverifier"

	"apkrepack/internal/faults"
)

// Attestation summarizes a successful signature verification.
type Attestation struct {
	SchemeID  int
	Subject   string
	Issuer    string
	SHA256    string // hex fingerprint of the signing certificate
	NotBefore time.Time
	NotAfter  time.Time
}

// Verify checks the signatures on apkPath and returns the best available
// signing certificate. An unsigned or tampered archive is a signing failure.
func Verify(apkPath string) (*Attestation, error) {
	res, err := apkverifier.Verify(apkPath, nil)
	if err != nil {
		return nil, &faults.SigningFailed{Err: fmt.Errorf("verify %s: %w", apkPath, err)}
	}

	_, cert := apkverifier.PickBestApkCert(res.SignerCerts)
	if cert == nil {
		return nil, &faults.SigningFailed{Err: errors.New("no signer certificate found")}
	}

	sum := sha256.Sum256(cert.Raw)
	return &Attestation{
		SchemeID:  res.SigningSchemeId,
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		SHA256:    hex.EncodeToString(sum[:]),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
	}, nil
}
