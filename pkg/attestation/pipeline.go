// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package attestation

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ewsafe/core/pkg/device"
	"github.com/ewsafe/core/pkg/pattern"
	"github.com/ewsafe/core/pkg/wipe"
)

// Signer is the subset of a Key Store the pipeline needs to issue and
// verify certificates, kept narrow so tests can supply a fake.
type Signer interface {
	PrivateKey() *rsa.PrivateKey
	PublicKey() *rsa.PublicKey
	Fingerprint() (string, error)
	KeySize() int
}

// Pipeline turns a terminal wipe.Log into a signed Certificate; the
// package-level Verify checks a certificate against a public key. Dir
// is where issued certificates are persisted as pretty-printed JSON.
type Pipeline struct {
	Signer Signer
	Dir    string

	Organization  string
	SystemID      string
	AuthorityName string
}

// timeNow is indirected so tests can pin issuance time; production
// always uses the wall clock.
var timeNow = time.Now

// Issue canonicalizes log into a signed Certificate, persists it under
// Dir, and returns it. Only a Log with Success true should be issued;
// Issue enforces this rather than trusting the caller.
func (p *Pipeline) Issue(log *wipe.Log) (*Certificate, error) {
	if !log.Success {
		return nil, fmt.Errorf("attestation: refusing to issue a certificate for an unsuccessful wipe")
	}

	fingerprint, err := p.Signer.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("attestation: signer fingerprint: %w", err)
	}

	devFingerprint := deviceFingerprint(log.Device)

	cert := &Certificate{
		FormatVersion: FormatVersion,
		IssuedAt:      log.EndedAt.UTC().Format(rfc3339Milli),
		Issuer: Issuer{
			Organization:         p.Organization,
			SystemID:             p.SystemID,
			PublicKeyFingerprint: fingerprint,
			AuthorityName:        p.AuthorityName,
		},
		Device: DeviceBlock{
			Path:        log.Device.Path,
			Model:       log.Device.Model,
			Serial:      log.Device.Serial,
			SizeBytes:   log.Device.LogicalBytes,
			SizeHuman:   device.HumanBytes(log.Device.LogicalBytes),
			MediumClass: log.Device.MediumClass.String(),
			Interface:   log.Device.Interface,
			Fingerprint: devFingerprint,
		},
		Wipe: WipeBlock{
			MethodID:           log.MethodID,
			StartedAt:          log.StartedAt.UTC().Format(rfc3339Milli),
			EndedAt:            log.EndedAt.UTC().Format(rfc3339Milli),
			DurationSeconds:    log.Duration.Seconds(),
			PassesCompleted:    log.PassesCompleted,
			TotalPasses:        log.TotalPasses,
			HardwareEraseUsed:  log.HardwareEraseUsed,
			VerificationPassed: log.VerificationPassed,
			Success:            log.Success,
			Errors:             log.Errors,
			PlatformTag:        log.PlatformTag,
			VerificationNote:   log.VerificationNote,
		},
		Security: SecurityBlock{
			SignatureAlgorithm: SignatureAlgorithm,
			KeySize:            p.Signer.KeySize(),
		},
	}

	complianceHash, err := complianceHash(cert)
	if err != nil {
		return nil, err
	}
	cert.Compliance = ComplianceBlock{
		Standards:      complianceStandards(log.MethodID),
		ComplianceHash: complianceHash,
	}

	certID, err := certificateID(devFingerprint)
	if err != nil {
		return nil, err
	}
	cert.CertificateID = certID

	if err := p.sign(cert); err != nil {
		return nil, err
	}

	if p.Dir != "" {
		if err := p.store(cert); err != nil {
			return nil, err
		}
	}

	return cert, nil
}

const rfc3339Milli = "2006-01-02T15:04:05.000Z"

// sign computes content_hash over everything but {content_hash,
// signature} and signs that hash with RSA-PSS-SHA256.
func (p *Pipeline) sign(cert *Certificate) error {
	hash, err := contentHash(cert)
	if err != nil {
		return err
	}
	cert.ContentHash = hash

	digest, err := hex.DecodeString(hash)
	if err != nil {
		return err
	}

	sig, err := rsa.SignPSS(rand.Reader, p.Signer.PrivateKey(), crypto.SHA256, digest, nil)
	if err != nil {
		return fmt.Errorf("attestation: sign: %w", err)
	}
	cert.Signature = hex.EncodeToString(sig)
	return nil
}

// Verify recomputes content_hash and checks the signature against
// pub. A structurally valid but tampered certificate returns
// (false, nil); only an unrecoverable I/O or encoding error is
// returned as err.
func Verify(cert *Certificate, pub *rsa.PublicKey) (bool, error) {
	expected, err := contentHash(cert)
	if err != nil {
		return false, err
	}
	if expected != cert.ContentHash {
		return false, nil
	}

	digest, err := hex.DecodeString(expected)
	if err != nil {
		return false, err
	}

	sig, err := hex.DecodeString(cert.Signature)
	if err != nil {
		return false, nil
	}

	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest, sig, nil); err != nil {
		return false, nil
	}
	return true, nil
}

// contentHash is SHA256(canonical_json(certificate \ {content_hash,
// signature})), matching the field the certificate itself stores.
func contentHash(cert *Certificate) (string, error) {
	stripped, err := stripFields(cert, "content_hash", "signature")
	if err != nil {
		return "", err
	}
	canon, err := canonicalJSON(stripped)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return fmt.Sprintf("%x", sum), nil
}

// complianceHash is hex(SHA256(canonical_json({method_id,
// passes_completed, verification_passed, platform_tag, started_at}))).
func complianceHash(cert *Certificate) (string, error) {
	subset := map[string]interface{}{
		"method_id":           cert.Wipe.MethodID,
		"passes_completed":    cert.Wipe.PassesCompleted,
		"verification_passed": cert.Wipe.VerificationPassed,
		"platform_tag":        cert.Wipe.PlatformTag,
		"started_at":          cert.Wipe.StartedAt,
	}
	canon, err := canonicalJSON(subset)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return fmt.Sprintf("%x", sum), nil
}

// deviceFingerprint is upper(hex(SHA256("model|serial|size|medium_class
// |interface|platform_tag|sector_bytes")[0:8])).
func deviceFingerprint(d device.Device) string {
	identity := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%d",
		d.Model, d.Serial, d.LogicalBytes, d.MediumClass, d.Interface, d.PlatformTag, d.SectorBytes)
	sum := sha256.Sum256([]byte(identity))
	return fmt.Sprintf("%X", sum[:8])
}

// certificateID is "EWSAFE-" + base16(now_unix) + "-" +
// base16(SHA256(device_identity)[0:8]) + "-" + base16(random[0:4]),
// the random suffix drawn via a UUID's entropy rather than a bare
// crypto/rand.Read call, matching how the rest of the pack sources
// short random identifiers.
func certificateID(deviceFingerprint string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("attestation: generate certificate id entropy: %w", err)
	}
	randomBytes := id[:4]
	return fmt.Sprintf("EWSAFE-%X-%s-%X", timeNow().Unix(), deviceFingerprint, randomBytes), nil
}

// complianceStandards looks up the catalog method's declared compliance
// tags. Returns nil for an unrecognized id rather than erroring: a
// certificate can still be issued for a method the running binary's
// catalog no longer carries.
func complianceStandards(methodID string) []string {
	m, err := pattern.Get(methodID)
	if err != nil {
		return nil
	}
	return m.ComplianceTags
}

// store writes cert as pretty-printed JSON under Dir, named by its
// certificate_id.
func (p *Pipeline) store(cert *Certificate) error {
	if err := os.MkdirAll(p.Dir, 0o700); err != nil {
		return fmt.Errorf("attestation: create certificate directory: %w", err)
	}
	path := filepath.Join(p.Dir, cert.CertificateID+".json")
	raw, err := json.MarshalIndent(cert, "", "  ")
	if err != nil {
		return fmt.Errorf("attestation: marshal certificate: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil { // #nosec G306 -- certificate is not secret, 0600 matches key-store directory convention
		return fmt.Errorf("attestation: write %s: %w", path, err)
	}
	return nil
}

// Load reads a previously issued certificate by id from dir.
func Load(dir, id string) (*Certificate, error) {
	path := filepath.Join(dir, id+".json")
	raw, err := os.ReadFile(path) // #nosec G304 -- caller-provided certificate id resolved under a fixed directory
	if err != nil {
		return nil, fmt.Errorf("attestation: read %s: %w", path, err)
	}
	var cert Certificate
	if err := json.Unmarshal(raw, &cert); err != nil {
		return nil, fmt.Errorf("attestation: parse %s: %w", path, err)
	}
	return &cert, nil
}

// LoadFile reads a previously issued certificate from an arbitrary
// path, for the CLI's "verify <path>" form.
func LoadFile(path string) (*Certificate, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path on the command line
	if err != nil {
		return nil, fmt.Errorf("attestation: read %s: %w", path, err)
	}
	var cert Certificate
	if err := json.Unmarshal(raw, &cert); err != nil {
		return nil, fmt.Errorf("attestation: parse %s: %w", path, err)
	}
	return &cert, nil
}

