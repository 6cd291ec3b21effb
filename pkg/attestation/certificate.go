// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package attestation canonicalizes a terminal wipe log into a signed,
// tamper-evident certificate, and verifies certificates produced
// elsewhere. Signing uses the Key Store's persistent RSA key pair; the
// canonical encoding is a small sorted-key JSON form the pipeline both
// produces and re-derives during verification.
package attestation

// FormatVersion is embedded in every certificate this pipeline issues.
const FormatVersion = "1.0"

// SignatureAlgorithm is the only algorithm the pipeline signs with.
const SignatureAlgorithm = "RSA-PSS-SHA256"

// Issuer identifies the organization and system that produced a
// certificate.
type Issuer struct {
	Organization         string `json:"organization"`
	SystemID             string `json:"system_id"`
	PublicKeyFingerprint string `json:"public_key_fingerprint"`
	AuthorityName        string `json:"authority_name"`
}

// DeviceBlock is the device identity carried in a certificate,
// derived from the wipe log's device snapshot.
type DeviceBlock struct {
	Path        string `json:"path"`
	Model       string `json:"model"`
	Serial      string `json:"serial"`
	SizeBytes   int64  `json:"size_bytes"`
	SizeHuman   string `json:"size_human"`
	MediumClass string `json:"medium_class"`
	Interface   string `json:"interface"`
	Fingerprint string `json:"fingerprint"`
}

// WipeBlock is the outcome of the wipe, derived from the wipe log.
type WipeBlock struct {
	MethodID           string   `json:"method_id"`
	StartedAt          string   `json:"started_at"`
	EndedAt            string   `json:"ended_at"`
	DurationSeconds    float64  `json:"duration_seconds"`
	PassesCompleted    int      `json:"passes_completed"`
	TotalPasses        int      `json:"total_passes"`
	HardwareEraseUsed  bool     `json:"hardware_erase_used"`
	VerificationPassed bool     `json:"verification_passed"`
	Success            bool     `json:"success"`
	Errors             []string `json:"errors"`
	PlatformTag        string   `json:"platform_tag"`
	VerificationNote   string   `json:"verification_note,omitempty"`
}

// ComplianceBlock carries the declared standards a method satisfies and
// their hash.
type ComplianceBlock struct {
	Standards      []string `json:"standards"`
	ComplianceHash string   `json:"compliance_hash"`
}

// SecurityBlock names the signature scheme and key size used.
type SecurityBlock struct {
	SignatureAlgorithm string `json:"signature_algorithm"`
	KeySize            int    `json:"key_size"`
}

// Certificate is the tamper-evident artifact issued for a terminal,
// successful wipe log. Immutable after signing.
type Certificate struct {
	CertificateID string          `json:"certificate_id"`
	FormatVersion string          `json:"format_version"`
	IssuedAt      string          `json:"issued_at"`
	Issuer        Issuer          `json:"issuer"`
	Device        DeviceBlock     `json:"device"`
	Wipe          WipeBlock       `json:"wipe"`
	Compliance    ComplianceBlock `json:"compliance"`
	Security      SecurityBlock   `json:"security"`
	ContentHash   string          `json:"content_hash"`
	Signature     string          `json:"signature"`
}
