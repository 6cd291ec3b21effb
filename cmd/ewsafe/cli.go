// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ewsafe/core/pkg/attestation"
	"github.com/ewsafe/core/pkg/device"
	"github.com/ewsafe/core/pkg/keystore"
	"github.com/ewsafe/core/pkg/pattern"
	"github.com/ewsafe/core/pkg/platform"
	"github.com/ewsafe/core/pkg/wipe"
)

// WipeOperations is the subset of the platform and wipe packages the
// CLI drives, narrow enough for cli_test.go to fake without touching a
// real block device.
type WipeOperations interface {
	Enumerate(ctx context.Context) ([]device.Device, error)
	Run(ctx context.Context, d device.Device, methodID string, progress wipe.ProgressFunc) (*wipe.Log, error)
}

// DefaultWipeOperations implements WipeOperations against a real
// platform.Adapter.
type DefaultWipeOperations struct {
	Adapter platform.Adapter
}

func (d *DefaultWipeOperations) Enumerate(ctx context.Context) ([]device.Device, error) {
	return d.Adapter.Enumerate(ctx)
}

func (d *DefaultWipeOperations) Run(ctx context.Context, dev device.Device, methodID string, progress wipe.ProgressFunc) (*wipe.Log, error) {
	m, err := pattern.Get(methodID)
	if err != nil {
		return nil, err
	}
	e := &wipe.Engine{Adapter: d.Adapter, Device: dev, Method: m}
	return e.Run(ctx, progress)
}

// CLI represents the command-line application. Every external
// dependency — device access, the key store, and the attestation
// pipeline — is injected so the command dispatch logic can be tested
// without root privileges or real hardware.
type CLI struct {
	Args     []string
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
	Ops      WipeOperations
	Terminal Terminal
	Pipeline *attestation.Pipeline
	CertDir  string
	ExitFunc func(code int)
	stdinFd  int
}

// NewCLI creates a CLI wired to the real Linux platform adapter, a
// key store at the conventional system path, and an attestation
// pipeline that persists certificates alongside it.
func NewCLI() *CLI {
	adapter := platform.NewLinux()
	certDir := filepath.Join(defaultStateDir(), "certificates")

	cli := &CLI{
		Args:     os.Args,
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Ops:      &DefaultWipeOperations{Adapter: adapter},
		Terminal: &DefaultTerminal{},
		CertDir:  certDir,
		ExitFunc: os.Exit,
		stdinFd:  int(os.Stdin.Fd()),
	}
	cli.Pipeline = cli.openPipeline(certDir)
	return cli
}

// openPipeline opens (or creates, on first use) the signing key store
// and builds the attestation pipeline around it. If the key file is
// passphrase-sealed, the operator is prompted once via Terminal.
func (c *CLI) openPipeline(certDir string) *attestation.Pipeline {
	keyPath := filepath.Join(defaultStateDir(), "keys", "signing.pem")

	ks, err := keystore.Open(keyPath)
	if err != nil {
		_, _ = fmt.Fprint(c.Stdout, "Signing key is passphrase-protected. Enter passphrase: ")
		passphrase, readErr := c.Terminal.ReadPassword(c.stdinFd)
		_, _ = fmt.Fprintln(c.Stdout)
		if readErr != nil {
			return nil
		}
		ks, err = keystore.OpenProtected(keyPath, passphrase)
		if err != nil {
			_, _ = fmt.Fprintf(c.Stderr, "Failed to open signing key: %v\n", err)
			return nil
		}
	}

	return &attestation.Pipeline{
		Signer:        ks,
		Dir:           certDir,
		Organization:  "ewsafe",
		SystemID:      hostSystemID(),
		AuthorityName: "ewsafe wipe authority",
	}
}

func defaultStateDir() string {
	if dir := os.Getenv("EWSAFE_STATE_DIR"); dir != "" {
		return dir
	}
	return "/var/lib/ewsafe"
}

func hostSystemID() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "unknown"
}

// Run executes the CLI with the given arguments.
func (c *CLI) Run() int {
	if len(c.Args) < 2 {
		c.showBanner()
		_, _ = fmt.Fprint(c.Stdout, usage)
		return 1
	}

	switch c.Args[1] {
	case "list":
		return c.cmdList()
	case "wipe":
		return c.cmdWipe()
	case "certs":
		return c.cmdCerts()
	case "verify":
		return c.cmdVerify()
	case "help", "--help", "-h":
		c.showBanner()
		_, _ = fmt.Fprint(c.Stdout, usage)
		return 0
	case "version", "--version", "-v":
		_, _ = fmt.Fprintf(c.Stdout, "ewsafe version %s\n", Version)
		return 0
	default:
		_, _ = fmt.Fprintf(c.Stderr, "Unknown command: %s\n\n", c.Args[1])
		_, _ = fmt.Fprint(c.Stdout, usage)
		return 1
	}
}

func (c *CLI) showBanner() {
	_, _ = fmt.Fprint(c.Stdout, banner)
}

func (c *CLI) cmdList() int {
	devices, err := c.Ops.Enumerate(context.Background())
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Failed to enumerate devices: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		_, _ = fmt.Fprintln(c.Stdout, "No wipeable devices found.")
		return 0
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Path < devices[j].Path })

	_, _ = fmt.Fprintf(c.Stdout, "%-14s %-10s %-12s %-16s %-10s\n", "DEVICE", "SIZE", "MEDIUM", "MODEL", "INTERFACE")
	for _, d := range devices {
		_, _ = fmt.Fprintf(c.Stdout, "%-14s %-10s %-12s %-16s %-10s\n",
			d.Path, device.HumanBytes(d.LogicalBytes), d.MediumClass, d.Model, d.Interface)
	}
	return 0
}

// cmdWipe parses "wipe --device D --method M [--yes]" and drives a
// single wipe to completion, issuing a certificate on success.
func (c *CLI) cmdWipe() int {
	flags, err := parseFlags(c.Args[2:])
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "%v\n", err)
		return 1
	}

	devicePath := flags["device"]
	methodID := flags["method"]
	if devicePath == "" || methodID == "" {
		_, _ = fmt.Fprintln(c.Stdout, "Usage: ewsafe wipe --device <path> --method <method> [--yes]")
		return 1
	}

	if _, err := pattern.Get(methodID); err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Unknown method %q\n", methodID)
		return 1
	}

	devices, err := c.Ops.Enumerate(context.Background())
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Failed to enumerate devices: %v\n", err)
		return 1
	}
	var target device.Device
	found := false
	for _, d := range devices {
		if d.Path == devicePath {
			target = d
			found = true
			break
		}
	}
	if !found {
		_, _ = fmt.Fprintf(c.Stderr, "Device not found or not eligible: %s\n", devicePath)
		return 1
	}

	if _, confirmed := flags["yes"]; !confirmed {
		if !c.confirmDestruction(target) {
			_, _ = fmt.Fprintln(c.Stdout, "Aborted.")
			return 1
		}
	}

	_, _ = fmt.Fprintf(c.Stdout, "Wiping %s with method %s...\n", target.Path, methodID)
	progress := func(percent int, message string) {
		_, _ = fmt.Fprintf(c.Stdout, "\r[%3d%%] %-60s", percent, message)
		if percent >= 100 {
			_, _ = fmt.Fprintln(c.Stdout)
		}
	}

	log, err := c.Ops.Run(context.Background(), target, methodID, progress)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "\nWipe failed to run: %v\n", err)
		return 1
	}

	if !log.Success {
		_, _ = fmt.Fprintln(c.Stderr, "\nWipe did not complete successfully:")
		for _, e := range log.Errors {
			_, _ = fmt.Fprintf(c.Stderr, "  - %s\n", e)
		}
		return 1
	}

	_, _ = fmt.Fprintln(c.Stdout, "Wipe completed successfully.")
	if log.VerificationNote != "" {
		_, _ = fmt.Fprintf(c.Stdout, "Note: %s\n", log.VerificationNote)
	}

	if c.Pipeline == nil {
		_, _ = fmt.Fprintln(c.Stdout, "No signing key available; certificate was not issued.")
		return 0
	}

	cert, err := c.Pipeline.Issue(log)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Wipe succeeded but certificate issuance failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(c.Stdout, "Certificate issued: %s\n", cert.CertificateID)
	return 0
}

func (c *CLI) confirmDestruction(d device.Device) bool {
	_, _ = fmt.Fprintf(c.Stdout, "This will PERMANENTLY ERASE %s (%s, %s).\n", d.Path, d.Model, device.HumanBytes(d.LogicalBytes))
	_, _ = fmt.Fprint(c.Stdout, "Type the device path to confirm: ")
	reader := bufio.NewReader(c.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line) == d.Path
}

func (c *CLI) cmdCerts() int {
	entries, err := os.ReadDir(c.CertDir)
	if err != nil {
		if os.IsNotExist(err) {
			_, _ = fmt.Fprintln(c.Stdout, "No certificates issued yet.")
			return 0
		}
		_, _ = fmt.Fprintf(c.Stderr, "Failed to list certificates: %v\n", err)
		return 1
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") {
			_, _ = fmt.Fprintln(c.Stdout, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	return 0
}

// cmdVerify verifies the certificate at the given path against the
// public key named by its own public_key_fingerprint, looked up in the
// local key store. A certificate signed by a key this installation
// doesn't hold cannot be verified here.
func (c *CLI) cmdVerify() int {
	if len(c.Args) < 3 {
		_, _ = fmt.Fprintln(c.Stdout, "Usage: ewsafe verify <path-to-certificate.json>")
		return 1
	}
	path := c.Args[2]

	cert, err := attestation.LoadFile(path)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Failed to load certificate: %v\n", err)
		return 1
	}

	if c.Pipeline == nil {
		_, _ = fmt.Fprintln(c.Stderr, "No local signing key available to verify against.")
		return 1
	}

	fingerprint, err := c.Pipeline.Signer.Fingerprint()
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Failed to compute local key fingerprint: %v\n", err)
		return 1
	}
	if cert.Issuer.PublicKeyFingerprint != fingerprint {
		_, _ = fmt.Fprintln(c.Stderr, "Certificate was not signed by this installation's key; cannot verify.")
		return 1
	}

	ok, err := attestation.Verify(cert, c.Pipeline.Signer.PublicKey())
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Verification error: %v\n", err)
		return 1
	}
	if !ok {
		_, _ = fmt.Fprintln(c.Stdout, "INVALID: certificate signature or content hash does not match.")
		return 1
	}
	_, _ = fmt.Fprintf(c.Stdout, "VALID: certificate %s for device %s, method %s\n",
		cert.CertificateID, cert.Device.Path, cert.Wipe.MethodID)
	return 0
}

// parseFlags does minimal "--name value" / "--name" parsing; no
// external flag library is pulled in for three recognized flags.
func parseFlags(args []string) (map[string]string, error) {
	out := map[string]string{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
		name := strings.TrimPrefix(arg, "--")
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			out[name] = args[i+1]
			i++
		} else {
			out[name] = "true"
		}
	}
	return out, nil
}
