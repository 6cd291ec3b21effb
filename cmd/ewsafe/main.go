// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

// Version is set at build time via -ldflags
var Version = "dev"

const banner = `
ewsafe
Secure Block Device Wipe and Attestation
`

const usage = `
USAGE:
    ewsafe <command> [options]

COMMANDS:
    list                           List wipeable block devices
    wipe --device D --method M     Securely wipe a device
    certs                          List issued wipe certificates
    verify <path>                  Verify a wipe certificate's signature
    help                           Show this help message
    version                        Show version information

METHODS:
    nist_clear        Single-pass zero (NIST SP 800-88 Clear)
    nist_purge        Three-pass zero/ff/random, hardware purge when available
    dod_522022m       DoD 5220.22-M seven-pass
    dod_full_random   DoD 5220.22-M ECE seven-pass full random
    gutmann_35        Gutmann 35-pass

EXAMPLES:
    sudo ewsafe list
    sudo ewsafe wipe --device /dev/sdb --method nist_purge
    ewsafe verify /var/lib/ewsafe/certificates/EWSAFE-....json

NOTE:
    - wipe and list require root privileges
    - A wipe is irreversible; ewsafe prompts for confirmation before starting
    - Certificates are signed with a key held at the key store path
`

func main() {
	cli := NewCLI()
	code := cli.Run()
	if code != 0 {
		cli.ExitFunc(code)
	}
}
