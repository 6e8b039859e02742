package remote

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"
)

// hostKeyCallback builds the host identity check. With a configured
// fingerprint every connection verifies the presented key's SHA256 digest
// and refuses on mismatch. With none, the key is accepted on first use
// (TOFU), an explicit trade-off; deployers who can pin should pin.
func hostKeyCallback(fingerprint string) ssh.HostKeyCallback {
	if fingerprint == "" {
		return ssh.InsecureIgnoreHostKey()
	}

	want := fingerprint
	if !strings.HasPrefix(want, "SHA256:") {
		want = "SHA256:" + want
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		got := ssh.FingerprintSHA256(key)
		if got != want {
			return fmt.Errorf("host key mismatch for %s: got %s, want %s", hostname, got, want)
		}
		return nil
	}
}
