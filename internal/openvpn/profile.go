package openvpn

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Profile carries everything a peer profile render needs. The PEM blocks are
// embedded verbatim, so the resulting .ovpn file is the only thing a client
// machine needs.
type Profile struct {
	RemoteHost    string
	RemotePort    int
	Proto         string
	Cipher        string
	Auth          string
	TLSMinVersion string
	Verb          int
	CACert        []byte
	Cert          []byte
	Key           []byte
	TLSCrypt      []byte
}

// WriteProfile renders the self-contained profile for a peer. Rendering is
// deterministic: while the credential store is unchanged, reruns produce a
// byte-identical file. The profile embeds the peer's private key, so it is
// written with mode 0600.
func WriteProfile(path string, p Profile) error {
	blocks := []struct {
		tag  string
		data []byte
	}{
		{"ca", p.CACert},
		{"cert", p.Cert},
		{"key", p.Key},
		{"tls-crypt", p.TLSCrypt},
	}
	for _, b := range blocks {
		if len(bytes.TrimSpace(b.data)) == 0 {
			return fmt.Errorf("profile %s block is empty", b.tag)
		}
	}

	lines := []string{
		"client",
		"dev tun",
		"proto " + p.Proto,
		fmt.Sprintf("remote %s %d", p.RemoteHost, p.RemotePort),
		"resolv-retry infinite",
		"nobind",
		"persist-key",
		"persist-tun",
		"remote-cert-tls server",
		"cipher " + p.Cipher,
		"auth " + p.Auth,
		"tls-version-min " + p.TLSMinVersion,
		fmt.Sprintf("verb %d", p.Verb),
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteByte('\n')
	for _, b := range blocks {
		fmt.Fprintf(&sb, "<%s>\n%s\n</%s>\n", b.tag, bytes.TrimRight(b.data, "\n"), b.tag)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}
