package compute

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// WireGuard defaults shared by every backend
const (
	WireGuardPort        = 51820
	DefaultClientAddress = "10.8.0.2/24"
	DefaultServerAddress = "10.8.0.1/24"
	DefaultClientDNS     = "1.1.1.1"
	DefaultAllowedIPs    = "0.0.0.0/0"
	DefaultKeepalive     = 25

	// ClientConfPath is where the VM writes the generated client configuration
	ClientConfPath = "/etc/wireguard/client.conf"
)

// ErrInvalidConf is returned when a client configuration is missing a required section
var ErrInvalidConf = errors.New("invalid wireguard client configuration")

// ClientConfig holds the values rendered into a wg-quick client file
type ClientConfig struct {
	PrivateKey          string
	Address             string
	DNS                 string
	PeerPublicKey       string
	Endpoint            string
	AllowedIPs          string
	PersistentKeepalive int
}

// NewClientConfig returns a client configuration pointing at serverIP with the default tunnel settings
func NewClientConfig(privateKey, serverPublicKey, serverIP string) ClientConfig {
	return ClientConfig{
		PrivateKey:          privateKey,
		Address:             DefaultClientAddress,
		DNS:                 DefaultClientDNS,
		PeerPublicKey:       serverPublicKey,
		Endpoint:            fmt.Sprintf("%s:%d", serverIP, WireGuardPort),
		AllowedIPs:          DefaultAllowedIPs,
		PersistentKeepalive: DefaultKeepalive,
	}
}

// Render produces the wg-quick configuration text
func (c ClientConfig) Render() string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", c.PrivateKey)
	fmt.Fprintf(&b, "Address = %s\n", c.Address)
	if c.DNS != "" {
		fmt.Fprintf(&b, "DNS = %s\n", c.DNS)
	}
	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", c.PeerPublicKey)
	fmt.Fprintf(&b, "Endpoint = %s\n", c.Endpoint)
	fmt.Fprintf(&b, "AllowedIPs = %s\n", c.AllowedIPs)
	if c.PersistentKeepalive > 0 {
		fmt.Fprintf(&b, "PersistentKeepalive = %d\n", c.PersistentKeepalive)
	}
	return b.String()
}

// ValidateConf checks that text looks like a usable client configuration
func ValidateConf(text string) error {
	for _, required := range []string{"[Interface]", "PrivateKey", "[Peer]", "Endpoint"} {
		if !strings.Contains(text, required) {
			return fmt.Errorf("%w: missing %s", ErrInvalidConf, required)
		}
	}
	return nil
}

// ExtractConf pulls the client configuration out of run-command output.
// Linux run-command output has the shape "Enable succeeded: \n[stdout]\n...\n[stderr]\n...".
func ExtractConf(output string) (string, error) {
	text := output
	if i := strings.Index(text, "[stdout]"); i >= 0 {
		text = text[i+len("[stdout]"):]
	}
	if i := strings.Index(text, "[stderr]"); i >= 0 {
		text = text[:i]
	}
	if i := strings.Index(text, "[Interface]"); i >= 0 {
		text = text[i:]
	}
	text = strings.TrimSpace(text) + "\n"
	if err := ValidateConf(text); err != nil {
		return "", err
	}
	return text, nil
}

// CloudInit returns the cloud-config that installs WireGuard, generates both key pairs on the VM,
// starts the server interface, and writes the client configuration to ClientConfPath
func CloudInit(publicIP string) string {
	return fmt.Sprintf(`#cloud-config
package_update: true
packages:
  - wireguard
  - iptables
write_files:
  - path: /usr/local/sbin/wg-setup.sh
    permissions: "0700"
    content: |
      #!/bin/bash
      set -euo pipefail
      umask 077
      cd /etc/wireguard
      wg genkey | tee server.key | wg pubkey > server.pub
      wg genkey | tee client.key | wg pubkey > client.pub
      IFACE=$(ip -o -4 route show to default | awk '{print $5}')
      cat > wg0.conf <<EOF
      [Interface]
      Address = %[1]s
      ListenPort = %[2]d
      PrivateKey = $(cat server.key)
      PostUp = iptables -t nat -A POSTROUTING -o ${IFACE} -j MASQUERADE
      PostDown = iptables -t nat -D POSTROUTING -o ${IFACE} -j MASQUERADE

      [Peer]
      PublicKey = $(cat client.pub)
      AllowedIPs = %[3]s
      EOF
      cat > %[4]s <<EOF
      [Interface]
      PrivateKey = $(cat client.key)
      Address = %[5]s
      DNS = %[6]s

      [Peer]
      PublicKey = $(cat server.pub)
      Endpoint = %[7]s:%[2]d
      AllowedIPs = %[8]s
      PersistentKeepalive = %[9]d
      EOF
      sysctl -w net.ipv4.ip_forward=1
      systemctl enable --now wg-quick@wg0
runcmd:
  - /usr/local/sbin/wg-setup.sh
`, DefaultServerAddress, WireGuardPort, strings.Replace(DefaultClientAddress, "/24", "/32", 1),
		ClientConfPath, DefaultClientAddress, DefaultClientDNS, publicIP, DefaultAllowedIPs, DefaultKeepalive)
}

// CustomData encodes the cloud-config the way the compute API expects it
func CustomData(publicIP string) string {
	return base64.StdEncoding.EncodeToString([]byte(CloudInit(publicIP)))
}

// ReadConfScript prints the client configuration once cloud-init has written it
func ReadConfScript() string {
	return fmt.Sprintf("test -s %[1]s && cat %[1]s", ClientConfPath)
}
