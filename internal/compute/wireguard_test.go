package compute

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConfigRender(t *testing.T) {
	conf := NewClientConfig("client-key", "server-key", "203.0.113.7").Render()

	assert.True(t, strings.HasPrefix(conf, "[Interface]\n"))
	assert.Contains(t, conf, "PrivateKey = client-key\n")
	assert.Contains(t, conf, "Address = 10.8.0.2/24\n")
	assert.Contains(t, conf, "DNS = 1.1.1.1\n")
	assert.Contains(t, conf, "[Peer]\nPublicKey = server-key\n")
	assert.Contains(t, conf, "Endpoint = 203.0.113.7:51820\n")
	assert.Contains(t, conf, "AllowedIPs = 0.0.0.0/0\n")
	assert.Contains(t, conf, "PersistentKeepalive = 25\n")
	assert.NoError(t, ValidateConf(conf))
}

func TestValidateConf(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{name: "complete", text: NewClientConfig("a", "b", "1.2.3.4").Render()},
		{name: "empty", text: "", wantErr: true},
		{name: "no peer", text: "[Interface]\nPrivateKey = a\n", wantErr: true},
		{name: "no endpoint", text: "[Interface]\nPrivateKey = a\n[Peer]\nPublicKey = b\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConf(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConf)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestExtractConf(t *testing.T) {
	conf := NewClientConfig("a", "b", "1.2.3.4").Render()

	t.Run("run command envelope", func(t *testing.T) {
		output := "Enable succeeded: \n[stdout]\n" + conf + "\n[stderr]\nsome warning\n"
		got, err := ExtractConf(output)
		require.NoError(t, err)
		assert.Equal(t, conf, got)
	})

	t.Run("bare output", func(t *testing.T) {
		got, err := ExtractConf(conf)
		require.NoError(t, err)
		assert.Equal(t, conf, got)
	})

	t.Run("not ready", func(t *testing.T) {
		_, err := ExtractConf("Enable succeeded: \n[stdout]\n\n[stderr]\n")
		assert.ErrorIs(t, err, ErrInvalidConf)
	})
}

func TestCloudInit(t *testing.T) {
	script := CloudInit("198.51.100.4")

	assert.True(t, strings.HasPrefix(script, "#cloud-config\n"))
	assert.Contains(t, script, "wg genkey")
	assert.Contains(t, script, "ListenPort = 51820")
	assert.Contains(t, script, "Endpoint = 198.51.100.4:51820")
	assert.Contains(t, script, "AllowedIPs = 10.8.0.2/32")
	assert.Contains(t, script, ClientConfPath)

	decoded, err := base64.StdEncoding.DecodeString(CustomData("198.51.100.4"))
	require.NoError(t, err)
	assert.Equal(t, script, string(decoded))
}
