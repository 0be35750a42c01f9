package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/DachengChen/sqlpilot/config"
)

func writeKey(t *testing.T, passphrase string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	}
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestNewTunnelAddresses(t *testing.T) {
	cfg := config.SSHConfig{Host: "bastion", Port: 2222, User: "ops", KeyPath: writeKey(t, "")}
	tun, err := NewTunnel(cfg, "db.internal", 5432)
	require.NoError(t, err)
	assert.Equal(t, "bastion:2222", tun.sshAddr)
	assert.Equal(t, "db.internal:5432", tun.remoteAddr)
	assert.Equal(t, "ops", tun.sshConfig.User)
	tun.Stop()
	tun.Stop()
}

func TestAuthRequiresKey(t *testing.T) {
	_, err := NewTunnel(config.SSHConfig{Host: "h", Port: 22}, "db", 5432)
	assert.ErrorContains(t, err, "no SSH authentication methods")
}

func TestPassphraseKey(t *testing.T) {
	path := writeKey(t, "secret")

	_, err := buildAuthMethods(config.SSHConfig{KeyPath: path})
	assert.Error(t, err)

	methods, err := buildAuthMethods(config.SSHConfig{KeyPath: path, KeyPassphrase: "secret"})
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestKnownHostsMissing(t *testing.T) {
	_, err := hostKeyCallback(config.SSHConfig{KnownHosts: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)

	cb, err := hostKeyCallback(config.SSHConfig{})
	require.NoError(t, err)
	assert.NotNil(t, cb)
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	assert.Equal(t, "/home/tester/.ssh/id", expandHome("~/.ssh/id"))
	assert.Equal(t, "/abs/id", expandHome("/abs/id"))
}
