package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := map[string]string{"OPENAI_API_KEY": "sk-local-123"}

	require.NoError(t, EncryptSecrets(dir, "hunter2", in))
	assert.True(t, SecretsExist(dir))

	info, err := os.Stat(SecretsPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err := DecryptSecrets(dir, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecryptWrongPassphraseFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecrets(dir, "right", map[string]string{"k": "v"}))

	_, err := DecryptSecrets(dir, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt")
}

func TestDecryptMissingFile(t *testing.T) {
	_, err := DecryptSecrets(t.TempDir(), "any")
	assert.ErrorIs(t, err, ErrNoSecrets)
}

func TestDecryptTightensPermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecrets(dir, "p", map[string]string{"k": "v"}))
	require.NoError(t, os.Chmod(SecretsPath(dir), 0o644))

	_, err := DecryptSecrets(dir, "p")
	require.NoError(t, err)

	info, err := os.Stat(SecretsPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSecretPrecedence(t *testing.T) {
	t.Setenv("SIDEKICK_TEST_SECRET", "from-env")

	got, err := Secret(map[string]string{"SIDEKICK_TEST_SECRET": "from-file"}, "SIDEKICK_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-file", got, "the secrets file wins over the environment")

	got, err = Secret(nil, "SIDEKICK_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	_, err = Secret(nil, "SIDEKICK_TEST_MISSING")
	require.Error(t, err)
}

func TestPassphraseFromEnv(t *testing.T) {
	t.Setenv("SIDEKICK_PASSPHRASE", "env-pass")
	got, err := Passphrase("Passphrase: ")
	require.NoError(t, err)
	assert.Equal(t, "env-pass", got)
}
