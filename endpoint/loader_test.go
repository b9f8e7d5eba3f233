package endpoint_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marcelsud/webhook-relay/endpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("success - valid seed file", func(t *testing.T) {
		content := `
users:
  - email: "dev@example.com"
    endpoints:
      - name: "orders"
        destination_url: "https://example.com/orders"
        secret: "plain-shared-secret"
      - name: "legacy"
        destination_url: "http://legacy.internal/hook"
        active: false
  - email: "ops@example.com"
    api_key: "fixed-key"
`
		path := filepath.Join(t.TempDir(), "endpoints.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		file, err := endpoint.Load(path)

		require.NoError(t, err)
		require.Len(t, file.Users, 2)
		require.Len(t, file.Users[0].Endpoints, 2)
		assert.True(t, file.Users[0].Endpoints[0].IsActive())
		assert.False(t, file.Users[0].Endpoints[1].IsActive())
		assert.Equal(t, "fixed-key", file.Users[1].APIKey)
	})

	t.Run("error - missing file", func(t *testing.T) {
		_, err := endpoint.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading seed file")
	})

	t.Run("error - invalid destination", func(t *testing.T) {
		_, err := endpoint.Parse([]byte(`
users:
  - email: "dev@example.com"
    endpoints:
      - name: "orders"
        destination_url: "not a url"
`))
		require.Error(t, err)
		assert.ErrorIs(t, err, endpoint.ErrInvalid)
	})

	t.Run("error - duplicate email", func(t *testing.T) {
		_, err := endpoint.Parse([]byte(`
users:
  - email: "dev@example.com"
  - email: "dev@example.com"
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate email")
	})

	t.Run("error - malformed whsec secret", func(t *testing.T) {
		_, err := endpoint.Parse([]byte(`
users:
  - email: "dev@example.com"
    endpoints:
      - name: "orders"
        destination_url: "https://example.com"
        secret: "whsec_short"
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid secret")
	})

	t.Run("error - bad yaml", func(t *testing.T) {
		_, err := endpoint.Parse([]byte("users: [unclosed"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing seed YAML")
	})
}
