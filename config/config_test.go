package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/semian/resilience"
	"github.com/jonwraymond/semian/secret"
	"github.com/jonwraymond/semian/shm"
)

const sampleYAML = `
environment: production
default_key: http_default
store:
  backend: memory
environments:
  production:
    http_default:
      tickets: 3
      error_timeout: 10s
    mysql_shard_0:
      tickets: 5
      error_threshold: 2
      success_threshold: 2
      error_timeout: 30
    http_metrics_internal_80:
      disabled: true
  staging:
    http_default:
      tickets: 1
admin:
  listen: 127.0.0.1:9500
  jwt:
    secret: ${SEMIAN_TEST_JWT}
    issuer: semian
  api_keys:
    - id: ops
      principal: ops-team
      key: secretref:file:ops.key
      roles: [operator]
logging:
  enabled: true
  level: debug
  format: console
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "semian.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ops.key"), []byte("ops-secret\n"), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("SEMIAN_TEST_JWT", "jwt-secret")
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "127.0.0.1:9500", cfg.Admin.Listen)
	assert.Equal(t, "jwt-secret", cfg.Admin.JWT.Secret)
	require.Len(t, cfg.Admin.APIKeys, 1)
	assert.Equal(t, "ops-secret", cfg.Admin.APIKeys[0].Key)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "semian", cfg.Telemetry.ServiceName)

	resources, err := cfg.Resources()
	require.NoError(t, err)
	shard := resources["mysql_shard_0"].Options()
	assert.Equal(t, resilience.Options{
		Tickets:          5,
		ErrorThreshold:   2,
		SuccessThreshold: 2,
		ErrorTimeout:     30 * time.Second,
	}, shard)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, DefaultEnvironment, cfg.Environment)
	assert.Equal(t, "file", cfg.Store.Backend)

	r, err := cfg.Resolver()
	require.NoError(t, err)
	assert.Nil(t, r.Resolve("anything"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SEMIAN_TEST_JWT", "x")
	t.Setenv("SEMIAN_ENV", "staging")
	t.Setenv("SEMIAN_STORE", "file")
	t.Setenv("SEMIAN_STATE_DIR", "/tmp/semian-state")
	t.Setenv("SEMIAN_LOG_LEVEL", "warn")
	t.Setenv("SEMIAN_ADMIN_LISTEN", ":9999")

	cfg, err := Load(context.Background(), writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "/tmp/semian-state", cfg.Store.Dir)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, ":9999", cfg.Admin.Listen)

	r, err := cfg.Resolver()
	require.NoError(t, err)
	opts := r.Resolve("http_example_com_443")
	require.NotNil(t, opts)
	assert.Equal(t, uint32(1), opts.Tickets)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("SEMIAN_TEST_JWT", "x")

	tests := []struct {
		name string
		body string
		env  map[string]string
		want error
	}{
		{
			name: "unknown environment",
			body: sampleYAML,
			env:  map[string]string{"SEMIAN_ENV": "qa"},
			want: ErrUnknownEnvironment,
		},
		{
			name: "bad backend",
			body: "store: {backend: redis}\n",
			want: ErrInvalidConfig,
		},
		{
			name: "bad listen address",
			body: "admin: {listen: nope}\n",
			want: ErrInvalidConfig,
		},
		{
			name: "bad role",
			body: "admin: {api_keys: [{id: a, principal: b, key: c, roles: [root]}]}\n",
			want: ErrInvalidConfig,
		},
		{
			name: "bad log level",
			body: "logging: {enabled: true, level: loud, format: json}\n",
			want: ErrInvalidConfig,
		},
		{
			name: "bad duration",
			body: "environments: {default: {x: {error_timeout: soon}}}\n",
			want: ErrInvalidDuration,
		},
		{
			name: "missing secret file",
			body: "admin: {api_keys: [{id: a, principal: b, key: 'secretref:file:nope.key'}]}\n",
			want: secret.ErrSecretNotFound,
		},
		{
			name: "unset variable",
			body: "admin: {jwt: {secret: '${SEMIAN_TEST_UNSET_JWT}'}}\n",
			want: secret.ErrMissingEnv,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(context.Background(), writeConfig(t, tt.body))
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("tickets: 3\n"))
	require.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestResolver_DefaultKeyAndDisabled(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	r, err := cfg.Resolver()
	require.NoError(t, err)

	shard := r.Resolve("mysql_shard_0")
	require.NotNil(t, shard)
	assert.Equal(t, uint32(5), shard.Tickets)

	fallback := r.Resolve("http_example_com_443")
	require.NotNil(t, fallback)
	assert.Equal(t, uint32(3), fallback.Tickets)
	assert.Equal(t, 10*time.Second, fallback.ErrorTimeout)

	assert.Nil(t, r.Resolve("http_metrics_internal_80"))

	// Callers get a copy.
	fallback.Tickets = 99
	assert.Equal(t, uint32(3), r.Resolve("http_other_80").Tickets)
}

func TestResolver_NoDefaultKey(t *testing.T) {
	cfg, err := Parse([]byte(`
environments:
  default:
    redis: {tickets: 2}
`))
	require.NoError(t, err)
	r, err := cfg.Resolver()
	require.NoError(t, err)

	assert.NotNil(t, r.Resolve("redis"))
	assert.Nil(t, r.Resolve("memcached"))
}

func TestStoreConfig_Open(t *testing.T) {
	mem, err := StoreConfig{Backend: "memory"}.Open()
	require.NoError(t, err)
	assert.IsType(t, &shm.MemoryStore{}, mem)
	require.NoError(t, mem.Close())

	dir := t.TempDir()
	file, err := StoreConfig{Backend: "file", Dir: dir}.Open()
	require.NoError(t, err)
	fs, ok := file.(*shm.FileStore)
	require.True(t, ok)
	assert.Equal(t, dir, fs.Dir())
	require.NoError(t, file.Close())

	_, err = StoreConfig{Backend: "tape"}.Open()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestObserveConfig(t *testing.T) {
	cfg := Default()
	obs := cfg.ObserveConfig("v1.2.3")

	assert.Equal(t, "semian", obs.ServiceName)
	assert.Equal(t, "v1.2.3", obs.Version)
	assert.Equal(t, "info", obs.Logging.Level)
	assert.NoError(t, obs.Validate())
}
