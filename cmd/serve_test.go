package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diyartec/calassist/internal/config"
	"github.com/diyartec/calassist/internal/oauth"
	"github.com/diyartec/calassist/internal/session"
	"github.com/diyartec/calassist/internal/store"
)

func testConfig(t *testing.T, vars map[string]string) *config.Config {
	t.Helper()
	cfg, err := config.FromEnvironment(vars)
	require.NoError(t, err)
	return cfg
}

func TestServeOptions_Resolve(t *testing.T) {
	cfg := testConfig(t, map[string]string{"PORT": "4000", "METRICS_ADDR": ":9200", "LOGLEVEL": "info"})
	opts := serveOptions{addr: ":8080", metricsAddr: ":9999", debug: true}

	tests := []struct {
		name    string
		changed []string
		want    resolvedServe
	}{
		{
			name: "environment when no flag is set",
			want: resolvedServe{addr: ":4000", metricsAddr: ":9200"},
		},
		{
			name:    "explicit addr",
			changed: []string{"addr"},
			want:    resolvedServe{addr: ":8080", metricsAddr: ":9200"},
		},
		{
			name:    "all flags",
			changed: []string{"addr", "metrics-addr", "debug"},
			want:    resolvedServe{addr: ":8080", metricsAddr: ":9999", debug: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := func(name string) bool {
				for _, c := range tt.changed {
					if c == name {
						return true
					}
				}
				return false
			}
			assert.Equal(t, tt.want, opts.resolve(cfg, changed))
		})
	}
}

func TestServeOptions_ResolveDebugFromLogLevel(t *testing.T) {
	cfg := testConfig(t, map[string]string{"LOGLEVEL": "debug"})
	got := serveOptions{}.resolve(cfg, func(string) bool { return false })
	assert.True(t, got.debug)

	got = serveOptions{debug: false}.resolve(cfg, func(name string) bool { return name == "debug" })
	assert.False(t, got.debug)
}

func TestServeCmd_Flags(t *testing.T) {
	cmd := newServeCmd()
	for _, name := range []string{"addr", "metrics-addr", "debug", "migrate"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}

	require.NoError(t, cmd.Flags().Parse([]string{"--addr", ":7000"}))
	assert.True(t, cmd.Flags().Changed("addr"))
	assert.False(t, cmd.Flags().Changed("metrics-addr"))
}

func TestStartupGuard(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		backend string
		wantErr []string
	}{
		{
			name:    "development with memory store",
			vars:    map[string]string{"NODE_ENV": "development"},
			backend: store.BackendMemory,
		},
		{
			name:    "production with redis and database",
			vars:    map[string]string{"NODE_ENV": "production", "DATABASE_URL": "postgres://db/app"},
			backend: store.BackendRedis,
		},
		{
			name:    "production with memory store",
			vars:    map[string]string{"NODE_ENV": "production", "DATABASE_URL": "postgres://db/app"},
			backend: store.BackendMemory,
			wantErr: []string{"REDIS_URL or VALKEY_URL"},
		},
		{
			name: "production with memory store allowed",
			vars: map[string]string{
				"NODE_ENV":                       "production",
				"DATABASE_URL":                   "postgres://db/app",
				"ALLOW_INMEMORY_SESSION_IN_PROD": "true",
			},
			backend: store.BackendMemory,
		},
		{
			name:    "production without anything",
			vars:    map[string]string{"NODE_ENV": "production"},
			backend: store.BackendMemory,
			wantErr: []string{"REDIS_URL or VALKEY_URL", "DATABASE_URL"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := startupGuard(testConfig(t, tt.vars), tt.backend)
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestInvalidateSessions(t *testing.T) {
	ctx := context.Background()
	repo := session.NewRepository(store.NewMemoryStore(), store.Keyspace{Namespace: "test"})
	require.NoError(t, repo.Save(ctx, "a", &session.Record{User: oauth.Profile{Sub: "sub-1"}}))
	require.NoError(t, repo.Save(ctx, "b", &session.Record{User: oauth.Profile{Sub: "sub-1"}}))
	require.NoError(t, repo.Save(ctx, "c", &session.Record{User: oauth.Profile{Sub: "sub-2"}}))

	var out bytes.Buffer
	require.NoError(t, invalidateSessions(ctx, &out, repo, "c", ""))
	assert.Equal(t, "deleted 1 session\n", out.String())
	_, err := repo.Get(ctx, "c")
	assert.ErrorIs(t, err, session.ErrNotFound)

	out.Reset()
	require.NoError(t, invalidateSessions(ctx, &out, repo, "", "sub-1"))
	assert.Equal(t, "deleted 2 session(s)\n", out.String())
	_, err = repo.Get(ctx, "a")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestPrintConfigSummary(t *testing.T) {
	t.Run("without fingerprints", func(t *testing.T) {
		var out bytes.Buffer
		printConfigSummary(&out, testConfig(t, map[string]string{"NODE_ENV": "development"}))
		assert.Contains(t, out.String(), "configuration OK")
		assert.Contains(t, out.String(), "frontend_base_url")
		assert.NotContains(t, out.String(), "secret_key_fp")
	})

	t.Run("with fingerprints", func(t *testing.T) {
		cfg := testConfig(t, map[string]string{
			"NODE_ENV":                  "development",
			"SECRETKEY":                 "0123456789abcdef0123456789abcdef",
			"PRINT_SECRET_FINGERPRINTS": "true",
		})
		var out bytes.Buffer
		printConfigSummary(&out, cfg)
		assert.Contains(t, out.String(), "secret_key_fp")
		assert.Contains(t, out.String(), cfg.Fingerprints()["secret_key_fp"])
		assert.NotContains(t, out.String(), cfg.SecretKey)
	})
}

func TestVersionCmd(t *testing.T) {
	SetVersion("1.2.3")
	SetBuildInfo("abc1234", "2026-01-01")
	t.Cleanup(func() {
		SetVersion("dev")
		SetBuildInfo("", "")
	})

	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)

	assert.Contains(t, out.String(), "calassist version 1.2.3")
	assert.Contains(t, out.String(), "commit: abc1234")
	assert.Contains(t, out.String(), "built:  2026-01-01")
}
