package main

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darrylbowler72/agenticframework-sub001/internal/config"
	"github.com/darrylbowler72/agenticframework-sub001/internal/logging"
)

func TestSubcommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"orchestrator", "gateway", "worker", "migrate"})

	flag := workerCmd.Flags().Lookup("kind")
	require.NotNil(t, flag)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestMigrateRequiresPostgres(t *testing.T) {
	t.Setenv("AGENTIC_STORE_DRIVER", "memory")
	configPath = ""
	err := runMigrate(migrateCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver=postgres")
}

func TestServeRunsCleanupsWhenListenFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := &config.Config{}
	cfg.Server.Addr = ln.Addr().String()

	var ran []string
	err = serve(cfg, newEcho("test", logging.Discard()), logging.Discard(),
		func(ctx context.Context) error {
			ran = append(ran, "first")
			return errors.New("already stopped")
		},
		func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			assert.True(t, ok, "cleanups get a shutdown budget")
			ran = append(ran, "second")
			return nil
		},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error")
	assert.Equal(t, []string{"first", "second"}, ran)
}

func TestServeRunsCleanupsWhenCertificateFails(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.TLS.Enabled = true
	cfg.Server.TLS.CertFile = filepath.Join(t.TempDir(), "missing", "cert.pem")
	cfg.Server.TLS.KeyFile = filepath.Join(t.TempDir(), "missing", "key.pem")
	cfg.Server.TLS.Hostnames = []string{"localhost"}

	ran := false
	err := serve(cfg, newEcho("test", logging.Discard()), logging.Discard(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, ran)
}
