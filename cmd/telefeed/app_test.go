package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path string, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "warning", input: "warning", want: slog.LevelWarn},
		{name: "error", input: "error", want: slog.LevelError},
		{name: "invalid", input: "trace", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			got, err := parseLogLevel(testCase.input)
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErr {
				return
			}
			if got != testCase.want {
				t.Fatalf("level = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("loads all supported fields from config file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "telefeed.json")
		writeConfigFile(t, configPath, `{
			"log_level":"warn",
			"listen_address":"127.0.0.1:9090",
			"shutdown_timeout":"15s",
			"telegram":{
				"app_id":123456,
				"app_hash":"sample_hash",
				"bot_token":"123:abc",
				"phone":"+15550001111",
				"code":"998877",
				"password":"secret",
				"session_file":"state/telegram/session.json"
			},
			"cache":{
				"directory":"state/content",
				"index_file":"state/index.json",
				"retention":"240h",
				"reconcile_interval":"30s",
				"download_interval":"2s"
			},
			"signing":{
				"key_file":"state/signing.key",
				"enforce":false
			}
		}`)
		t.Setenv(envConfigFile, configPath)

		cfg, err := loadConfig()
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}

		if cfg.logLevel != slog.LevelWarn {
			t.Fatalf("log level = %v, want %v", cfg.logLevel, slog.LevelWarn)
		}
		if cfg.listenAddress != "127.0.0.1:9090" {
			t.Fatalf("listen address = %q", cfg.listenAddress)
		}
		if cfg.shutdownTimeout != 15*time.Second {
			t.Fatalf("shutdown timeout = %s, want 15s", cfg.shutdownTimeout)
		}
		if cfg.appID != 123456 || cfg.appHash != "sample_hash" {
			t.Fatalf("telegram identity = %d/%q", cfg.appID, cfg.appHash)
		}
		if cfg.botToken != "123:abc" || cfg.phone != "+15550001111" {
			t.Fatalf("telegram credentials = %q/%q", cfg.botToken, cfg.phone)
		}
		if cfg.code != "998877" || cfg.password != "secret" {
			t.Fatalf("telegram login secrets = %q/%q", cfg.code, cfg.password)
		}
		if cfg.sessionFile != "state/telegram/session.json" {
			t.Fatalf("session file = %q", cfg.sessionFile)
		}
		if cfg.dataDir != "state/content" || cfg.indexFile != "state/index.json" {
			t.Fatalf("cache paths = %q/%q", cfg.dataDir, cfg.indexFile)
		}
		if cfg.retention != 240*time.Hour {
			t.Fatalf("retention = %s, want 240h", cfg.retention)
		}
		if cfg.reconcileInterval != 30*time.Second {
			t.Fatalf("reconcile interval = %s, want 30s", cfg.reconcileInterval)
		}
		if cfg.downloadInterval != 2*time.Second {
			t.Fatalf("download interval = %s, want 2s", cfg.downloadInterval)
		}
		if cfg.keyFile != "state/signing.key" {
			t.Fatalf("key file = %q", cfg.keyFile)
		}
		if cfg.enforceSigns {
			t.Fatal("signing enforcement not disabled")
		}
	})

	t.Run("applies defaults for omitted fields", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "telefeed.json")
		writeConfigFile(t, configPath, `{
			"telegram":{"app_id":123456,"app_hash":"sample_hash"}
		}`)
		t.Setenv(envConfigFile, configPath)

		cfg, err := loadConfig()
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}

		if cfg.logLevel != slog.LevelInfo {
			t.Fatalf("log level = %v, want info", cfg.logLevel)
		}
		if cfg.listenAddress != defaultListenAddress {
			t.Fatalf("listen address = %q, want %q", cfg.listenAddress, defaultListenAddress)
		}
		if cfg.sessionFile != defaultSessionFile {
			t.Fatalf("session file = %q, want %q", cfg.sessionFile, defaultSessionFile)
		}
		if cfg.dataDir != defaultDataDir || cfg.indexFile != defaultIndexFile {
			t.Fatalf("cache paths = %q/%q", cfg.dataDir, cfg.indexFile)
		}
		if cfg.keyFile != defaultKeyFile {
			t.Fatalf("key file = %q, want %q", cfg.keyFile, defaultKeyFile)
		}
		if !cfg.enforceSigns {
			t.Fatal("signing enforcement not defaulted to on")
		}
		if cfg.retention != 0 || cfg.reconcileInterval != 0 {
			t.Fatalf("cache timing overrides unexpectedly set: %s/%s", cfg.retention, cfg.reconcileInterval)
		}
	})

	t.Run("rejects invalid configurations", func(t *testing.T) {
		tests := []struct {
			name        string
			contents    string
			wantSubring string
		}{
			{
				name:        "missing app id",
				contents:    `{"telegram":{"app_hash":"sample_hash"}}`,
				wantSubring: "telegram.app_id",
			},
			{
				name:        "missing app hash",
				contents:    `{"telegram":{"app_id":123456}}`,
				wantSubring: "telegram.app_hash",
			},
			{
				name:        "bad log level",
				contents:    `{"log_level":"trace","telegram":{"app_id":123456,"app_hash":"h"}}`,
				wantSubring: "log_level",
			},
			{
				name:        "bad retention",
				contents:    `{"telegram":{"app_id":123456,"app_hash":"h"},"cache":{"retention":"never"}}`,
				wantSubring: "cache.retention",
			},
			{
				name:        "negative shutdown timeout",
				contents:    `{"shutdown_timeout":"-5s","telegram":{"app_id":123456,"app_hash":"h"}}`,
				wantSubring: "shutdown_timeout",
			},
			{
				name:        "malformed json",
				contents:    `{`,
				wantSubring: "parse config file",
			},
		}

		for _, testCase := range tests {
			testCase := testCase
			t.Run(testCase.name, func(t *testing.T) {
				configPath := filepath.Join(t.TempDir(), "telefeed.json")
				writeConfigFile(t, configPath, testCase.contents)
				t.Setenv(envConfigFile, configPath)

				_, err := loadConfig()
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), testCase.wantSubring) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantSubring)
				}
			})
		}
	})
}
