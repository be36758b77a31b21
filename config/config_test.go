package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTempConfig writes content to a config file in a temp dir and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

const minimalConfig = `app:
  name: "TestSync"
  version: "1.0"
accounts:
  - uid: "100"
    token: "abc"
`

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "TestSync" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if cfg.Storage.Backend != BackendFile || cfg.Storage.DataDir != "userData" {
		t.Errorf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Reader.PageDelayMin != 500*time.Millisecond || cfg.Reader.PageDelayMax != time.Second {
		t.Errorf("unexpected page delays: %v %v", cfg.Reader.PageDelayMin, cfg.Reader.PageDelayMax)
	}
	if cfg.Processor.Workers != 2 || cfg.Processor.QueueSize != 16 {
		t.Errorf("unexpected processor defaults: %+v", cfg.Processor)
	}
	if len(cfg.Accounts) != 1 || cfg.Accounts[0].Token != "abc" {
		t.Errorf("unexpected accounts: %+v", cfg.Accounts)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("GACHASYNC_DATA_DIR", "/var/lib/gachasync")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("ACCOUNT_TOKEN", "from-env")
	t.Setenv("S3_BUCKET", "gacha-archive")
	t.Setenv("AWS_REGION", "ap-northeast-1")

	path := writeTempConfig(t, `app:
  name: "TestSync"
storage:
  backend: redis
  s3:
    enabled: true
    bucket: "ignored"
accounts:
  - uid: "100"
    token_env: ACCOUNT_TOKEN
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.DataDir != "/var/lib/gachasync" {
		t.Errorf("data dir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.Redis.Addr != "redis:6380" {
		t.Errorf("redis addr = %q", cfg.Storage.Redis.Addr)
	}
	if cfg.Storage.S3.Bucket != "gacha-archive" || cfg.Storage.S3.Region != "ap-northeast-1" {
		t.Errorf("s3 = %+v", cfg.Storage.S3)
	}
	if cfg.Accounts[0].Token != "from-env" {
		t.Errorf("token = %q", cfg.Accounts[0].Token)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]struct {
		content string
		want    string
	}{
		"missing name": {
			content: "app:\n  name: \"\"\n",
			want:    "app.name",
		},
		"bad backend": {
			content: "storage:\n  backend: sqlite\n",
			want:    "storage.backend",
		},
		"inverted delays": {
			content: "reader:\n  page_delay_min: 2s\n  page_delay_max: 1s\n",
			want:    "page_delay_max",
		},
		"account without credentials": {
			content: "accounts:\n  - uid: \"1\"\n",
			want:    "accounts[0]",
		},
		"kafka without brokers": {
			content: "kafka:\n  enabled: true\n",
			want:    "kafka.brokers",
		},
		"invalid bucket": {
			content: "storage:\n  s3:\n    enabled: true\n    bucket: \"Bad_Bucket\"\n    region: \"us-east-1\"\n",
			want:    "storage.s3.bucket",
		},
		"relative endpoint": {
			content: "reader:\n  endpoint_override: \"localhost:8080\"\n",
			want:    "endpoint_override",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("S3_BUCKET", "")
			_, err := LoadConfig(writeTempConfig(t, tc.content))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	def := filepath.Join(dir, "config.yml")
	prod := filepath.Join(dir, "config.production.yml")
	if err := os.WriteFile(prod, []byte(minimalConfig), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("APP_ENV", "prod")
	if got := ResolvePath("", def); got != prod {
		t.Fatalf("ResolvePath = %q, want %q", got, prod)
	}
	if got := ResolvePath("/etc/custom.yml", def); got != "/etc/custom.yml" {
		t.Fatalf("explicit path replaced: %q", got)
	}

	t.Setenv("APP_ENV", "staging")
	if got := ResolvePath(def, def); got != def {
		t.Fatalf("missing env file should keep default, got %q", got)
	}
}

func TestIsProductionLike(t *testing.T) {
	if !IsProductionLike(EnvironmentStaging) || IsProductionLike(EnvironmentDevelopment) {
		t.Fatalf("unexpected production-like classification")
	}
}
