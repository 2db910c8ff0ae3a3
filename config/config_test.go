package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/omicslake/sra-mirror-lake/mirror"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
mirror:
  base_url: https://mirror.test/sra/
lake:
  destination: /data/lake
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Service.Name != "sra-mirror-lake" {
		t.Errorf("service name = %q", cfg.Service.Name)
	}
	if cfg.Lake.ChunkMaxRows != 100_000 {
		t.Errorf("chunk_max_rows default = %d", cfg.Lake.ChunkMaxRows)
	}
	if cfg.Lake.ChunkMaxBytes != 256<<20 {
		t.Errorf("chunk_max_bytes default = %d", cfg.Lake.ChunkMaxBytes)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("max_attempts default = %d", cfg.Retry.MaxAttempts)
	}
	if got := cfg.Retry.InitialDelay(); got != 500*time.Millisecond {
		t.Errorf("initial delay = %v", got)
	}
	if cfg.Mirror.BaseURL != "https://mirror.test/sra/" {
		t.Errorf("base_url = %q", cfg.Mirror.BaseURL)
	}
	if cfg.Query.MemoryLimit != "4GB" {
		t.Errorf("memory_limit default = %q", cfg.Query.MemoryLimit)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
service:
  name: sra-sync-test
  metrics_port: 9100
mirror:
  base_url: https://mirror.test/sra/
  fetch_timeout_ms: 60000
  entities: [study, run]
lake:
  destination: s3://bucket/lake
  staging_dir: /tmp/stage
  state_file: /var/lib/sra/state.json
  compression: zstd
  chunk_max_rows: 50000
  chunk_max_bytes: 134217728
  schema_versions:
    study: "2"
retry:
  max_attempts: 3
  initial_delay_ms: 250
  max_delay_ms: 10000
  backoff_factor: 1.5
query:
  memory_limit: 8GB
  threads: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Service.MetricsPort != 9100 {
		t.Errorf("metrics_port = %d", cfg.Service.MetricsPort)
	}
	if got := cfg.Mirror.FetchTimeout(); got != time.Minute {
		t.Errorf("fetch timeout = %v", got)
	}
	if cfg.Lake.SchemaVersions["study"] != "2" {
		t.Errorf("schema version = %q", cfg.Lake.SchemaVersions["study"])
	}

	entities, err := cfg.EntityTypes()
	if err != nil {
		t.Fatalf("EntityTypes failed: %v", err)
	}
	if len(entities) != 2 || entities[0] != mirror.EntityStudy || entities[1] != mirror.EntityRun {
		t.Errorf("entities = %v", entities)
	}
}

func TestLoad_RejectsInvalidEntity(t *testing.T) {
	path := writeConfig(t, `
mirror:
  entities: [study, genome]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected invalid entity error")
	}
}

func TestLoad_RejectsNegativeBudget(t *testing.T) {
	path := writeConfig(t, `
lake:
  chunk_max_rows: -1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected chunk_max_rows error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Mirror.BaseURL != DefaultMirrorBaseURL {
		t.Errorf("base_url = %q", cfg.Mirror.BaseURL)
	}
	if entities, err := cfg.EntityTypes(); err != nil || entities != nil {
		t.Errorf("default entities = %v, %v", entities, err)
	}
}
