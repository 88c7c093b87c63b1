package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8080" || cfg.JobStore.Driver != StoreSQLite || cfg.JobStore.DSN != "data/jobs.db" {
		t.Errorf("defaults = %+v", cfg)
	}
	if !cfg.Pipeline.AutoFix || cfg.MaxFileBytes() != 100*1024*1024 {
		t.Errorf("pipeline defaults = %+v", cfg.Pipeline)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeFile(t, "geoingest.yaml", `
listen: ":9000"
data_dir: /srv/geo
job_store:
  driver: postgres
  dsn: postgres://localhost/geo
pipeline:
  max_file_mb: 5
  parallelism: 2
  auto_fix: false
log_level: debug
`)
	t.Setenv("GEOINGEST_PARALLELISM", "4")
	t.Setenv("GEOINGEST_STRICT_ROWS", "true")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9000" || cfg.JobStore.Driver != StorePostgres || cfg.JobStore.DSN != "postgres://localhost/geo" {
		t.Errorf("yaml values = %+v", cfg)
	}
	if cfg.Pipeline.Parallelism != 4 || !cfg.Pipeline.StrictRows || cfg.Pipeline.AutoFix {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.MaxFileBytes() != 5*1024*1024 || cfg.Level() != slog.LevelDebug {
		t.Errorf("derived = %d, %v", cfg.MaxFileBytes(), cfg.Level())
	}
}

func TestLoadEnvFile(t *testing.T) {
	envPath := writeFile(t, ".env", "GEOINGEST_JOB_STORE=memory\nGEOINGEST_MAX_FILES=3\n")
	// godotenv does not override variables that are already set.
	t.Setenv("GEOINGEST_JOB_STORE", "")
	os.Unsetenv("GEOINGEST_JOB_STORE")
	t.Cleanup(func() { os.Unsetenv("GEOINGEST_MAX_FILES") })

	cfg, err := Load("", envPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.JobStore.Driver != StoreMemory || cfg.Pipeline.MaxFiles != 3 {
		t.Errorf("cfg = %+v", cfg)
	}

	if _, err := Load("", filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file: %v", err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"driver":    "job_store:\n  driver: mongo\n",
		"size":      "pipeline:\n  max_file_mb: 0\n",
		"log level": "log_level: loud\n",
		"dsn":       "job_store:\n  driver: postgres\n",
		"syntax":    "listen: [\n",
	}
	for name, body := range tests {
		if _, err := Load(writeFile(t, "c.yaml", body), ""); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	t.Setenv("GEOINGEST_PARALLELISM", "many")
	if _, err := Load("", ""); err == nil || !strings.Contains(err.Error(), "GEOINGEST_PARALLELISM") {
		t.Errorf("bad env int err = %v", err)
	}
}
