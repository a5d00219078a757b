package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/starford/blockbase/internal/testutil"
)

func reportConfig(t *testing.T, files map[string]string) *Config {
	t.Helper()
	dir, _ := testutil.TestVault(t, files)
	cfg := NewDefaultConfig()
	cfg.Vault.Path = dir
	cfg.App.LogLevel = 8 // above error, keeps test output quiet
	return cfg
}

func TestReport_Broken(t *testing.T) {
	cfg := reportConfig(t, map[string]string{
		"a.md": "# A\n\n[[B]] and [[Nowhere]]",
		"b.md": "# B",
	})
	var out bytes.Buffer
	if err := Report(context.Background(), "", WithConfig(cfg), WithOutput(&out)); err != nil {
		t.Fatal(err)
	}
	var report LinkReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if len(report.Broken) != 1 || report.Broken[0].Target != "Nowhere" {
		t.Errorf("broken = %+v", report.Broken)
	}
}

func TestReport_Path(t *testing.T) {
	cfg := reportConfig(t, map[string]string{
		"a.md": "# A\n\n[[B]]",
		"b.md": "# B",
	})
	var out bytes.Buffer
	if err := Report(context.Background(), "b.md", WithConfig(cfg), WithOutput(&out)); err != nil {
		t.Fatal(err)
	}
	var report LinkReport
	_ = json.Unmarshal(out.Bytes(), &report)
	if len(report.Backlinks) != 1 || report.Backlinks[0].Path != "a.md" {
		t.Errorf("backlinks = %+v", report.Backlinks)
	}

	if err := Report(context.Background(), "missing.md", WithConfig(cfg), WithOutput(&out)); err == nil {
		t.Error("expected error for unknown path")
	}
}

func TestReport_RequiresConfig(t *testing.T) {
	if err := Report(context.Background(), ""); err == nil {
		t.Error("expected error without config")
	}
}
