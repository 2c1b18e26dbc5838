package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.conf")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadWellFormed(t *testing.T) {
	path := writeTempConfig(t, "# cluster\nM1,localhost,9001\nM2,localhost,9002\n\nM3,localhost,9003\n")
	c, err := Load(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Size() != 3 {
		t.Fatalf("expected size 3, got %d", c.Size())
	}
	if c.Quorum() != 2 {
		t.Fatalf("expected quorum 2, got %d", c.Quorum())
	}
	p, ok := c.Peer("M2")
	if !ok || p.Host != "localhost" || p.Port != 9002 {
		t.Fatalf("unexpected peer for M2: %+v, ok=%v", p, ok)
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	var warnings []string
	path := writeTempConfig(t, "M1,localhost,9001\nbadline\nM2,localhost,notaport\nM3,localhost,9003\n")
	c, err := Load(path, func(s string) { warnings = append(warnings, s) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Size() != 2 {
		t.Fatalf("expected 2 well-formed entries, got %d", c.Size())
	}
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d: %v", len(warnings), warnings)
	}
}

func TestLoadDuplicateIdLastWins(t *testing.T) {
	path := writeTempConfig(t, "M1,localhost,9001\nM1,localhost,9999\n")
	c, err := Load(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := c.Peer("M1")
	if p.Port != 9999 {
		t.Fatalf("expected last-wins port 9999, got %d", p.Port)
	}
	if len(c.Members()) != 1 {
		t.Fatalf("expected single member id despite duplicate, got %v", c.Members())
	}
}

func TestLoadRequiresAtLeastOneEntry(t *testing.T) {
	path := writeTempConfig(t, "# nothing here\n\n")
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for config with no well-formed entries")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.conf"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPeersExcludesSelf(t *testing.T) {
	path := writeTempConfig(t, "M1,localhost,9001\nM2,localhost,9002\nM3,localhost,9003\n")
	c, _ := Load(path, nil)
	peers := c.Peers("M2")
	if len(peers) != 2 || peers[0] != "M1" || peers[1] != "M3" {
		t.Fatalf("unexpected peers for M2: %v", peers)
	}
}

func TestQuorumArithmetic(t *testing.T) {
	for n := 1; n <= 20; n++ {
		m := n/2 + 1
		if 2*m <= n {
			t.Fatalf("quorum arithmetic violated for n=%d, m=%d", n, m)
		}
	}
}
