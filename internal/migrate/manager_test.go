package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindScriptsOrdersByName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_roles.up.sql", "0001_init.up.sql", "0001_init.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("select 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	scripts, err := findScripts(dir, ".up.sql")
	if err != nil {
		t.Fatalf("findScripts failed: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("expected 2 scripts, got %d", len(scripts))
	}
	if scripts[0].name != "0001_init.up.sql" || scripts[1].name != "0002_roles.up.sql" {
		t.Fatalf("scripts out of order: %v", scripts)
	}
}

func TestFindScriptsMissingDir(t *testing.T) {
	scripts, err := findScripts(filepath.Join(t.TempDir(), "absent"), ".sql")
	if err != nil {
		t.Fatalf("missing directory must not error, got %v", err)
	}
	if scripts != nil {
		t.Fatalf("expected no scripts, got %v", scripts)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(`create table a (id text); insert into a values ('x;y'); `)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %v", len(stmts), stmts)
	}
	if !strings.Contains(stmts[1], "'x;y'") {
		t.Fatalf("semicolon inside string literal must not split: %q", stmts[1])
	}
}

func TestSplitStatementsTrailingWithoutSemicolon(t *testing.T) {
	stmts := splitStatements("select 1")
	if len(stmts) != 1 || strings.TrimSpace(stmts[0]) != "select 1" {
		t.Fatalf("unexpected result: %v", stmts)
	}
}
