package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

const alphaDoc = `<feed><header><name>Alpha</name></header>
<row><id>1</id><val>10</val></row>
<row><id>2</id><val>20</val></row>
</feed>`

func TestRun_MissingConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "absent.ini")

	code := run(context.Background(), []string{"-c", path}, &stdout, &stderr)

	if code == 0 {
		t.Fatal("expected non-zero exit code")
	}
	if !strings.Contains(stderr.String(), "not found or inaccessible") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout should be empty, got %q", stdout.String())
	}
}

func TestRun_BadArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--bogus"}},
		{"verbose without level", []string{"-v"}},
		{"non-numeric level", []string{"-v", "high"}},
		{"leftover argument", []string{"-c", "config.ini", "extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(context.Background(), tt.args, &stdout, &stderr); code != 2 {
				t.Errorf("exit code = %d, want 2", code)
			}
		})
	}
}

func TestRun_VerbosityLevel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(alphaDoc))
	}))
	defer srv.Close()

	cfgPath := writeMirrorConfig(t, srv.URL, "")

	tests := []struct {
		level     string
		wantDebug bool
	}{
		{"0", false},
		{"1", true},
		{"2", true},
	}
	for _, tt := range tests {
		t.Run("v="+tt.level, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(context.Background(), []string{"-c", cfgPath, "-v", tt.level}, &stdout, &stderr); code != 0 {
				t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
			}
			if got := strings.Contains(stderr.String(), "level=DEBUG"); got != tt.wantDebug {
				t.Errorf("debug output = %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func TestRun_BrokenSectionsDoNotStopRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(alphaDoc))
	}))
	defer srv.Close()

	cfgPath := writeMirrorConfig(t, srv.URL, `
[www_off]
enabled = no

[www_noname]
link = `+srv.URL+`

[www_badflag]
link = `+srv.URL+`
name = Alpha
enabled = perhaps
`)

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-c", cfgPath}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}

	db := openMirror(t, cfgPath)
	if n := countRows(t, db, "www_alpha"); n != 2 {
		t.Errorf("www_alpha rows = %d, want 2", n)
	}
	for _, table := range []string{"www_off", "www_noname", "www_badflag"} {
		if tableExists(t, db, table) {
			t.Errorf("%s should be absent", table)
		}
	}
	if !strings.Contains(stderr.String(), "CFG001") {
		t.Errorf("stderr should report the broken sections: %s", stderr.String())
	}
}

func TestRun_MirrorsSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(alphaDoc))
	}))
	defer srv.Close()

	cfgPath := writeMirrorConfig(t, srv.URL, `
[www_beta]
link = `+srv.URL+`
name = Beta
`)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-c", cfgPath, "-v", "1"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "--- ") || !strings.HasSuffix(stdout.String(), " seconds ---\n") {
		t.Errorf("stdout = %q", stdout.String())
	}

	db := openMirror(t, cfgPath)
	if n := countRows(t, db, "www_alpha"); n != 2 {
		t.Errorf("www_alpha rows = %d, want 2", n)
	}
	if tableExists(t, db, "www_beta") {
		t.Error("www_beta should be absent after identifier mismatch")
	}
}

// writeMirrorConfig writes a config with a SQLite database next to it,
// one www_alpha source served from url, and any extra sections.
func writeMirrorConfig(t *testing.T, url, extra string) string {
	t.Helper()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.ini")
	ini := fmt.Sprintf(`[General]
db_sqlite = yes
sqlite_path = %s

[www_alpha]
link = %s
name = Alpha
%s`, filepath.Join(dir, "mirror.db"), url, extra)

	if err := os.WriteFile(cfgPath, []byte(ini), 0o600); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

// openMirror opens the database written by a run using cfgPath.
func openMirror(t *testing.T, cfgPath string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(filepath.Dir(cfgPath), "mirror.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "` + table + `"`).Scan(&n); err != nil {
		t.Fatalf("%s: %v", table, err)
	}
	return n
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	return n > 0
}
