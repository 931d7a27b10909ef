package testutil

import (
	"strings"
	"testing"
)

func TestWithSearchPath(t *testing.T) {
	if got := withSearchPath("postgres://x/db", "test_1"); got != "postgres://x/db?search_path=test_1" {
		t.Fatalf("unexpected dsn: %s", got)
	}
	if got := withSearchPath("postgres://x/db?sslmode=disable", "test_1"); !strings.HasSuffix(got, "&search_path=test_1") {
		t.Fatalf("unexpected dsn: %s", got)
	}
}

func TestSchemaDDLRejectsUnsafeNames(t *testing.T) {
	if _, err := schemaDDL("CREATE SCHEMA %s", "x; drop table y"); err == nil {
		t.Fatal("expected error")
	}
	got, err := schemaDDL("CREATE SCHEMA %s", "test_1")
	if err != nil {
		t.Fatalf("schemaDDL: %v", err)
	}
	if got != `CREATE SCHEMA "test_1"` {
		t.Fatalf("unexpected ddl: %s", got)
	}
}
