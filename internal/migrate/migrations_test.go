package migrate_test

import (
	"context"
	"testing"

	"gapforets/internal/db"
	"gapforets/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	for i := 0; i < 2; i++ {
		if err := migrate.Migrate(conn); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	latest, err := migrate.Latest()
	if err != nil {
		t.Fatal(err)
	}
	v, err := migrate.Version(context.Background(), conn)
	if err != nil {
		t.Fatal(err)
	}
	if v != latest || v == 0 {
		t.Fatalf("version = %d, latest = %d", v, latest)
	}
}

func TestHistoryIsAppendOnly(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Exec(`INSERT INTO programs(id,code,title,year_start,year_end,created_by,created_at,updated_at) VALUES ('p','P','P',2024,2025,'u','t','t')`); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Exec(`INSERT INTO validation_history(id,program_id,action,from_status,to_status,actor_id,actor_role,created_at) VALUES ('h','p','SUBMIT','DRAFT','SUBMITTED_LOCAL','u','LOCAL','t')`); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Exec(`UPDATE validation_history SET note='x' WHERE id='h'`); err == nil {
		t.Fatalf("expected history update to be rejected")
	}
	if _, err := conn.Exec(`DELETE FROM validation_history WHERE id='h'`); err == nil {
		t.Fatalf("expected history delete to be rejected")
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM validation_history`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("history rows = %d, want 1", n)
	}
}
