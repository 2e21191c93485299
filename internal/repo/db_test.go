package repo

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/medfolio-backend/internal/domain"
)

func openFileDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "medfolio.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "does-not-exist", "medfolio.db")
	for name, open := range map[string]func() (*gorm.DB, error){
		"OpenSQLite": func() (*gorm.DB, error) { return OpenSQLite(bad) },
		"Open":       func() (*gorm.DB, error) { return Open("sqlite", bad) },
	} {
		if db, err := open(); err == nil || db != nil {
			t.Fatalf("%s: expected error, got db=%v err=%v", name, db, err)
		}
	}
}

func TestOpenSQLite_Pragmas(t *testing.T) {
	db := openFileDB(t)

	var journal string
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journal); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if strings.ToLower(journal) != "wal" {
		t.Fatalf("journal_mode = %q, want wal", journal)
	}

	for pragma, want := range map[string]int{
		"synchronous":  1, // NORMAL
		"foreign_keys": 1,
		"busy_timeout": 5000,
	} {
		var got int
		if err := db.Raw("PRAGMA " + pragma + ";").Row().Scan(&got); err != nil {
			t.Fatalf("%s: %v", pragma, err)
		}
		if got != want {
			t.Fatalf("%s = %d, want %d", pragma, got, want)
		}
	}

	sqlDB, _ := db.DB()
	if n := sqlDB.Stats().MaxOpenConnections; n != 10 {
		t.Fatalf("MaxOpenConnections = %d, want 10", n)
	}
}

func TestAutoMigrate_SchemaConstraints(t *testing.T) {
	db := openFileDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range []any{&domain.Profile{}, &domain.Recommendation{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("table for %T missing", tbl)
		}
	}
	if !m.HasIndex(&domain.Profile{}, "ux_profiles_slug") {
		t.Fatalf("slug unique index missing")
	}

	now := time.Now().UTC()
	p := &domain.Profile{ID: "p1", Slug: "dr-who", DisplayName: "Dr Who", VerificationStatus: domain.VerificationPending, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("insert profile: %v", err)
	}

	bad := &domain.Profile{ID: "p2", Slug: "dr-bad", DisplayName: "Dr Bad", VerificationStatus: "verified", CreatedAt: now, UpdatedAt: now}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("check constraint must reject unknown verification status")
	}

	dup := &domain.Profile{ID: "p3", Slug: "dr-who", DisplayName: "Dr Who II", VerificationStatus: domain.VerificationPending, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(dup).Error; err == nil || !isDuplicate(err) {
		t.Fatalf("slug reuse must be a unique violation, got %v", err)
	}

	rec := &domain.Recommendation{ID: "r1", ProfileID: "p1", Fingerprint: "abc", IPAddress: "1.2.3.4", CreatedAt: now}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert recommendation: %v", err)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	db, err := Open("mysql", "whatever")
	if err == nil || db != nil {
		t.Fatalf("expected error for unsupported driver, got db=%v err=%v", db, err)
	}
	if !strings.Contains(err.Error(), "mysql") {
		t.Fatalf("error should name the driver: %v", err)
	}
}

func TestOpen_RegistersTracingPlugin(t *testing.T) {
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "traced.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(db.Config.Plugins) != 1 {
		t.Fatalf("expected one plugin, have %v", db.Config.Plugins)
	}
}

func TestOpenPostgres_Unreachable(t *testing.T) {
	dsn := "host=127.0.0.1 port=1 user=medfolio dbname=medfolio sslmode=disable connect_timeout=1"
	if _, err := Open("postgres", dsn); err == nil {
		t.Fatalf("expected connection error")
	}
}
