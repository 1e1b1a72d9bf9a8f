package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("COURSEWRIGHT_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("COURSEWRIGHT_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}

	if err := applyDownMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	type migration struct {
		version string
		path    string
	}
	downs := make([]migration, 0)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		downs = append(downs, migration{
			version: match[1],
			path:    filepath.Join(migrationsDir, name),
		})
	}

	sort.Slice(downs, func(i, j int) bool {
		return downs[i].version > downs[j].version
	})

	for _, down := range downs {
		sqlBytes, err := os.ReadFile(down.path)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}

	return nil
}

// Reordering siblings swaps order_index values between live rows. The unique
// constraints on (course_id, order_index) and (unit_id, order_index) are
// deferred, so the batched upserts must land cleanly on every run, not just
// the first.
func TestReorderUpsertsSwapOrderIndexes(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("COURSEWRIGHT_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("COURSEWRIGHT_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	s := NewPostgresStore(db)

	if err := s.CreateUser(ctx, User{ID: "usr_author", DisplayName: "Avery", Email: "avery@example.com", PasswordHash: "x"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.InsertCourse(ctx, Course{ID: "crs_1", AuthorID: "usr_author", Title: "Knots for Sailors"}); err != nil {
		t.Fatalf("insert course: %v", err)
	}
	if err := s.UpsertUnits(ctx, []Unit{
		{ID: "unit_1", CourseID: "crs_1", Title: "Basics", OrderIndex: 0},
		{ID: "unit_2", CourseID: "crs_1", Title: "Hitches", OrderIndex: 1},
	}); err != nil {
		t.Fatalf("seed units: %v", err)
	}
	if err := s.UpsertLessons(ctx, []Lesson{
		{ID: "les_1", UnitID: "unit_1", Title: "The Bowline", ContentType: "text", OrderIndex: 0},
		{ID: "les_2", UnitID: "unit_1", Title: "The Figure Eight", ContentType: "text", OrderIndex: 1},
	}); err != nil {
		t.Fatalf("seed lessons: %v", err)
	}

	// Swap the two units' positions. Each row momentarily collides with the
	// other's old index, which only a deferred check tolerates.
	if err := s.UpsertUnits(ctx, []Unit{
		{ID: "unit_1", CourseID: "crs_1", Title: "Basics", OrderIndex: 1},
		{ID: "unit_2", CourseID: "crs_1", Title: "Hitches", OrderIndex: 0},
	}); err != nil {
		t.Fatalf("swap units: %v", err)
	}
	units, err := s.ListUnits(ctx, "crs_1")
	if err != nil {
		t.Fatalf("list units: %v", err)
	}
	if len(units) != 2 || units[0].ID != "unit_2" || units[1].ID != "unit_1" {
		t.Fatalf("units not reordered: %+v", units)
	}

	// Same swap for lessons within one unit.
	if err := s.UpsertLessons(ctx, []Lesson{
		{ID: "les_1", UnitID: "unit_1", Title: "The Bowline", ContentType: "text", OrderIndex: 1},
		{ID: "les_2", UnitID: "unit_1", Title: "The Figure Eight", ContentType: "text", OrderIndex: 0},
	}); err != nil {
		t.Fatalf("swap lessons: %v", err)
	}
	lessons, err := s.ListLessons(ctx, "crs_1")
	if err != nil {
		t.Fatalf("list lessons: %v", err)
	}
	if len(lessons) != 2 || lessons[0].ID != "les_2" || lessons[1].ID != "les_1" {
		t.Fatalf("lessons not reordered: %+v", lessons)
	}
}
