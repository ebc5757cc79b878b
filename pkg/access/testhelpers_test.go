package access

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// testSchema is the subset of the content, grant and club tables the core reads
const testSchema = `
	CREATE TABLE models (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		availability TEXT
	);

	CREATE TABLE model_versions (
		id INTEGER PRIMARY KEY,
		model_id INTEGER NOT NULL,
		availability TEXT
	);

	CREATE TABLE articles (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		availability TEXT
	);

	CREATE TABLE posts (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		availability TEXT
	);

	CREATE TABLE collections (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		availability TEXT
	);

	CREATE TABLE bounties (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		availability TEXT
	);

	CREATE TABLE entity_access (
		accessor_id INTEGER NOT NULL,
		accessor_type TEXT NOT NULL,
		target_id INTEGER NOT NULL,
		target_type TEXT NOT NULL
	);

	CREATE TABLE clubs (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL
	);

	CREATE TABLE club_admins (
		club_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL
	);

	CREATE TABLE club_tiers (
		id INTEGER PRIMARY KEY,
		club_id INTEGER NOT NULL
	);

	CREATE TABLE club_memberships (
		user_id INTEGER NOT NULL,
		club_id INTEGER NOT NULL,
		club_tier_id INTEGER,
		expires_at TIMESTAMP
	);
`

// testNow is the fixed clock used for membership expiry
var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func setupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	if err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}

	return db
}

// seedGraph loads the fixture grant graph:
//
//	Model 1  Private, owner 5, gated by tier 100 of club 10
//	Model 2  Public, owner 5
//	Model 3  Unsearchable, owner 6
//	Model 4  Private, owner 6, granted to user 11
//	Model 5  Private, owner 6, gated by club 10
//	Model 6  Private, owner 6, gated by tier 200 of club 20
//	Model 7  unknown availability, owner 6, no grants
//	ModelVersion 70 of Model 1, Private, gated by club 10
//	Article 1 Public, owner 5
//
// Club 10 is owned by 50 and administered by 9. Club 20 is owned by 60.
// User 12 is an active member of tier 100, user 13 an expired one, and user
// 14 holds a non-expiring membership in tier 101.
func seedGraph(t testing.TB, db *sql.DB) {
	t.Helper()

	statements := []struct {
		query string
		args  []interface{}
	}{
		{`INSERT INTO models (id, user_id, availability) VALUES
			(1, 5, 'Private'), (2, 5, 'Public'), (3, 6, 'Unsearchable'),
			(4, 6, 'Private'), (5, 6, 'Private'), (6, 6, 'Private'), (7, 6, 'Weird')`, nil},
		{`INSERT INTO model_versions (id, model_id, availability) VALUES (70, 1, 'Private')`, nil},
		{`INSERT INTO articles (id, user_id, availability) VALUES (1, 5, 'Public')`, nil},
		{`INSERT INTO entity_access (accessor_id, accessor_type, target_id, target_type) VALUES
			(100, 'ClubTier', 1, 'Model'),
			(11, 'User', 4, 'Model'),
			(10, 'Club', 5, 'Model'),
			(200, 'ClubTier', 6, 'Model'),
			(10, 'Club', 70, 'ModelVersion'),
			(10, 'Club', 1, 'Gallery')`, nil},
		{`INSERT INTO clubs (id, user_id) VALUES (10, 50), (20, 60)`, nil},
		{`INSERT INTO club_admins (club_id, user_id) VALUES (10, 9)`, nil},
		{`INSERT INTO club_tiers (id, club_id) VALUES (100, 10), (101, 10), (200, 20)`, nil},
		{`INSERT INTO club_memberships (user_id, club_id, club_tier_id, expires_at) VALUES ($1, $2, $3, $4)`,
			[]interface{}{12, 10, 100, testNow.Add(24 * time.Hour)}},
		{`INSERT INTO club_memberships (user_id, club_id, club_tier_id, expires_at) VALUES ($1, $2, $3, $4)`,
			[]interface{}{13, 10, 100, testNow.Add(-24 * time.Hour)}},
		{`INSERT INTO club_memberships (user_id, club_id, club_tier_id, expires_at) VALUES ($1, $2, $3, NULL)`,
			[]interface{}{14, 10, 101}},
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt.query, stmt.args...); err != nil {
			t.Fatalf("Failed to seed: %v", err)
		}
	}
}

func newNullLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

// newTestService wires a service over a seeded sqlite graph
func newTestService(t testing.TB) (*Service, *Resolver, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	seedGraph(t, db)

	logger, _ := newNullLogger()
	resolver := NewResolver(db, logger, WithResolverClock(fixedClock))
	service := NewService(NewRegistry(db, logger), resolver, WithServiceLogger(logger))
	return service, resolver, db
}
