// Package visitstest writes small Chromium-style History databases for tests.
package visitstest

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// Schema is the subset of the Chromium History schema the visits package reads,
// with column types that also work in PostgreSQL.
var Schema = []string{
	`CREATE TABLE urls(
		id BIGINT PRIMARY KEY,
		url TEXT,
		title TEXT,
		visit_count BIGINT DEFAULT 0 NOT NULL,
		typed_count BIGINT DEFAULT 0 NOT NULL,
		last_visit_time BIGINT NOT NULL,
		hidden INTEGER DEFAULT 0 NOT NULL
	)`,
	`CREATE TABLE visits(
		id BIGINT PRIMARY KEY,
		url BIGINT NOT NULL,
		visit_time BIGINT NOT NULL,
		from_visit BIGINT,
		transition INTEGER DEFAULT 0 NOT NULL
	)`,
}

// URL is a row of urls.
type URL struct {
	ID            int64
	URL, Title    string
	VisitCount    int64
	LastVisitTime int64
	Hidden        bool
}

// Visit is a row of visits.
type Visit struct {
	ID, URLID, VisitTime, FromVisit int64
}

// Times used by Default, microseconds since 1601-01-01.
const (
	T20150101 int64 = 13064544000000000 // 2015-01-01 00:00:00
	T20150601 int64 = 13077590400000000 // 2015-06-01 00:00:00
	T20151231 int64 = 13095993600000000 // 2015-12-31 00:00:00
	T20160301 int64 = 13101264000000000 // 2016-03-01 00:00:00
)

// Default is a small history: three urls, four visits.
func Default() ([]URL, []Visit) {
	urls := []URL{
		{ID: 1, URL: "https://www.example.com/a?q=1", Title: "Example A", VisitCount: 2, LastVisitTime: T20151231},
		{ID: 2, URL: "http://localhost:8080/index.html", Title: "Local", VisitCount: 1, LastVisitTime: T20150601},
		{ID: 3, URL: "https://news.example.org/", Title: "", VisitCount: 1, LastVisitTime: T20160301, Hidden: true},
	}
	visits := []Visit{
		{ID: 1, URLID: 1, VisitTime: T20150101},
		{ID: 2, URLID: 2, VisitTime: T20150601, FromVisit: 1},
		{ID: 3, URLID: 1, VisitTime: T20151231},
		{ID: 4, URLID: 3, VisitTime: T20160301, FromVisit: 3},
	}
	return urls, visits
}

// Write creates a History database named "History" in a temp dir and returns its path.
func Write(t testing.TB, urls []URL, visits []Visit) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "History")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer func() { _ = db.Close() }()
	if err := Populate(db, "?", urls, visits); err != nil {
		t.Fatalf("populate %s: %v", path, err)
	}
	return path
}

// Populate creates the schema in db and inserts the rows. ph is "?" or "$".
func Populate(db *sql.DB, ph string, urls []URL, visits []Visit) error {
	for _, stmt := range Schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	p := func(n int) string {
		if ph == "$" {
			return "$" + string(rune('0'+n))
		}
		return "?"
	}
	insURL := "INSERT INTO urls(id, url, title, visit_count, last_visit_time, hidden) VALUES (" +
		p(1) + ", " + p(2) + ", " + p(3) + ", " + p(4) + ", " + p(5) + ", " + p(6) + ")"
	for _, u := range urls {
		hidden := 0
		if u.Hidden {
			hidden = 1
		}
		if _, err := db.Exec(insURL, u.ID, u.URL, u.Title, u.VisitCount, u.LastVisitTime, hidden); err != nil {
			return err
		}
	}
	insVisit := "INSERT INTO visits(id, url, visit_time, from_visit) VALUES (" +
		p(1) + ", " + p(2) + ", " + p(3) + ", " + p(4) + ")"
	for _, v := range visits {
		if _, err := db.Exec(insVisit, v.ID, v.URLID, v.VisitTime, v.FromVisit); err != nil {
			return err
		}
	}
	return nil
}
