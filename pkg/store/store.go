// Package store persists the event log and the Re-ID gallery: three
// tables -- events, persons, person_features -- in a single SQLite file
// opened in WAL journal mode.
package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS persons (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	first_seen     REAL NOT NULL,
	last_seen      REAL NOT NULL,
	sighting_count INTEGER NOT NULL DEFAULT 1 CHECK (sighting_count >= 1)
);

CREATE TABLE IF NOT EXISTS person_features (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	feature   BLOB NOT NULL,
	person_id INTEGER NOT NULL REFERENCES persons(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_person_features_person_id ON person_features(person_id);

CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp  REAL NOT NULL,
	event_type TEXT NOT NULL,
	video_path TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'unreviewed',
	person_id  INTEGER REFERENCES persons(id)
);
CREATE INDEX IF NOT EXISTS idx_events_video_path ON events(video_path);
CREATE INDEX IF NOT EXISTS idx_events_person_id ON events(person_id);
`

// Store owns the SQLite connection backing the event log and gallery.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path in WAL
// journal mode. The handle is limited to one connection, so calls made
// through the same Store run one at a time: a read waits while a
// transaction from WithTx is open.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Person is one gallery identity.
type Person struct {
	ID            int64
	FirstSeen     float64
	LastSeen      float64
	SightingCount int
}

// PersonFeature is one feature vector owned by a Person.
type PersonFeature struct {
	ID       int64
	PersonID int64
	Feature  []float32
}

// Event is one persisted event row.
type Event struct {
	ID        int64
	Timestamp float64
	EventType string
	VideoPath string
	Status    string
	PersonID  sql.NullInt64
}

// EncodeFeature serializes a feature vector as a fixed-width
// little-endian float32 array, round-tripping bit-exact.
func EncodeFeature(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeFeature deserializes a feature vector previously written by
// EncodeFeature.
func DecodeFeature(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// AllPersonsWithFeatures loads a snapshot of the current Person set, each
// paired with its feature vectors, for gallery reconciliation. Concurrent
// events may observe slightly different snapshots; this is an accepted
// availability-over-consistency tradeoff.
func (s *Store) AllPersonsWithFeatures() (map[int64][]PersonFeature, error) {
	rows, err := s.db.Query(`SELECT id, person_id, feature FROM person_features`)
	if err != nil {
		return nil, fmt.Errorf("store: loading person features: %w", err)
	}
	defer rows.Close()

	out := map[int64][]PersonFeature{}
	for rows.Next() {
		var pf PersonFeature
		var blob []byte
		if err := rows.Scan(&pf.ID, &pf.PersonID, &blob); err != nil {
			return nil, fmt.Errorf("store: scanning person feature: %w", err)
		}
		pf.Feature = DecodeFeature(blob)
		out[pf.PersonID] = append(out[pf.PersonID], pf)
	}
	return out, rows.Err()
}

// CreatePerson inserts a new Person with one or more initial feature
// vectors and sighting_count 1, returning the assigned id. Callers must
// wrap this in a transaction alongside sibling clusters via WithTx when
// more than one row must commit atomically.
func CreatePerson(tx *sql.Tx, now float64, features [][]float32) (int64, error) {
	res, err := tx.Exec(`INSERT INTO persons (first_seen, last_seen, sighting_count) VALUES (?, ?, 1)`, now, now)
	if err != nil {
		return 0, fmt.Errorf("store: inserting person: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: reading new person id: %w", err)
	}
	if err := AddFeatures(tx, id, features); err != nil {
		return 0, err
	}
	return id, nil
}

// MergePerson appends feature vectors to an existing Person and increments
// its sighting_count by one. The increment happens once per matched Person
// per event, not once per feature.
func MergePerson(tx *sql.Tx, personID int64, now float64, features [][]float32) error {
	if _, err := tx.Exec(`UPDATE persons SET last_seen = ?, sighting_count = sighting_count + 1 WHERE id = ?`, now, personID); err != nil {
		return fmt.Errorf("store: updating person %d: %w", personID, err)
	}
	return AddFeatures(tx, personID, features)
}

// AddFeatures appends feature vectors to an existing Person without
// touching sighting_count or last_seen, used when a second cluster in the
// same event matches a Person already merged once this event.
func AddFeatures(tx *sql.Tx, personID int64, features [][]float32) error {
	stmt, err := tx.Prepare(`INSERT INTO person_features (feature, person_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("store: preparing feature insert: %w", err)
	}
	defer stmt.Close()
	for _, f := range features {
		if _, err := stmt.Exec(EncodeFeature(f), personID); err != nil {
			return fmt.Errorf("store: inserting feature for person %d: %w", personID, err)
		}
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// InsertEvent persists an Event row, independent of whether Re-ID
// reconciliation succeeded: this is a separate commit and may succeed with
// a null person id. personID == 0 is recorded as a null FK.
func (s *Store) InsertEvent(timestamp float64, eventType, videoPath string, personID int64) (int64, error) {
	var personArg sql.NullInt64
	if personID != 0 {
		personArg = sql.NullInt64{Int64: personID, Valid: true}
	}
	res, err := s.db.Exec(
		`INSERT INTO events (timestamp, event_type, video_path, status, person_id) VALUES (?, ?, ?, 'unreviewed', ?)`,
		timestamp, eventType, videoPath, personArg,
	)
	if err != nil {
		return 0, fmt.Errorf("store: inserting event: %w", err)
	}
	return res.LastInsertId()
}

// RecentEvents returns up to limit events, newest first. This is the query
// the review dashboard and operational tooling read the event log through.
func (s *Store) RecentEvents(limit int) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, event_type, video_path, status, person_id FROM events ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: listing events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.VideoPath, &e.Status, &e.PersonID); err != nil {
			return nil, fmt.Errorf("store: scanning event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Now is a small seam so callers can stamp first_seen/last_seen/event
// timestamps consistently; it is not used by Store itself, which always
// takes an explicit `now` parameter from its caller's frame-derived clock.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
