package store

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFeatureRoundTrip(t *testing.T) {
	in := []float32{0.1, -0.2, 3.5, 0}
	out := DecodeFeature(EncodeFeature(in))
	if len(out) != len(in) {
		t.Fatalf("expected %d elements, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("element %d: expected %v, got %v", i, in[i], out[i])
		}
	}
}

func TestCreateAndMergePerson(t *testing.T) {
	s := openTestStore(t)

	var personID int64
	err := s.WithTx(func(tx *sql.Tx) error {
		id, err := CreatePerson(tx, 10, [][]float32{{1, 0, 0}})
		if err != nil {
			return err
		}
		personID = id
		return nil
	})
	if err != nil {
		t.Fatalf("creating person: %v", err)
	}
	if personID == 0 {
		t.Fatal("expected a non-zero person id")
	}

	err = s.WithTx(func(tx *sql.Tx) error {
		return MergePerson(tx, personID, 20, [][]float32{{0, 1, 0}})
	})
	if err != nil {
		t.Fatalf("merging person: %v", err)
	}

	persons, err := s.AllPersonsWithFeatures()
	if err != nil {
		t.Fatalf("loading persons: %v", err)
	}
	features, ok := persons[personID]
	if !ok {
		t.Fatalf("expected person %d to be present", personID)
	}
	if len(features) != 2 {
		t.Fatalf("expected 2 features after merge, got %d", len(features))
	}

	var sightingCount int
	row := s.db.QueryRow(`SELECT sighting_count FROM persons WHERE id = ?`, personID)
	if err := row.Scan(&sightingCount); err != nil {
		t.Fatalf("reading sighting_count: %v", err)
	}
	if sightingCount != 2 {
		t.Errorf("expected sighting_count 2 after one merge, got %d", sightingCount)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)

	wantErr := sql.ErrNoRows
	err := s.WithTx(func(tx *sql.Tx) error {
		if _, err := CreatePerson(tx, 0, [][]float32{{1}}); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected rollback error to propagate, got %v", err)
	}

	persons, err := s.AllPersonsWithFeatures()
	if err != nil {
		t.Fatalf("loading persons: %v", err)
	}
	if len(persons) != 0 {
		t.Errorf("expected rollback to discard the created person, got %d persons", len(persons))
	}
}

func TestRecentEventsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.InsertEvent(10, "person_detected", "/out/a.mp4", 0); err != nil {
		t.Fatalf("inserting first event: %v", err)
	}
	if _, err := s.InsertEvent(20, "tripwire_alert", "/out/b.mp4", 0); err != nil {
		t.Fatalf("inserting second event: %v", err)
	}

	events, err := s.RecentEvents(10)
	if err != nil {
		t.Fatalf("listing events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != "tripwire_alert" || events[1].EventType != "person_detected" {
		t.Errorf("expected newest-first ordering, got %q then %q", events[0].EventType, events[1].EventType)
	}
}

func TestInsertEventNullPersonID(t *testing.T) {
	s := openTestStore(t)

	id, err := s.InsertEvent(100, "person_detected", "/tmp/a.mp4", 0)
	if err != nil {
		t.Fatalf("inserting event: %v", err)
	}

	var status string
	var personID sql.NullInt64
	row := s.db.QueryRow(`SELECT status, person_id FROM events WHERE id = ?`, id)
	if err := row.Scan(&status, &personID); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if status != "unreviewed" {
		t.Errorf("expected default status 'unreviewed', got %q", status)
	}
	if personID.Valid {
		t.Errorf("expected null person_id, got %v", personID.Int64)
	}
}
