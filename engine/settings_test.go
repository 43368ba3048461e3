package engine

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/slopshield/cache"
	"github.com/hazyhaar/slopshield/dbopen"
)

var testDefaults = Settings{MinTextLength: 50, Threshold: 6}

func testStore(t *testing.T) *SettingsStore {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(SettingsSchema))
	return NewSettingsStore(db, testDefaults, nil)
}

func TestSettingsLoadDefaultsWhenMissing(t *testing.T) {
	st := testStore(t)
	got := st.Load(context.Background())
	if got != testDefaults {
		t.Fatalf("Load = %+v, want defaults %+v", got, testDefaults)
	}
}

func TestSettingsSaveLoadRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	want := Settings{MinTextLength: 30, Threshold: 4}
	if err := st.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	if got := st.Load(ctx); got != want {
		t.Fatalf("Load = %+v, want %+v", got, want)
	}
}

func TestSettingsMalformedBlobDiscarded(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if _, err := st.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, 0)`,
		settingsKey, `{"min_text_length": "not a number"`); err != nil {
		t.Fatal(err)
	}
	if got := st.Load(ctx); got != testDefaults {
		t.Fatalf("Load = %+v after corrupt blob, want defaults", got)
	}
}

func TestSettingsInvalidValuesFallBack(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if err := st.Save(ctx, Settings{MinTextLength: -5, Threshold: 42}); err != nil {
		t.Fatal(err)
	}
	got := st.Load(ctx)
	if got != testDefaults {
		t.Fatalf("Load = %+v with out-of-range values, want defaults", got)
	}
}

func TestSettingsWatchAppliesChanges(t *testing.T) {
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(SettingsSchema), dbopen.WithSchema(cache.Schema))
	st := NewSettingsStore(db, testDefaults, nil)
	e := New(Options{DB: db})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go st.Watch(ctx, e, WatchOptions{
		Interval: 20 * time.Millisecond,
		// data_version only moves on cross-connection writes; the test
		// shares one connection, so poll the settings row directly.
		Detector: SettingsVersion,
	})

	// Let the watcher seed its initial version before the write lands.
	time.Sleep(100 * time.Millisecond)

	if err := st.Save(ctx, Settings{MinTextLength: 15, Threshold: 2}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Threshold() == 2 && e.Selector().MinTextLength() == 15 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("settings never applied: threshold=%d minlen=%d",
		e.Threshold(), e.Selector().MinTextLength())
}

func TestSettingsWatchDebouncedReload(t *testing.T) {
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(SettingsSchema), dbopen.WithSchema(cache.Schema))
	st := NewSettingsStore(db, testDefaults, nil)
	e := New(Options{DB: db})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go st.Watch(ctx, e, WatchOptions{
		Interval: 20 * time.Millisecond,
		Debounce: 50 * time.Millisecond,
		Detector: SettingsVersion,
	})
	time.Sleep(100 * time.Millisecond)

	// Two writes inside one debounce window: only the final value must
	// land.
	if err := st.Save(ctx, Settings{MinTextLength: 25, Threshold: 3}); err != nil {
		t.Fatal(err)
	}
	if err := st.Save(ctx, Settings{MinTextLength: 35, Threshold: 8}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Threshold() == 8 && e.Selector().MinTextLength() == 35 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("debounced settings never applied: threshold=%d minlen=%d",
		e.Threshold(), e.Selector().MinTextLength())
}

func TestSettingsVersionAdvancesOnSave(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	before, err := SettingsVersion(ctx, st.db)
	if err != nil {
		t.Fatal(err)
	}
	if before != 0 {
		t.Fatalf("version = %d on empty table, want 0", before)
	}

	if err := st.Save(ctx, Settings{MinTextLength: 20, Threshold: 5}); err != nil {
		t.Fatal(err)
	}
	after, err := SettingsVersion(ctx, st.db)
	if err != nil {
		t.Fatal(err)
	}
	if after <= before {
		t.Fatalf("version did not advance: before=%d after=%d", before, after)
	}
}

func TestDataVersionReadable(t *testing.T) {
	st := testStore(t)
	if _, err := DataVersion(context.Background(), st.db); err != nil {
		t.Fatalf("DataVersion: %v", err)
	}
}
