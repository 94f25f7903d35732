package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/kilnai/kiln/internal/session"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := newWithDB(db)
	require.NoError(t, err)
	return store, mock
}

func TestStoreAppendInsertsAndRings(t *testing.T) {
	store, mock := newMockStore(t)

	ev := session.Event{Seq: 1, Type: session.EventGenerationStarted, Time: time.Now().UTC()}
	mock.ExpectExec("INSERT INTO events").
		WithArgs("sess-1", int64(1), string(session.EventGenerationStarted), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Append(context.Background(), "sess-1", ev))
	require.NoError(t, mock.ExpectationsWereMet())

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.ring["sess-1"], 1)
	require.Equal(t, int64(1), store.ring["sess-1"][0].Seq)
}

func TestStoreSinceServesFromRingWithoutQuerying(t *testing.T) {
	store, mock := newMockStore(t)

	for i := int64(1); i <= 3; i++ {
		mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(i, 1))
		ev := session.Event{Seq: i, Type: session.EventGenerationProgress, Time: time.Now().UTC()}
		require.NoError(t, store.Append(context.Background(), "sess-1", ev))
	}

	// No ExpectQuery set: a fallback SQL query here would fail the mock.
	got, err := store.Since(context.Background(), "sess-1", 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(2), got[0].Seq)
	require.Equal(t, int64(3), got[1].Seq)
}

func TestStoreSinceFallsBackToQueryWhenRingTooShort(t *testing.T) {
	store, mock := newMockStore(t)

	// Simulate a ring that only covers recent history by directly
	// seeding it past afterSeq's horizon.
	store.mu.Lock()
	store.ring["sess-1"] = []session.Event{{Seq: 50, Type: session.EventGenerationComplete, Time: time.Now().UTC()}}
	store.mu.Unlock()

	rows := sqlmock.NewRows([]string{"seq", "type", "data", "ts"}).
		AddRow(int64(10), string(session.EventMessageAdded), "", time.Now().UTC())
	mock.ExpectQuery("SELECT seq, type, data, ts FROM events").
		WithArgs("sess-1", int64(5)).
		WillReturnRows(rows)

	got, err := store.Since(context.Background(), "sess-1", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(10), got[0].Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}
