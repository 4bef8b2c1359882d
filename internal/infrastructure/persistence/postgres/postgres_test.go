package postgres

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learnquest/internal/domain/achievement"
	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/progress"
	"github.com/alem-hub/learnquest/internal/domain/quest"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/internal/domain/streak"
)

var at = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// QUERY BUILDERS
// ══════════════════════════════════════════════════════════════════════════════

func TestSaveProgressQuery(t *testing.T) {
	rec := &progress.Record{UserID: "u1", XP: 250, Level: 2, UpdatedAt: at}

	sql, args, err := saveProgressQuery(rec, 0).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "INSERT INTO user_progress")
	assert.Contains(t, sql, "ON CONFLICT (user_id) DO NOTHING")
	assert.Equal(t, []interface{}{"u1", int64(250), 2, 1, at}, args)

	sql, args, err = saveProgressQuery(rec, 3).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "UPDATE user_progress SET")
	assert.Contains(t, sql, "user_id = $5 AND version = $6")
	assert.Equal(t, []interface{}{int64(250), 2, int64(4), at, "u1", int64(3)}, args)
}

func TestInsertChangeQuery(t *testing.T) {
	sql, args, err := insertChangeQuery(&progress.Change{
		ID: "c1", UserID: "u1", Delta: 50, OldXP: 100, NewXP: 150,
		Reason: progress.ReasonQuest, SourceID: "q1", At: at,
	}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "INSERT INTO xp_changes")
	assert.Len(t, args, 8)
	assert.Equal(t, "quest", args[5])
}

func TestStandingsQuery(t *testing.T) {
	sql, args, err := standingsQuery(nil).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT user_id, xp FROM user_progress ORDER BY user_id", sql)
	assert.Empty(t, args)

	since := at.Add(-7 * 24 * time.Hour)
	sql, args, err = standingsQuery(&since).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "FROM xp_changes")
	assert.Contains(t, sql, "GROUP BY user_id")
	assert.Equal(t, []interface{}{0, since}, args)
}

func TestSaveStreakQuery_NullDates(t *testing.T) {
	sql, args, err := saveStreakQuery(&streak.Streak{UserID: "u1"}, 0).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "INSERT INTO streaks")
	assert.Nil(t, args[3])
	assert.Nil(t, args[4])

	_, args, err = saveStreakQuery(&streak.Streak{UserID: "u1", Current: 2, Best: 2, LastActiveDate: at, StartedOn: at}, 1).ToSql()
	require.NoError(t, err)
	assert.Equal(t, at, args[2])
	assert.Equal(t, []interface{}{"u1", int64(1)}, args[len(args)-2:])
}

func TestSaveQuestQuery_EncodesTasks(t *testing.T) {
	q, err := quest.New("q1", "t1", "u1", "Quest", []quest.Task{{ID: "a", XPValue: 10}}, at)
	require.NoError(t, err)

	stmt, err := saveQuestQuery(q, 0)
	require.NoError(t, err)
	_, args, err := stmt.ToSql()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a","title":"","xp":10,"completed":false}]`, string(args[4].([]byte)))
	assert.Nil(t, args[6])
}

func TestRecordUnlockQuery(t *testing.T) {
	sql, _, err := recordUnlockQuery(achievement.Unlock{ID: "1", UserID: "u1", AchievementID: "a"}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "ON CONFLICT (user_id, achievement_id) DO NOTHING")
}

func TestSnapshotQueries(t *testing.T) {
	sql, args, err := snapshotHeaderQuery(leaderboard.WindowWeek, 1).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "ORDER BY seq DESC LIMIT 1 OFFSET 1")
	assert.Equal(t, []interface{}{"week"}, args)

	sql, args, err = pruneSnapshotsQuery(leaderboard.WindowWeek, 0).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "DELETE FROM leaderboard_snapshots")
	assert.Contains(t, sql, "LIMIT $3")
	assert.Equal(t, []interface{}{"week", "week", 1}, args)
}

func TestMigrations_UpAndDownMatch(t *testing.T) {
	migs := GetMigrations()
	require.NotEmpty(t, migs)

	created := regexp.MustCompile(`CREATE TABLE IF NOT EXISTS (\w+)`)
	dropped := regexp.MustCompile(`DROP TABLE IF EXISTS (\w+)`)

	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Name)

		var up, down []string
		for _, g := range created.FindAllStringSubmatch(m.UpSQL, -1) {
			up = append(up, g[1])
		}
		for _, g := range dropped.FindAllStringSubmatch(m.DownSQL, -1) {
			down = append(down, g[1])
		}
		assert.ElementsMatch(t, up, down, "migration %d", m.Version)
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := DefaultConfig()
	assert.Contains(t, cfg.DSN(), "dbname=learnquest")

	cfg.URL = "postgres://u:p@db:5432/x"
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.DSN())
}

func TestTxError_SerializationFailuresRetry(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := txError(&pgconn.PgError{Code: code})
		assert.True(t, shared.IsRetryable(err), code)
		var pgErr *pgconn.PgError
		assert.True(t, errors.As(err, &pgErr))
	}

	other := &pgconn.PgError{Code: "23503"}
	assert.Same(t, other, txError(other))
	assert.False(t, shared.IsRetryable(txError(other)))
}

// ══════════════════════════════════════════════════════════════════════════════
// INTEGRATION (requires LEARNQUEST_TEST_DATABASE_URL)
// ══════════════════════════════════════════════════════════════════════════════

func testConnection(t *testing.T) *Connection {
	t.Helper()
	url := os.Getenv("LEARNQUEST_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LEARNQUEST_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.URL = url
	conn, err := NewConnection(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	require.NoError(t, NewMigrator(conn).Migrate(ctx))
	_, err = conn.Pool().Exec(ctx,
		"TRUNCATE xp_changes, user_progress, streaks, quests, achievement_unlocks, leaderboard_entries, leaderboard_snapshots")
	require.NoError(t, err)
	return conn
}

func TestIntegration_ProgressVersioning(t *testing.T) {
	conn := testConnection(t)
	ctx := context.Background()
	repo := NewProgressRepository(conn)

	rec := &progress.Record{UserID: "u1", XP: 100, Level: 2, UpdatedAt: at}
	require.NoError(t, repo.Save(ctx, rec, 0, &progress.Change{
		ID: "c1", UserID: "u1", Delta: 100, NewXP: 100, Reason: progress.ReasonQuest, At: at,
	}))
	assert.Equal(t, int64(1), rec.Version)

	err := repo.Save(ctx, &progress.Record{UserID: "u1", XP: 50, Level: 1, UpdatedAt: at}, 0, nil)
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.XP)

	sum, err := repo.SumGainedSince(ctx, "u1", at)
	require.NoError(t, err)
	assert.Equal(t, int64(100), sum)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestIntegration_RunInTxRollsBack(t *testing.T) {
	conn := testConnection(t)
	ctx := context.Background()
	repo := NewProgressRepository(conn)

	err := conn.RunInTx(ctx, func(ctx context.Context) error {
		if err := repo.Save(ctx, &progress.Record{UserID: "u2", XP: 10, Level: 1, UpdatedAt: at}, 0, nil); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = repo.Get(ctx, "u2")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestIntegration_UnlocksAndSnapshots(t *testing.T) {
	conn := testConnection(t)
	ctx := context.Background()

	unlocks := NewUnlockRepository(conn)
	u := achievement.Unlock{ID: "x1", UserID: "u1", AchievementID: "first_steps", EarnedAt: at}
	inserted, err := unlocks.Record(ctx, u)
	require.NoError(t, err)
	assert.True(t, inserted)
	u.ID = "x2"
	inserted, err = unlocks.Record(ctx, u)
	require.NoError(t, err)
	assert.False(t, inserted)

	snaps := NewSnapshotRepository(conn)
	for i, id := range []string{"s1", "s2", "s3"} {
		entries := []leaderboard.Entry{{UserID: "u1", XP: int64(100 * (i + 1)), Rank: 1}}
		require.NoError(t, snaps.Save(ctx, leaderboard.NewSnapshot(id, leaderboard.WindowAllTime, at, entries)))
	}

	latest, err := snaps.Latest(ctx, leaderboard.WindowAllTime)
	require.NoError(t, err)
	assert.Equal(t, "s3", latest.ID)
	prev, err := snaps.Previous(ctx, leaderboard.WindowAllTime)
	require.NoError(t, err)
	assert.Equal(t, "s2", prev.ID)

	removed, err := snaps.Prune(ctx, leaderboard.WindowAllTime, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = snaps.Latest(ctx, leaderboard.WindowWeek)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
