package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"sentinel/internal/domain"
	logx "sentinel/pkg/logx"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store on database/sql for both dialects. Queries are
// written with '?' placeholders and rebound for postgres.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
}

const subCols = `id, user_id, repo, frequency, channels, event_filter, status,
	last_window_end_ms, next_due_at_ms, created_at_ms, updated_at_ms`

const cycleCols = `id, subscription_id, repo, window_start_ms, window_end_ms, status,
	error, counts, truncated, started_at_ms, finished_at_ms`

func (s *sqlStore) q(query string) string {
	if s.d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSub(r rowScanner) (domain.Subscription, error) {
	var (
		s                          domain.Subscription
		repo, freq, chans, filter  string
		status                     string
		lastEnd, nextDue, cre, upd int64
	)
	if err := r.Scan(&s.ID, &s.UserID, &repo, &freq, &chans, &filter, &status,
		&lastEnd, &nextDue, &cre, &upd); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Subscription{}, ErrNotFound
		}
		return domain.Subscription{}, err
	}
	s.Repo = domain.RepoID(repo)
	s.Frequency = domain.Frequency(freq)
	s.Status = domain.Status(status)
	if err := json.Unmarshal([]byte(chans), &s.Channels); err != nil {
		return domain.Subscription{}, fmt.Errorf("subscription %s: channels: %w", s.ID, err)
	}
	f, err := decodeFilter(filter)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("subscription %s: %w", s.ID, err)
	}
	s.Filter = f
	s.LastWindowEnd = domain.FromUnixMilli(lastEnd)
	s.NextDueAt = domain.FromUnixMilli(nextDue)
	s.CreatedAt = domain.FromUnixMilli(cre)
	s.UpdatedAt = domain.FromUnixMilli(upd)
	return s, nil
}

func decodeFilter(raw string) (domain.EventFilter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make(domain.EventFilter, 0, len(parts))
	for _, p := range parts {
		k, err := domain.ParseEventKind(p)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func encodeFilter(f domain.EventFilter) string {
	if len(f) == 0 {
		return ""
	}
	return f.String()
}

func (s *sqlStore) Subscribe(ctx context.Context, sub domain.Subscription, now domain.UTCTime) (domain.Subscription, bool, error) {
	sub.Status = domain.StatusActive
	if err := sub.Validate(); err != nil {
		return domain.Subscription{}, false, err
	}
	period, err := sub.Frequency.Period()
	if err != nil {
		return domain.Subscription{}, false, err
	}
	fresh := newSubscription(sub, now)
	chans, err := json.Marshal(fresh.Channels)
	if err != nil {
		return domain.Subscription{}, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subscription{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	// Re-subscribing keeps id and watermark, and re-derives next_due_at from it.
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO subscriptions (`+subCols+`)
		VALUES (?, ?, ?, ?, ?, ?, 'active', 0, ?, ?, ?)
		ON CONFLICT (user_id, repo) DO UPDATE SET
			frequency = excluded.frequency,
			channels = excluded.channels,
			event_filter = excluded.event_filter,
			status = 'active',
			next_due_at_ms = CASE
				WHEN subscriptions.last_window_end_ms = 0 THEN excluded.next_due_at_ms
				ELSE subscriptions.last_window_end_ms + ?
			END,
			updated_at_ms = excluded.updated_at_ms`),
		fresh.ID, fresh.UserID, string(fresh.Repo), string(fresh.Frequency), string(chans),
		encodeFilter(fresh.Filter), now.UnixMilli(), now.UnixMilli(), now.UnixMilli(),
		period.Milliseconds(),
	)
	if err != nil {
		return domain.Subscription{}, false, fmt.Errorf("subscribe: %w", err)
	}
	out, err := scanSub(tx.QueryRowContext(ctx,
		s.q(`SELECT `+subCols+` FROM subscriptions WHERE user_id = ? AND repo = ?`),
		fresh.UserID, string(fresh.Repo)))
	if err != nil {
		return domain.Subscription{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Subscription{}, false, err
	}
	return out, out.ID == fresh.ID, nil
}

func (s *sqlStore) Get(ctx context.Context, id string) (domain.Subscription, error) {
	return scanSub(s.db.QueryRowContext(ctx, s.q(`SELECT `+subCols+` FROM subscriptions WHERE id = ?`), id))
}

func (s *sqlStore) GetByUserRepo(ctx context.Context, userID string, repo domain.RepoID) (domain.Subscription, error) {
	return scanSub(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+subCols+` FROM subscriptions WHERE user_id = ? AND repo = ?`), userID, string(repo)))
}

func (s *sqlStore) List(ctx context.Context, f ListFilter) ([]domain.Subscription, error) {
	where := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Repo != "" {
		where = append(where, "repo = ?")
		args = append(args, string(f.Repo))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Frequency != "" {
		where = append(where, "frequency = ?")
		args = append(args, string(f.Frequency))
	}
	query := `SELECT ` + subCols + ` FROM subscriptions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY user_id, repo`
	return s.querySubs(ctx, query, args...)
}

func (s *sqlStore) ListDue(ctx context.Context, now domain.UTCTime) ([]domain.Subscription, error) {
	return s.querySubs(ctx, `SELECT `+subCols+` FROM subscriptions
		WHERE status = 'active' AND next_due_at_ms <= ?
		ORDER BY next_due_at_ms, id`, now.UnixMilli())
}

func (s *sqlStore) querySubs(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Subscription, 0, 16)
	for rows.Next() {
		sub, err := scanSub(rows)
		if err != nil {
			// One corrupt row must not hide every other subscription.
			s.log.Warn("skipping unreadable subscription", logx.Err(err))
			continue
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqlStore) SetStatus(ctx context.Context, id string, st domain.Status, now domain.UTCTime) error {
	return s.updateOne(ctx, `UPDATE subscriptions SET status = ?, updated_at_ms = ? WHERE id = ?`,
		string(st), now.UnixMilli(), id)
}

func (s *sqlStore) UpdateChannels(ctx context.Context, id string, chans []domain.ChannelRef, now domain.UTCTime) error {
	b, err := json.Marshal(domain.DedupChannels(chans))
	if err != nil {
		return err
	}
	return s.updateOne(ctx, `UPDATE subscriptions SET channels = ?, updated_at_ms = ? WHERE id = ?`,
		string(b), now.UnixMilli(), id)
}

func (s *sqlStore) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) CompleteCycle(ctx context.Context, rec domain.CycleRecord, prev, nextDue domain.UTCTime) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.q(`UPDATE subscriptions
		SET last_window_end_ms = ?, next_due_at_ms = ?, updated_at_ms = ?
		WHERE id = ? AND last_window_end_ms = ?`),
		rec.Window.Until.UnixMilli(), nextDue.UnixMilli(), rec.FinishedAt.UnixMilli(),
		rec.SubscriptionID, prev.UnixMilli(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM subscriptions WHERE id = ?`), rec.SubscriptionID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrConflict
	}
	if err := s.insertCycle(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) RecordCycle(ctx context.Context, rec domain.CycleRecord) error {
	return s.insertCycle(ctx, s.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqlStore) insertCycle(ctx context.Context, ex execer, rec domain.CycleRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var counts any
	if len(rec.Counts) > 0 {
		b, err := json.Marshal(rec.Counts)
		if err != nil {
			return err
		}
		counts = string(b)
	}
	trunc := 0
	if rec.Truncated {
		trunc = 1
	}
	_, err := ex.ExecContext(ctx, s.q(`INSERT INTO cycles (`+cycleCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.SubscriptionID, string(rec.Repo),
		rec.Window.Since.UnixMilli(), rec.Window.Until.UnixMilli(),
		string(rec.Status), nullStr(rec.Error), counts, trunc,
		rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
	)
	return err
}

func (s *sqlStore) RecentCycles(ctx context.Context, subscriptionID string, limit int) ([]domain.CycleRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + cycleCols + ` FROM cycles`
	args := make([]any, 0, 2)
	if subscriptionID != "" {
		query += ` WHERE subscription_id = ?`
		args = append(args, subscriptionID)
	}
	query += ` ORDER BY finished_at_ms DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CycleRecord, 0, limit)
	for rows.Next() {
		var (
			rec                          domain.CycleRecord
			repo, status                 string
			errStr, counts               sql.NullString
			trunc                        int
			since, until, started, ended int64
		)
		if err := rows.Scan(&rec.ID, &rec.SubscriptionID, &repo, &since, &until, &status,
			&errStr, &counts, &trunc, &started, &ended); err != nil {
			return nil, err
		}
		rec.Repo = domain.RepoID(repo)
		rec.Status = domain.CycleStatus(status)
		rec.Error = errStr.String
		rec.Truncated = trunc != 0
		rec.Window = domain.Window{Since: domain.FromUnixMilli(since), Until: domain.FromUnixMilli(until)}
		rec.StartedAt = domain.FromUnixMilli(started)
		rec.FinishedAt = domain.FromUnixMilli(ended)
		if counts.Valid && counts.String != "" {
			if err := json.Unmarshal([]byte(counts.String), &rec.Counts); err != nil {
				s.log.Debug("bad cycle counts", logx.String("cycle", rec.ID), logx.Err(err))
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqlStore) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[domain.Status]int{}
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[domain.Status(st)] = n
	}
	return out, rows.Err()
}

func (s *sqlStore) Delivered(ctx context.Context, reportKey, channel string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT 1 FROM deliveries WHERE report_key = ? AND channel = ?`), reportKey, channel).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqlStore) MarkDelivered(ctx context.Context, reportKey, channel string, at domain.UTCTime) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO deliveries (report_key, channel, delivered_at_ms)
		VALUES (?, ?, ?) ON CONFLICT (report_key, channel) DO NOTHING`),
		reportKey, channel, at.UnixMilli())
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
