package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rushteam/dropfeed/core"
)

// InsertImpressions 以单条多值 INSERT 写入全部曝光，并通过 RETURNING 回传 (id, rank, target_key)。
func (s *SQLStore) InsertImpressions(ctx context.Context, rows []core.Impression) ([]core.InsertedImpression, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(rows)*11)
		now  = time.Now()
	)
	sb.WriteString(`INSERT INTO impressions
		(user_id, role, rec_version, rec_type, target_type, target_id, target_key, rank, explain, payload, created_at)
		VALUES `)
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")

		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("store: marshal impression payload: %w", err)
		}
		created := r.CreatedAt
		if created.IsZero() {
			created = now
		}
		args = append(args,
			r.UserID, string(r.Role), r.RecVersion, string(r.RecType), string(r.TargetType),
			nullString(r.TargetID), nullString(r.TargetKey), r.Rank, r.Explain, string(payload),
			created.UnixMilli(),
		)
	}
	sb.WriteString(" RETURNING id, rank, target_key")

	res, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: insert impressions: %w", err)
	}
	defer res.Close()

	out := make([]core.InsertedImpression, 0, len(rows))
	for res.Next() {
		var (
			id   int64
			rank int
			key  sql.NullString
		)
		if err := res.Scan(&id, &rank, &key); err != nil {
			return nil, fmt.Errorf("store: scan inserted impression: %w", err)
		}
		out = append(out, core.InsertedImpression{
			ID:        strconv.FormatInt(id, 10),
			Rank:      rank,
			TargetKey: fromNullString(key),
		})
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("store: insert impressions: %w", err)
	}
	return out, nil
}

// SeenTargetKeys 返回 since 之后曝光过的 target_key（新→旧）。
func (s *SQLStore) SeenTargetKeys(ctx context.Context, q core.SeenQuery, since time.Time, limit int) ([]string, error) {
	query := `SELECT target_key FROM impressions
		WHERE user_id = ? AND role = ? AND target_type = ? AND rec_version = ?
		AND created_at >= ? AND target_key IS NOT NULL`
	args := []any{q.UserID, string(q.Role), string(q.TargetType), q.RecVersion, since.UnixMilli()}
	if q.RecType != "" {
		query += ` AND rec_type = ?`
		args = append(args, string(q.RecType))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: seen target keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("store: scan target key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

const impressionColumns = `id, user_id, role, rec_version, rec_type, target_type, target_id, target_key, rank, explain, payload, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImpression(sc rowScanner, extra ...any) (*core.Impression, error) {
	var (
		im        core.Impression
		id        int64
		role      string
		recType   string
		target    string
		targetID  sql.NullString
		targetKey sql.NullString
		payload   string
		created   int64
	)
	dest := append([]any{
		&id, &im.UserID, &role, &im.RecVersion, &recType, &target,
		&targetID, &targetKey, &im.Rank, &im.Explain, &payload, &created,
	}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}
	im.ID = strconv.FormatInt(id, 10)
	im.Role = core.Role(role)
	im.RecType = core.Surface(recType)
	im.TargetType = core.TargetType(target)
	im.TargetID = fromNullString(targetID)
	im.TargetKey = fromNullString(targetKey)
	im.CreatedAt = time.UnixMilli(created)
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &im.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of impression %d: %w", id, err)
		}
	}
	return &im, nil
}

// GetImpression 按 ID 读取曝光记录。
func (s *SQLStore) GetImpression(ctx context.Context, id string) (*core.Impression, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, core.NewDomainError(core.ModuleImpression, core.ErrorCodeNotFound, "impression "+id+" not found")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+impressionColumns+` FROM impressions WHERE id = ?`, n)
	im, err := scanImpression(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewDomainError(core.ModuleImpression, core.ErrorCodeNotFound, "impression "+id+" not found")
	}
	if err != nil {
		return nil, fmt.Errorf("store: get impression %s: %w", id, err)
	}
	return im, nil
}

// ActiveUsers 返回 since 之后有曝光的 (user, role) 及其最新 rec_version。
func (s *SQLStore) ActiveUsers(ctx context.Context, since time.Time, limit int) ([]core.ActiveUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, role, MAX(rec_version) FROM impressions
		 WHERE created_at >= ?
		 GROUP BY user_id, role
		 ORDER BY MAX(created_at) DESC
		 LIMIT ?`, since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("store: active users: %w", err)
	}
	defer rows.Close()

	var out []core.ActiveUser
	for rows.Next() {
		var (
			u    core.ActiveUser
			role string
		)
		if err := rows.Scan(&u.UserID, &role, &u.RecVersion); err != nil {
			return nil, fmt.Errorf("store: scan active user: %w", err)
		}
		u.Role = core.Role(role)
		out = append(out, u)
	}
	return out, rows.Err()
}

// InsertFeedback 写入一条反馈事件。
func (s *SQLStore) InsertFeedback(ctx context.Context, ev core.FeedbackEvent) error {
	impID, err := strconv.ParseInt(ev.ImpressionID, 10, 64)
	if err != nil {
		return core.NewDomainError(core.ModuleImpression, core.ErrorCodeInvalidInput, "invalid impression id "+ev.ImpressionID)
	}
	meta := ev.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: marshal feedback meta: %w", err)
	}
	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO feedback_events (user_id, impression_id, kind, value, action, meta, rec_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.UserID, impID, string(ev.Kind), ev.Value, ev.Action, string(metaJSON), ev.RecVersion, created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: insert feedback: %w", err)
	}
	return nil
}

// RecentFeedback 返回用户最近的反馈（新→旧），只保留能 join 到同 role、同 rec_version 曝光的事件。
func (s *SQLStore) RecentFeedback(ctx context.Context, userID string, role core.Role, recVersion int, since time.Time, limit int) ([]core.ResolvedFeedback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.user_id, i.role, i.rec_version, i.rec_type, i.target_type, i.target_id, i.target_key,
		        i.rank, i.explain, i.payload, i.created_at,
		        f.id, f.kind, f.value, f.action, f.meta, f.rec_version, f.created_at
		 FROM feedback_events f
		 JOIN impressions i ON i.id = f.impression_id
		 WHERE f.user_id = ? AND f.created_at >= ? AND f.rec_version = ?
		   AND i.role = ? AND i.rec_version = ?
		 ORDER BY f.created_at DESC, f.id DESC
		 LIMIT ?`,
		userID, since.UnixMilli(), recVersion, string(role), recVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent feedback: %w", err)
	}
	defer rows.Close()

	var out []core.ResolvedFeedback
	for rows.Next() {
		var (
			ev      core.FeedbackEvent
			kind    string
			meta    string
			created int64
		)
		im, err := scanImpression(rows, &ev.ID, &kind, &ev.Value, &ev.Action, &meta, &ev.RecVersion, &created)
		if err != nil {
			return nil, fmt.Errorf("store: scan feedback: %w", err)
		}
		ev.UserID = userID
		ev.ImpressionID = im.ID
		ev.Kind = core.FeedbackKind(kind)
		ev.CreatedAt = time.UnixMilli(created)
		if meta != "" && meta != "{}" {
			// meta 仅用于诊断，解析失败不影响信号计算
			_ = json.Unmarshal([]byte(meta), &ev.Meta)
		}
		out = append(out, core.ResolvedFeedback{Event: ev, Impression: *im})
	}
	return out, rows.Err()
}
