package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"agenda/api/internal/agenda"
	"agenda/api/internal/notify"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const userColumns = `id, name, email, department, facility, rank`

func scanUser(row interface{ Scan(...any) error }) (agenda.User, error) {
	var user agenda.User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.Department, &user.Facility, &user.Rank)
	return user, err
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user agenda.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, department, facility, rank)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, email=EXCLUDED.email, department=EXCLUDED.department,
			facility=EXCLUDED.facility, rank=EXCLUDED.rank, updated_at=NOW()
	`, user.ID, user.Name, user.Email, user.Department, user.Facility, user.Rank)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (agenda.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return scanUser(row)
}

// Officers lists users of a department at or above minRank, highest rank first.
func (s *PostgresStore) Officers(ctx context.Context, department string, minRank int) ([]agenda.User, error) {
	return s.queryUsers(ctx, "officers", `
		SELECT `+userColumns+` FROM users
		WHERE department=$1 AND rank >= $2
		ORDER BY rank DESC, id
	`, department, minRank)
}

// Members lists everyone inside a visibility scope around the author.
func (s *PostgresStore) Members(ctx context.Context, scope agenda.Scope, author agenda.User) ([]agenda.User, error) {
	switch scope {
	case agenda.ScopeDepartment:
		return s.queryUsers(ctx, "department members", `SELECT `+userColumns+` FROM users WHERE department=$1 ORDER BY id`, author.Department)
	case agenda.ScopeFacility:
		return s.queryUsers(ctx, "facility members", `SELECT `+userColumns+` FROM users WHERE facility=$1 ORDER BY id`, author.Facility)
	case agenda.ScopeCorporation:
		return s.queryUsers(ctx, "corporation members", `SELECT `+userColumns+` FROM users ORDER BY id`)
	default:
		return nil, fmt.Errorf("%w: unknown scope %q", agenda.ErrInvalidState, scope)
	}
}

func (s *PostgresStore) Users(ctx context.Context, ids []string) ([]agenda.User, error) {
	if len(ids) == 0 {
		return []agenda.User{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id IN (` + strings.Join(placeholders, ", ") + `) ORDER BY id`
	return s.queryUsers(ctx, "users", query, args...)
}

func (s *PostgresStore) queryUsers(ctx context.Context, what, query string, args ...any) ([]agenda.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", what, err)
	}
	defer rows.Close()

	users := make([]agenda.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return users, nil
}

const selectProposal = `
	SELECT p.id, p.title, p.score, p.level, p.promoted_level, p.deadline,
		p.extension_count, p.comment_count, p.last_activity_at, p.committee, p.closure,
		p.warned_deadline, p.archived_at, p.created_at, p.updated_at, p.version,
		u.id, u.name, u.email, u.department, u.facility, u.rank
	FROM proposals p
	JOIN users u ON u.id = p.author_id
	WHERE p.id=$1
`

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (agenda.Proposal, error) {
	var (
		p                          agenda.Proposal
		level, promoted            string
		deadline, warned, archived sql.NullTime
		committee, closure         []byte
	)
	err := s.db.QueryRowContext(ctx, selectProposal, proposalID).Scan(
		&p.ID, &p.Title, &p.Score, &level, &promoted, &deadline,
		&p.ExtensionCount, &p.CommentCount, &p.LastActivityAt, &committee, &closure,
		&warned, &archived, &p.CreatedAt, &p.UpdatedAt, &p.Version,
		&p.Author.ID, &p.Author.Name, &p.Author.Email, &p.Author.Department, &p.Author.Facility, &p.Author.Rank,
	)
	if err != nil {
		return agenda.Proposal{}, err
	}
	if p.Level, err = agenda.ParseLevel(level); err != nil {
		return agenda.Proposal{}, fmt.Errorf("read proposal level: %w", err)
	}
	if p.PromotedLevel, err = agenda.ParseLevel(promoted); err != nil {
		return agenda.Proposal{}, fmt.Errorf("read promoted level: %w", err)
	}
	p.Deadline = timePtr(deadline)
	p.WarnedDeadline = timePtr(warned)
	p.ArchivedAt = timePtr(archived)
	if len(committee) > 0 {
		p.Committee = &agenda.Committee{}
		if err := json.Unmarshal(committee, p.Committee); err != nil {
			return agenda.Proposal{}, fmt.Errorf("decode committee: %w", err)
		}
	}
	if len(closure) > 0 {
		p.Closure = &agenda.ClosureInfo{}
		if err := json.Unmarshal(closure, p.Closure); err != nil {
			return agenda.Proposal{}, fmt.Errorf("decode closure: %w", err)
		}
	}

	votes, err := s.listVotes(ctx, proposalID)
	if err != nil {
		return agenda.Proposal{}, err
	}
	p.Votes = votes
	return p, nil
}

func (s *PostgresStore) listVotes(ctx context.Context, proposalID string) ([]agenda.Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, option, cast_at
		FROM proposal_votes
		WHERE proposal_id=$1
		ORDER BY ordinal
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	votes := make([]agenda.Vote, 0)
	for rows.Next() {
		var vote agenda.Vote
		var option string
		if err := rows.Scan(&vote.UserID, &option, &vote.CastAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		vote.Option = agenda.VoteOption(option)
		votes = append(votes, vote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return votes, nil
}

func (s *PostgresStore) CreateProposal(ctx context.Context, p agenda.Proposal) error {
	committee, closure, err := encodeProposalJSON(p)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create proposal tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO proposals (
			id, title, author_id, score, level, promoted_level, deadline, extension_count,
			comment_count, last_activity_at, committee, closure, archive_at, warned_deadline,
			created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 0)
	`, p.ID, p.Title, p.Author.ID, p.Score, p.Level.String(), p.PromotedLevel.String(), nullTime(p.Deadline), p.ExtensionCount,
		p.CommentCount, p.LastActivityAt, committee, closure, archiveAt(p), nullTime(p.WarnedDeadline),
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	if err := writeVotes(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create proposal: %w", err)
	}
	return nil
}

// SaveProposal stores p if the row still carries p.Version and bumps the
// version. A stale snapshot fails with ErrVersionConflict.
func (s *PostgresStore) SaveProposal(ctx context.Context, p agenda.Proposal) error {
	committee, closure, err := encodeProposalJSON(p)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save proposal tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE proposals SET
			title=$2, score=$3, level=$4, promoted_level=$5, deadline=$6, extension_count=$7,
			comment_count=$8, last_activity_at=$9, committee=$10, closure=$11, archive_at=$12,
			warned_deadline=$13, updated_at=$14, version=version+1
		WHERE id=$1 AND version=$15
	`, p.ID, p.Title, p.Score, p.Level.String(), p.PromotedLevel.String(), nullTime(p.Deadline), p.ExtensionCount,
		p.CommentCount, p.LastActivityAt, committee, closure, archiveAt(p),
		nullTime(p.WarnedDeadline), p.UpdatedAt, p.Version)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update proposal rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("save proposal %s at version %d: %w", p.ID, p.Version, ErrVersionConflict)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM proposal_votes WHERE proposal_id=$1`, p.ID); err != nil {
		return fmt.Errorf("clear votes: %w", err)
	}
	if err := writeVotes(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save proposal: %w", err)
	}
	return nil
}

func writeVotes(ctx context.Context, tx *sql.Tx, p agenda.Proposal) error {
	for i, vote := range p.Votes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO proposal_votes (proposal_id, user_id, option, cast_at, ordinal)
			VALUES ($1, $2, $3, $4, $5)
		`, p.ID, vote.UserID, string(vote.Option), vote.CastAt, i); err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}
	}
	return nil
}

// encodeProposalJSON returns the committee and closure columns; a nil
// interface is stored as NULL.
func encodeProposalJSON(p agenda.Proposal) (committee, closure any, err error) {
	if p.Committee != nil {
		raw, err := json.Marshal(p.Committee)
		if err != nil {
			return nil, nil, fmt.Errorf("encode committee: %w", err)
		}
		committee = string(raw)
	}
	if p.Closure != nil {
		raw, err := json.Marshal(p.Closure)
		if err != nil {
			return nil, nil, fmt.Errorf("encode closure: %w", err)
		}
		closure = string(raw)
	}
	return committee, closure, nil
}

// ListOpenProposalIDs returns every proposal without a closure, earliest
// deadline first.
func (s *PostgresStore) ListOpenProposalIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, "open proposals", `
		SELECT id FROM proposals
		WHERE closure IS NULL
		ORDER BY deadline NULLS LAST, id
	`)
}

func (s *PostgresStore) ListArchiveDue(ctx context.Context, now time.Time) ([]string, error) {
	return s.queryIDs(ctx, "archive due proposals", `
		SELECT id FROM proposals
		WHERE closure IS NOT NULL AND archived_at IS NULL AND archive_at <= $1
		ORDER BY archive_at, id
	`, now)
}

func (s *PostgresStore) queryIDs(ctx context.Context, what, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", what, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return ids, nil
}

func (s *PostgresStore) MarkArchived(ctx context.Context, proposalID string, archivedAt time.Time, location string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET archived_at=$2, archive_location=$3, version=version+1
		WHERE id=$1 AND archived_at IS NULL
	`, proposalID, archivedAt, location)
	if err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("mark archived %s: %w", proposalID, sql.ErrNoRows)
	}
	return nil
}

// InsertNotification stores a notification with its full recipient list.
// Reinserting the same notification id is a no-op.
func (s *PostgresStore) InsertNotification(ctx context.Context, n notify.Notification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin notification tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notifications (id, key, event, proposal_id, title, message, icon, severity, action_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.Key, string(n.Event), n.ProposalID, n.Title, n.Body, n.Icon, n.Severity, n.ActionURL, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	for _, r := range n.Recipients {
		reasons := make([]string, len(r.Reasons))
		for i, reason := range r.Reasons {
			reasons[i] = string(reason)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notification_recipients (notification_id, user_id, role, reasons)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (notification_id, user_id) DO NOTHING
		`, n.ID, r.UserID, r.Role, strings.Join(reasons, ",")); err != nil {
			return fmt.Errorf("insert notification recipient: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]UserNotification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.key, n.event, n.proposal_id, n.title, n.message, n.icon, n.severity,
			n.action_url, r.role, r.reasons, r.read_at, n.created_at
		FROM notification_recipients r
		JOIN notifications n ON n.id = r.notification_id
		WHERE r.user_id=$1
		ORDER BY n.created_at DESC, n.id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]UserNotification, 0)
	for rows.Next() {
		var item UserNotification
		var reasons string
		var readAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.Key, &item.Event, &item.ProposalID, &item.Title, &item.Message, &item.Icon, &item.Severity,
			&item.ActionURL, &item.Role, &reasons, &readAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		item.Reasons = splitReasons(reasons)
		item.ReadAt = timePtr(readAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

func splitReasons(value string) []string {
	if value == "" {
		return []string{}
	}
	return strings.Split(value, ",")
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

func archiveAt(p agenda.Proposal) sql.NullTime {
	if p.Closure == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.Closure.ArchiveAt, Valid: true}
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
