package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) ListCircles(ctx context.Context) ([]Circle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.description, c.theme, c.is_private, COALESCE(c.cover_url, ''),
			c.creator_id, c.created_at,
			(SELECT COUNT(*) FROM circle_members cm WHERE cm.circle_id = c.id)
		FROM circles c
		ORDER BY c.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list circles: %w", err)
	}
	defer rows.Close()

	var circles []Circle
	for rows.Next() {
		var c Circle
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Theme, &c.IsPrivate, &c.CoverURL,
			&c.CreatorID, &c.CreatedAt, &c.MemberCount); err != nil {
			return nil, fmt.Errorf("scan circle: %w", err)
		}
		circles = append(circles, c)
	}
	return circles, rows.Err()
}

func (s *PostgresStore) GetCircle(ctx context.Context, id string) (Circle, error) {
	var c Circle
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, theme, is_private, COALESCE(cover_url, ''), creator_id, created_at
		FROM circles WHERE id=$1
	`, id).Scan(&c.ID, &c.Name, &c.Description, &c.Theme, &c.IsPrivate, &c.CoverURL, &c.CreatorID, &c.CreatedAt)
	if err != nil {
		return Circle{}, err
	}
	return c, nil
}

func (s *PostgresStore) InsertCircle(ctx context.Context, c Circle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert circle: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO circles (id, name, description, theme, is_private, cover_url, creator_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`, c.ID, c.Name, c.Description, c.Theme, c.IsPrivate, c.CoverURL, c.CreatorID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert circle: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO circle_members (circle_id, user_id) VALUES ($1, $2)
	`, c.ID, c.CreatorID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert creator membership: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) JoinCircle(ctx context.Context, circleID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circle_members (circle_id, user_id) VALUES ($1, $2)
		ON CONFLICT (circle_id, user_id) DO NOTHING
	`, circleID, userID)
	if err != nil {
		return fmt.Errorf("join circle: %w", err)
	}
	return nil
}

func (s *PostgresStore) LeaveCircle(ctx context.Context, circleID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM circle_members WHERE circle_id=$1 AND user_id=$2`, circleID, userID)
	if err != nil {
		return fmt.Errorf("leave circle: %w", err)
	}
	return nil
}

// ListCircleMembers reads the roster through a JSON profile projection and
// normalizes each row with DecodeProfileProjection, so a missing profile row
// is dropped rather than surfacing as a placeholder member.
func (s *PostgresStore) ListCircleMembers(ctx context.Context, circleID string) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE WHEN p.id IS NULL THEN 'null'::json ELSE json_build_object(
			'id', p.id, 'username', p.username, 'full_name', p.full_name,
			'avatar_url', p.avatar_url, 'bio', p.bio
		) END
		FROM circle_members cm
		LEFT JOIN profiles p ON p.id = cm.user_id
		WHERE cm.circle_id = $1
		ORDER BY cm.joined_at ASC
	`, circleID)
	if err != nil {
		return nil, fmt.Errorf("list circle members: %w", err)
	}
	defer rows.Close()

	var members []Profile
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan member projection: %w", err)
		}
		profile, err := DecodeProfileProjection(raw)
		if err != nil {
			return nil, fmt.Errorf("decode member projection: %w", err)
		}
		if profile == nil {
			continue
		}
		members = append(members, *profile)
	}
	return members, rows.Err()
}

func (s *PostgresStore) ListCircleReadings(ctx context.Context, circleID string) ([]CircleReading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, circle_id, book_title, book_author, end_date, COALESCE(synthesis, ''), created_at
		FROM circle_readings WHERE circle_id=$1 ORDER BY created_at DESC
	`, circleID)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	var readings []CircleReading
	for rows.Next() {
		var r CircleReading
		if err := rows.Scan(&r.ID, &r.CircleID, &r.BookTitle, &r.BookAuthor, &r.EndDate, &r.Synthesis, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (s *PostgresStore) InsertReading(ctx context.Context, r CircleReading) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circle_readings (id, circle_id, book_title, book_author, end_date, synthesis)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`, r.ID, r.CircleID, r.BookTitle, r.BookAuthor, r.EndDate, r.Synthesis)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateReading(ctx context.Context, r CircleReading) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE circle_readings SET book_title=$2, book_author=$3, end_date=$4, synthesis=NULLIF($5, '')
		WHERE id=$1
	`, r.ID, r.BookTitle, r.BookAuthor, r.EndDate, r.Synthesis)
	if err != nil {
		return fmt.Errorf("update reading: %w", err)
	}
	return nil
}

// OpenPoll returns the newest open poll for the circle, or nil when no poll
// is open. At most one open poll is surfaced at a time; the limit enforces
// that at the query rather than with a store constraint.
func (s *PostgresStore) OpenPoll(ctx context.Context, circleID string) (*CirclePoll, error) {
	var p CirclePoll
	var options []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, circle_id, options, is_closed, created_at
		FROM circle_polls
		WHERE circle_id=$1 AND NOT is_closed
		ORDER BY created_at DESC
		LIMIT 1
	`, circleID).Scan(&p.ID, &p.CircleID, &options, &p.IsClosed, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open poll: %w", err)
	}
	if err := json.Unmarshal(options, &p.Options); err != nil {
		return nil, fmt.Errorf("decode poll options: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) InsertPoll(ctx context.Context, p CirclePoll) error {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("encode poll options: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO circle_polls (id, circle_id, options, is_closed) VALUES ($1, $2, $3, FALSE)
	`, p.ID, p.CircleID, options)
	if err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClosePoll(ctx context.Context, pollID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE circle_polls SET is_closed=TRUE WHERE id=$1`, pollID)
	if err != nil {
		return fmt.Errorf("close poll: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPollVotes(ctx context.Context, pollID string) ([]PollVote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT poll_id, user_id, option_index FROM circle_poll_votes WHERE poll_id=$1
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("list poll votes: %w", err)
	}
	defer rows.Close()

	var votes []PollVote
	for rows.Next() {
		var v PollVote
		if err := rows.Scan(&v.PollID, &v.UserID, &v.OptionIndex); err != nil {
			return nil, fmt.Errorf("scan poll vote: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// UpsertPollVote keeps at most one live vote per (poll, voter): a repeat
// vote overwrites the previous option instead of adding a row.
func (s *PostgresStore) UpsertPollVote(ctx context.Context, v PollVote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circle_poll_votes (poll_id, user_id, option_index)
		VALUES ($1, $2, $3)
		ON CONFLICT (poll_id, user_id) DO UPDATE SET option_index=EXCLUDED.option_index
	`, v.PollID, v.UserID, v.OptionIndex)
	if err != nil {
		return fmt.Errorf("upsert poll vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCircleQuotes(ctx context.Context, circleID string) ([]CircleQuote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.circle_id, q.user_id, q.content, COALESCE(q.page_number, ''), q.created_at,
			COALESCE(p.full_name, ''), COALESCE(p.avatar_url, '')
		FROM circle_quotes q
		LEFT JOIN profiles p ON p.id = q.user_id
		WHERE q.circle_id=$1
		ORDER BY q.created_at DESC
	`, circleID)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	defer rows.Close()

	var quotes []CircleQuote
	for rows.Next() {
		var q CircleQuote
		if err := rows.Scan(&q.ID, &q.CircleID, &q.UserID, &q.Content, &q.PageNumber, &q.CreatedAt,
			&q.AuthorName, &q.AuthorAvatarURL); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func (s *PostgresStore) InsertQuote(ctx context.Context, q CircleQuote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circle_quotes (id, circle_id, user_id, content, page_number)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`, q.ID, q.CircleID, q.UserID, q.Content, q.PageNumber)
	if err != nil {
		return fmt.Errorf("insert quote: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateQuote(ctx context.Context, q CircleQuote, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE circle_quotes SET content=$2, page_number=NULLIF($3, '') WHERE id=$1 AND user_id=$4
	`, q.ID, q.Content, q.PageNumber, userID)
	if err != nil {
		return false, fmt.Errorf("update quote: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update quote rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteQuote(ctx context.Context, id, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM circle_quotes WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete quote: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete quote rows: %w", err)
	}
	return affected > 0, nil
}

// ListQuotesForBook returns quotes from circles whose current reading matches
// the given book title. Used to enrich exposé exports.
func (s *PostgresStore) ListQuotesForBook(ctx context.Context, bookTitle string) ([]CircleQuote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cq.id, cq.circle_id, cq.user_id, cq.content, COALESCE(cq.page_number, ''), cq.created_at
		FROM circle_quotes cq
		WHERE cq.circle_id IN (
			SELECT circle_id FROM circle_readings WHERE book_title = $1
		)
		ORDER BY cq.created_at ASC
	`, bookTitle)
	if err != nil {
		return nil, fmt.Errorf("list quotes for book: %w", err)
	}
	defer rows.Close()

	var quotes []CircleQuote
	for rows.Next() {
		var q CircleQuote
		if err := rows.Scan(&q.ID, &q.CircleID, &q.UserID, &q.Content, &q.PageNumber, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func (s *PostgresStore) ListCircleEvents(ctx context.Context, circleID string) ([]CircleEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, circle_id, title, event_date, COALESCE(meeting_link, ''), created_at
		FROM circle_events WHERE circle_id=$1 ORDER BY event_date ASC
	`, circleID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []CircleEvent
	for rows.Next() {
		var e CircleEvent
		if err := rows.Scan(&e.ID, &e.CircleID, &e.Title, &e.EventDate, &e.MeetingLink, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) InsertEvent(ctx context.Context, e CircleEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circle_events (id, circle_id, title, event_date, meeting_link)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`, e.ID, e.CircleID, e.Title, e.EventDate, e.MeetingLink)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCircleThreads(ctx context.Context, circleID string) ([]CircleThread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, circle_id, title, created_at
		FROM circle_threads WHERE circle_id=$1 ORDER BY created_at DESC
	`, circleID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []CircleThread
	for rows.Next() {
		var t CircleThread
		if err := rows.Scan(&t.ID, &t.CircleID, &t.Title, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

func (s *PostgresStore) GetThread(ctx context.Context, id string) (CircleThread, error) {
	var t CircleThread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, circle_id, title, created_at FROM circle_threads WHERE id=$1
	`, id).Scan(&t.ID, &t.CircleID, &t.Title, &t.CreatedAt)
	if err != nil {
		return CircleThread{}, err
	}
	return t, nil
}

func (s *PostgresStore) InsertThread(ctx context.Context, t CircleThread) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circle_threads (id, circle_id, title) VALUES ($1, $2, $3)
	`, t.ID, t.CircleID, t.Title)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

// ListThreadMessages returns the full log in creation order; edits keep
// their original position.
func (s *PostgresStore) ListThreadMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.thread_id, m.user_id, m.content, m.reply_to_id, m.created_at,
			COALESCE(p.full_name, ''), COALESCE(p.avatar_url, '')
		FROM circle_thread_messages m
		LEFT JOIN profiles p ON p.id = m.user_id
		WHERE m.thread_id=$1
		ORDER BY m.created_at ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread messages: %w", err)
	}
	defer rows.Close()

	var messages []ThreadMessage
	for rows.Next() {
		var m ThreadMessage
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Content, &m.ReplyToID, &m.CreatedAt,
			&m.AuthorName, &m.AuthorAvatarURL); err != nil {
			return nil, fmt.Errorf("scan thread message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) InsertThreadMessage(ctx context.Context, m ThreadMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circle_thread_messages (id, thread_id, user_id, content, reply_to_id)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.ThreadID, m.UserID, m.Content, m.ReplyToID)
	if err != nil {
		return fmt.Errorf("insert thread message: %w", err)
	}
	return nil
}

// UpdateThreadMessage edits in place, author-only. No edit history is kept.
func (s *PostgresStore) UpdateThreadMessage(ctx context.Context, id, userID, content string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE circle_thread_messages SET content=$3 WHERE id=$1 AND user_id=$2
	`, id, userID, content)
	if err != nil {
		return false, fmt.Errorf("update thread message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update thread message rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteThreadMessage(ctx context.Context, id, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM circle_thread_messages WHERE id=$1 AND user_id=$2
	`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete thread message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete thread message rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListMemberProgress(ctx context.Context, circleID string) ([]MemberProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT circle_id, user_id, percentage FROM circle_member_progress WHERE circle_id=$1
	`, circleID)
	if err != nil {
		return nil, fmt.Errorf("list member progress: %w", err)
	}
	defer rows.Close()

	var progress []MemberProgress
	for rows.Next() {
		var p MemberProgress
		if err := rows.Scan(&p.CircleID, &p.UserID, &p.Percentage); err != nil {
			return nil, fmt.Errorf("scan member progress: %w", err)
		}
		progress = append(progress, p)
	}
	return progress, rows.Err()
}

func (s *PostgresStore) UpsertMemberProgress(ctx context.Context, p MemberProgress) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circle_member_progress (circle_id, user_id, percentage)
		VALUES ($1, $2, $3)
		ON CONFLICT (circle_id, user_id) DO UPDATE SET percentage=EXCLUDED.percentage
	`, p.CircleID, p.UserID, p.Percentage)
	if err != nil {
		return fmt.Errorf("upsert member progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReadingRoles(ctx context.Context, circleID string) ([]ReadingRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.circle_id, r.user_id, r.role_name,
			COALESCE(p.full_name, ''), COALESCE(p.avatar_url, '')
		FROM circle_reading_roles r
		LEFT JOIN profiles p ON p.id = r.user_id
		WHERE r.circle_id=$1
	`, circleID)
	if err != nil {
		return nil, fmt.Errorf("list reading roles: %w", err)
	}
	defer rows.Close()

	var roles []ReadingRole
	for rows.Next() {
		var r ReadingRole
		if err := rows.Scan(&r.ID, &r.CircleID, &r.UserID, &r.RoleName, &r.HolderName, &r.HolderAvatarURL); err != nil {
			return nil, fmt.Errorf("scan reading role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// AssignReadingRole replaces the current holder of (circle, role); the last
// concurrent reassignment wins.
func (s *PostgresStore) AssignReadingRole(ctx context.Context, r ReadingRole) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circle_reading_roles (id, circle_id, user_id, role_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (circle_id, role_name) DO UPDATE SET user_id=EXCLUDED.user_id
	`, r.ID, r.CircleID, r.UserID, r.RoleName)
	if err != nil {
		return fmt.Errorf("assign reading role: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListJournalEntries(ctx context.Context, circleID string) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT j.id, j.circle_id, j.user_id, COALESCE(j.title, ''), j.content, j.created_at,
			COALESCE(p.full_name, ''), COALESCE(p.avatar_url, '')
		FROM circle_journal j
		LEFT JOIN profiles p ON p.id = j.user_id
		WHERE j.circle_id=$1
		ORDER BY j.created_at DESC
	`, circleID)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.CircleID, &e.UserID, &e.Title, &e.Content, &e.CreatedAt,
			&e.AuthorName, &e.AuthorAvatarURL); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) InsertJournalEntry(ctx context.Context, e JournalEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circle_journal (id, circle_id, user_id, title, content)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
	`, e.ID, e.CircleID, e.UserID, e.Title, e.Content)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateJournalEntry(ctx context.Context, e JournalEntry) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE circle_journal SET title=NULLIF($2, ''), content=$3 WHERE id=$1
	`, e.ID, e.Title, e.Content)
	if err != nil {
		return fmt.Errorf("update journal entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteJournalEntry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM circle_journal WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete journal entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListHistoryEntries(ctx context.Context, circleID string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.circle_id, h.user_id, h.content, h.created_at,
			COALESCE(p.full_name, ''), COALESCE(p.avatar_url, '')
		FROM circle_history h
		LEFT JOIN profiles p ON p.id = h.user_id
		WHERE h.circle_id=$1
		ORDER BY h.created_at DESC
	`, circleID)
	if err != nil {
		return nil, fmt.Errorf("list history entries: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.CircleID, &e.UserID, &e.Content, &e.CreatedAt,
			&e.AuthorName, &e.AuthorAvatarURL); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) InsertHistoryEntry(ctx context.Context, e HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circle_history (id, circle_id, user_id, content) VALUES ($1, $2, $3, $4)
	`, e.ID, e.CircleID, e.UserID, e.Content)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateHistoryEntry(ctx context.Context, e HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `UPDATE circle_history SET content=$2 WHERE id=$1`, e.ID, e.Content)
	if err != nil {
		return fmt.Errorf("update history entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteHistoryEntry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM circle_history WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete history entry: %w", err)
	}
	return nil
}
