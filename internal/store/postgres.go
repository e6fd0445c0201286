package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const profileColumns = `id, email, password_hash, COALESCE(username, ''), COALESCE(full_name, ''),
	COALESCE(avatar_url, ''), COALESCE(bio, ''), is_email_verified, COALESCE(verification_token, ''),
	verification_expires_at, created_at, updated_at`

func scanProfile(row *sql.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.Username, &p.FullName,
		&p.AvatarURL, &p.Bio, &p.IsEmailVerified, &p.VerificationToken,
		&p.VerificationExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *PostgresStore) GetProfileByID(ctx context.Context, id string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=$1`, id)
	return scanProfile(row)
}

func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE LOWER(email)=LOWER($1)`, email)
	return scanProfile(row)
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, password_hash, full_name, verification_token)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
	`, p.ID, p.Email, p.PasswordHash, p.FullName, p.VerificationToken)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// UpdateProfile replaces the owner-editable fields. The profile row itself is
// created at sign-up, so this is an update keyed on id, never an insert.
func (s *PostgresStore) UpdateProfile(ctx context.Context, id, username, fullName, avatarURL, bio string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET username=NULLIF($2, ''), full_name=NULLIF($3, ''), avatar_url=NULLIF($4, ''),
			bio=NULLIF($5, ''), updated_at=NOW()
		WHERE id=$1
	`, id, username, fullName, avatarURL, bio)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Profile, error) {
	const query = `
		SELECT p.id, p.email, COALESCE(p.username, ''), COALESCE(p.full_name, ''), COALESCE(p.avatar_url, '')
		FROM refresh_sessions rs
		JOIN profiles p ON p.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var p Profile
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&p.ID, &p.Email, &p.Username, &p.FullName, &p.AvatarURL)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

const postColumns = `po.id, po.title, po.book_title, po.book_author, po.content, po.user_name,
	po.category, COALESCE(po.cover_url, ''), COALESCE(po.user_id, ''), po.created_at,
	COALESCE(pr.avatar_url, '')`

func (s *PostgresStore) ListPosts(ctx context.Context, category string) ([]Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM posts po
		LEFT JOIN profiles pr ON pr.id = po.user_id
	`
	var args []any
	if category != "" {
		query += ` WHERE po.category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY po.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.Title, &p.BookTitle, &p.BookAuthor, &p.Content, &p.UserName,
			&p.Category, &p.CoverURL, &p.UserID, &p.CreatedAt, &p.AuthorAvatarURL); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *PostgresStore) GetPost(ctx context.Context, id string) (Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+`
		FROM posts po
		LEFT JOIN profiles pr ON pr.id = po.user_id
		WHERE po.id = $1
	`, id)
	var p Post
	err := row.Scan(&p.ID, &p.Title, &p.BookTitle, &p.BookAuthor, &p.Content, &p.UserName,
		&p.Category, &p.CoverURL, &p.UserID, &p.CreatedAt, &p.AuthorAvatarURL)
	if err != nil {
		return Post{}, err
	}
	return p, nil
}

func (s *PostgresStore) InsertPost(ctx context.Context, p Post) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, title, book_title, book_author, content, user_name, category, cover_url, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
	`, p.ID, p.Title, p.BookTitle, p.BookAuthor, p.Content, p.UserName, p.Category, p.CoverURL, p.UserID)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// UpdatePost only touches rows owned by userID; zero rows affected means the
// caller is not the author. user_name is set at creation and never rewritten.
func (s *PostgresStore) UpdatePost(ctx context.Context, p Post, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET title=$2, book_title=$3, book_author=$4, content=$5, category=$6, cover_url=NULLIF($7, '')
		WHERE id=$1 AND user_id=$8
	`, p.ID, p.Title, p.BookTitle, p.BookAuthor, p.Content, p.Category, p.CoverURL, userID)
	if err != nil {
		return false, fmt.Errorf("update post: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update post rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeletePost(ctx context.Context, id, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete post: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete post rows: %w", err)
	}
	return affected > 0, nil
}
