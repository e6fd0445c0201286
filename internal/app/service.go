package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"salon/api/internal/auth"
	"salon/api/internal/authpw"
	"salon/api/internal/config"
	"salon/api/internal/email"
	"salon/api/internal/export"
	"salon/api/internal/media"
	"salon/api/internal/search"
	"salon/api/internal/store"
	"salon/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	ExpiresAt    time.Time
}

type PostInput struct {
	Title      string `json:"title"`
	BookTitle  string `json:"bookTitle"`
	BookAuthor string `json:"bookAuthor"`
	Content    string `json:"content"`
	Category   string `json:"category"`
	CoverURL   string `json:"coverUrl"`
}

type ProfileInput struct {
	Username  string `json:"username"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl"`
	Bio       string `json:"bio"`
}

var allowedPostCategories = map[string]struct{}{
	"Fiction":     {},
	"Non-Fiction": {},
	"Poésie":      {},
	"Philosophie": {},
	"Sciences":    {},
	"Histoire":    {},
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetProfileByID(context.Context, string) (store.Profile, error)
	GetProfileByEmail(context.Context, string) (store.Profile, error)
	CreateProfile(context.Context, store.Profile) error
	UpdateProfile(ctx context.Context, id, username, fullName, avatarURL, bio string) error
	UpdateVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyEmail(context.Context, string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(context.Context, string) (string, error)
	MarkPasswordResetUsed(context.Context, string) error

	ListPosts(ctx context.Context, category string) ([]store.Post, error)
	GetPost(context.Context, string) (store.Post, error)
	InsertPost(context.Context, store.Post) error
	UpdatePost(ctx context.Context, p store.Post, userID string) (bool, error)
	DeletePost(ctx context.Context, id, userID string) (bool, error)
	ListQuotesForBook(context.Context, string) ([]store.CircleQuote, error)

	ListCircles(context.Context) ([]store.Circle, error)
	GetCircle(context.Context, string) (store.Circle, error)
	InsertCircle(context.Context, store.Circle) error
	JoinCircle(ctx context.Context, circleID, userID string) error
	LeaveCircle(ctx context.Context, circleID, userID string) error
	ListCircleMembers(context.Context, string) ([]store.Profile, error)
	ListCircleReadings(context.Context, string) ([]store.CircleReading, error)
	InsertReading(context.Context, store.CircleReading) error
	UpdateReading(context.Context, store.CircleReading) error
	OpenPoll(context.Context, string) (*store.CirclePoll, error)
	InsertPoll(context.Context, store.CirclePoll) error
	ClosePoll(context.Context, string) error
	ListPollVotes(context.Context, string) ([]store.PollVote, error)
	UpsertPollVote(context.Context, store.PollVote) error
	ListCircleQuotes(context.Context, string) ([]store.CircleQuote, error)
	InsertQuote(context.Context, store.CircleQuote) error
	UpdateQuote(ctx context.Context, q store.CircleQuote, userID string) (bool, error)
	DeleteQuote(ctx context.Context, id, userID string) (bool, error)
	ListCircleEvents(context.Context, string) ([]store.CircleEvent, error)
	InsertEvent(context.Context, store.CircleEvent) error
	ListCircleThreads(context.Context, string) ([]store.CircleThread, error)
	GetThread(context.Context, string) (store.CircleThread, error)
	InsertThread(context.Context, store.CircleThread) error
	ListThreadMessages(context.Context, string) ([]store.ThreadMessage, error)
	InsertThreadMessage(context.Context, store.ThreadMessage) error
	UpdateThreadMessage(ctx context.Context, id, userID, content string) (bool, error)
	DeleteThreadMessage(ctx context.Context, id, userID string) (bool, error)
	ListMemberProgress(context.Context, string) ([]store.MemberProgress, error)
	UpsertMemberProgress(context.Context, store.MemberProgress) error
	ListReadingRoles(context.Context, string) ([]store.ReadingRole, error)
	AssignReadingRole(context.Context, store.ReadingRole) error
	ListJournalEntries(context.Context, string) ([]store.JournalEntry, error)
	InsertJournalEntry(context.Context, store.JournalEntry) error
	UpdateJournalEntry(context.Context, store.JournalEntry) error
	DeleteJournalEntry(context.Context, string) error
	ListHistoryEntries(context.Context, string) ([]store.HistoryEntry, error)
	InsertHistoryEntry(context.Context, store.HistoryEntry) error
	UpdateHistoryEntry(context.Context, store.HistoryEntry) error
	DeleteHistoryEntry(context.Context, string) error
}

// sessionStore holds refresh tokens. Redis when available, Postgres otherwise.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.Profile, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   *search.Service
	media    *media.Service
	export   *export.Service
	authpw   *authpw.Service
	email    *email.Service

	gens *circleGenerations
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		gens:     newCircleGenerations(),
	}
	s.export = export.NewService(exportStoreAdapter{store: dataStore})
	return s
}

// exportStoreAdapter exposes the data store through the export package's
// narrower interface.
type exportStoreAdapter struct {
	store dataStore
}

func (a exportStoreAdapter) GetPost(ctx context.Context, id string) (export.PostInfo, error) {
	post, err := a.store.GetPost(ctx, id)
	if err != nil {
		return export.PostInfo{}, err
	}
	return export.PostInfo{
		ID:         post.ID,
		Title:      post.Title,
		BookTitle:  post.BookTitle,
		BookAuthor: post.BookAuthor,
		Category:   post.Category,
		Content:    post.Content,
		Author:     post.UserName,
		CreatedAt:  post.CreatedAt,
	}, nil
}

func (a exportStoreAdapter) ListQuotesForBook(ctx context.Context, bookTitle string) ([]export.QuoteInfo, error) {
	quotes, err := a.store.ListQuotesForBook(ctx, bookTitle)
	if err != nil {
		return nil, err
	}
	infos := make([]export.QuoteInfo, 0, len(quotes))
	for _, q := range quotes {
		infos = append(infos, export.QuoteInfo{Text: q.Content, Page: q.PageNumber})
	}
	return infos, nil
}

// WithSearch attaches the search facade.
func (s *Service) WithSearch(svc *search.Service) *Service {
	s.search = svc
	return s
}

// WithMedia attaches the media storage service.
func (s *Service) WithMedia(svc *media.Service) *Service {
	s.media = svc
	return s
}

// WithAuthPassword attaches the email/password auth service.
func (s *Service) WithAuthPassword(svc *authpw.Service) *Service {
	s.authpw = svc
	return s
}

// WithEmail attaches the SMTP email service.
func (s *Service) WithEmail(svc *email.Service) *Service {
	s.email = svc
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) MediaService() *media.Service {
	return s.media
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail delivers the sign-up verification mail when SMTP is
// configured. Failures are logged, never surfaced to the caller.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	origin := s.cfg.CORSOrigin
	if origin == "" || origin == "*" {
		origin = "http://localhost:5173"
	}
	url := origin + "/verify-email?token=" + token
	go func() {
		if err := s.email.SendVerificationEmail(to, userName, url); err != nil {
			log.Printf("email: send verification to %s: %v", to, err)
		}
	}()
}

// SendPasswordResetEmail delivers the reset mail when SMTP is configured.
func (s *Service) SendPasswordResetEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	origin := s.cfg.CORSOrigin
	if origin == "" || origin == "*" {
		origin = "http://localhost:5173"
	}
	url := origin + "/reset-password?token=" + token
	go func() {
		if err := s.email.SendPasswordResetEmail(to, userName, url); err != nil {
			log.Printf("email: send password reset to %s: %v", to, err)
		}
	}()
}

// IssueSession mints an access token and a refresh token for the profile.
func (s *Service) IssueSession(ctx context.Context, profile store.Profile) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  profile.ID,
		Name: profile.FullName,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), profile.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       profile.ID,
		UserName:     profile.FullName,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	holder, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	profile, err := s.store.GetProfileByID(ctx, holder.ID)
	if err != nil {
		return Session{}, err
	}
	return s.IssueSession(ctx, profile)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	profile, err := s.store.GetProfileByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    profile.ID,
		UserName:  profile.FullName,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (map[string]any, error) {
	profile, err := s.store.GetProfileByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return profileView(profile), nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, input ProfileInput) (map[string]any, error) {
	if strings.TrimSpace(input.FullName) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "fullName is required", nil)
	}
	if err := s.store.UpdateProfile(ctx, userID,
		strings.TrimSpace(input.Username),
		strings.TrimSpace(input.FullName),
		strings.TrimSpace(input.AvatarURL),
		input.Bio,
	); err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, userID)
}

func (s *Service) ListPosts(ctx context.Context, category string) ([]map[string]any, error) {
	posts, err := s.store.ListPosts(ctx, category)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(posts))
	for _, p := range posts {
		items = append(items, postView(p))
	}
	return items, nil
}

func (s *Service) GetPost(ctx context.Context, id string) (map[string]any, error) {
	post, err := s.store.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	return postView(post), nil
}

func (s *Service) CreatePost(ctx context.Context, session Session, input PostInput) (map[string]any, error) {
	if err := validatePostInput(input); err != nil {
		return nil, err
	}

	post := store.Post{
		ID:         util.NewID("post"),
		Title:      strings.TrimSpace(input.Title),
		BookTitle:  strings.TrimSpace(input.BookTitle),
		BookAuthor: strings.TrimSpace(input.BookAuthor),
		Content:    input.Content,
		UserName:   session.UserName,
		Category:   input.Category,
		CoverURL:   strings.TrimSpace(input.CoverURL),
		UserID:     session.UserID,
	}
	if err := s.store.InsertPost(ctx, post); err != nil {
		return nil, err
	}
	s.indexPost(post)
	return s.GetPost(ctx, post.ID)
}

func (s *Service) UpdatePost(ctx context.Context, session Session, id string, input PostInput) (map[string]any, error) {
	if err := validatePostInput(input); err != nil {
		return nil, err
	}

	post := store.Post{
		ID:         id,
		Title:      strings.TrimSpace(input.Title),
		BookTitle:  strings.TrimSpace(input.BookTitle),
		BookAuthor: strings.TrimSpace(input.BookAuthor),
		Content:    input.Content,
		Category:   input.Category,
		CoverURL:   strings.TrimSpace(input.CoverURL),
	}
	ok, err := s.store.UpdatePost(ctx, post, session.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(403, "FORBIDDEN", "Only the author can edit this exposé", nil)
	}
	updated, err := s.store.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	s.indexPost(updated)
	return postView(updated), nil
}

func (s *Service) DeletePost(ctx context.Context, session Session, id string) error {
	ok, err := s.store.DeletePost(ctx, id, session.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return domainError(403, "FORBIDDEN", "Only the author can delete this exposé", nil)
	}
	if s.search != nil {
		s.search.DeletePost(id)
	}
	return nil
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// ExportPost renders an exposé to the requested format.
func (s *Service) ExportPost(ctx context.Context, postID string, format export.Format, includeQuotes bool) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(503, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
	}
	return s.export.Export(ctx, export.Request{
		PostID:        postID,
		Format:        format,
		IncludeQuotes: includeQuotes,
	})
}

func (s *Service) indexPost(p store.Post) {
	if s.search == nil {
		return
	}
	s.search.IndexPost(search.PostRecord{
		ID:       p.ID,
		Title:    p.Title,
		Excerpt:  truncateExcerpt(p.Content, 280),
		Category: p.Category,
		BookRef:  p.BookTitle + " · " + p.BookAuthor,
	})
}

// truncateExcerpt caps s at max bytes without splitting a UTF-8 sequence.
func truncateExcerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func validatePostInput(input PostInput) error {
	var missing []string
	if strings.TrimSpace(input.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(input.BookTitle) == "" {
		missing = append(missing, "bookTitle")
	}
	if strings.TrimSpace(input.Content) == "" {
		missing = append(missing, "content")
	}
	if len(missing) > 0 {
		return domainError(422, "VALIDATION_ERROR",
			fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")), missing)
	}
	if _, ok := allowedPostCategories[input.Category]; !ok {
		return domainError(422, "VALIDATION_ERROR",
			fmt.Sprintf("unknown category %q", input.Category), nil)
	}
	return nil
}

func profileView(p store.Profile) map[string]any {
	return map[string]any{
		"id":        p.ID,
		"username":  nullable(p.Username),
		"fullName":  nullable(p.FullName),
		"avatarUrl": nullable(p.AvatarURL),
		"bio":       nullable(p.Bio),
	}
}

func postView(p store.Post) map[string]any {
	return map[string]any{
		"id":              p.ID,
		"title":           p.Title,
		"bookTitle":       p.BookTitle,
		"bookAuthor":      p.BookAuthor,
		"content":         p.Content,
		"userName":        p.UserName,
		"category":        p.Category,
		"coverUrl":        nullable(p.CoverURL),
		"userId":          p.UserID,
		"createdAt":       p.CreatedAt.Format(time.RFC3339),
		"authorAvatarUrl": nullable(p.AuthorAvatarURL),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
