package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"salon/api/internal/config"
	"salon/api/internal/roles"
	"salon/api/internal/store"
)

// memStore is an in-memory dataStore and sessionStore for service tests.
type memStore struct {
	mu       sync.Mutex
	profiles map[string]store.Profile
	posts    map[string]store.Post
	circles  map[string]store.Circle
	members  map[string][]string
	readings map[string][]store.CircleReading
	polls    map[string]store.CirclePoll
	votes    map[string]map[string]store.PollVote
	quotes   map[string]store.CircleQuote
	events   map[string][]store.CircleEvent
	threads  map[string]store.CircleThread
	messages map[string]store.ThreadMessage
	progress map[string]map[string]int
	roles    map[string]map[string]store.ReadingRole
	journal  map[string]store.JournalEntry
	history  map[string]store.HistoryEntry
	resets   map[string]string
	refresh  map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		profiles: map[string]store.Profile{},
		posts:    map[string]store.Post{},
		circles:  map[string]store.Circle{},
		members:  map[string][]string{},
		readings: map[string][]store.CircleReading{},
		polls:    map[string]store.CirclePoll{},
		votes:    map[string]map[string]store.PollVote{},
		quotes:   map[string]store.CircleQuote{},
		events:   map[string][]store.CircleEvent{},
		threads:  map[string]store.CircleThread{},
		messages: map[string]store.ThreadMessage{},
		progress: map[string]map[string]int{},
		roles:    map[string]map[string]store.ReadingRole{},
		journal:  map[string]store.JournalEntry{},
		history:  map[string]store.HistoryEntry{},
		resets:   map[string]string{},
		refresh:  map[string]string{},
	}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) GetProfileByID(_ context.Context, id string) (store.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	return p, nil
}

func (m *memStore) GetProfileByEmail(_ context.Context, email string) (store.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.Email == email {
			return p, nil
		}
	}
	return store.Profile{}, sql.ErrNoRows
}

func (m *memStore) CreateProfile(_ context.Context, p store.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
	return nil
}

func (m *memStore) UpdateProfile(_ context.Context, id, username, fullName, avatarURL, bio string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.Username, p.FullName, p.AvatarURL, p.Bio = username, fullName, avatarURL, bio
	m.profiles[id] = p
	return nil
}

func (m *memStore) UpdateVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID]
	p.VerificationToken = token
	m.profiles[userID] = p
	return nil
}

func (m *memStore) VerifyEmail(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.profiles {
		if p.VerificationToken == token && token != "" {
			p.IsEmailVerified = true
			p.VerificationToken = ""
			m.profiles[id] = p
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) UpdatePassword(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID]
	p.PasswordHash = hash
	m.profiles[userID] = p
	return nil
}

func (m *memStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[token] = userID
	return nil
}

func (m *memStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (m *memStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resets, token)
	return nil
}

func (m *memStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = userID
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.refresh[tokenHash]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	return store.Profile{ID: userID}, nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, tokenHash)
	return nil
}

func (m *memStore) ListPosts(_ context.Context, category string) ([]store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var posts []store.Post
	for _, p := range m.posts {
		if category == "" || p.Category == category {
			posts = append(posts, p)
		}
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].CreatedAt.After(posts[j].CreatedAt) })
	return posts, nil
}

func (m *memStore) GetPost(_ context.Context, id string) (store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return store.Post{}, sql.ErrNoRows
	}
	return p, nil
}

func (m *memStore) InsertPost(_ context.Context, p store.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.CreatedAt = time.Now()
	m.posts[p.ID] = p
	return nil
}

func (m *memStore) UpdatePost(_ context.Context, p store.Post, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.posts[p.ID]
	if !ok || existing.UserID != userID {
		return false, nil
	}
	existing.Title, existing.BookTitle, existing.BookAuthor = p.Title, p.BookTitle, p.BookAuthor
	existing.Content, existing.Category, existing.CoverURL = p.Content, p.Category, p.CoverURL
	m.posts[p.ID] = existing
	return true, nil
}

func (m *memStore) DeletePost(_ context.Context, id, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.posts[id]
	if !ok || existing.UserID != userID {
		return false, nil
	}
	delete(m.posts, id)
	return true, nil
}

func (m *memStore) ListQuotesForBook(context.Context, string) ([]store.CircleQuote, error) {
	return nil, nil
}

func (m *memStore) ListCircles(context.Context) ([]store.Circle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var circles []store.Circle
	for _, c := range m.circles {
		c.MemberCount = len(m.members[c.ID])
		circles = append(circles, c)
	}
	return circles, nil
}

func (m *memStore) GetCircle(_ context.Context, id string) (store.Circle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.circles[id]
	if !ok {
		return store.Circle{}, sql.ErrNoRows
	}
	c.MemberCount = len(m.members[id])
	return c, nil
}

func (m *memStore) InsertCircle(_ context.Context, c store.Circle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.CreatedAt = time.Now()
	m.circles[c.ID] = c
	m.members[c.ID] = append(m.members[c.ID], c.CreatorID)
	return nil
}

func (m *memStore) JoinCircle(_ context.Context, circleID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.members[circleID] {
		if id == userID {
			return nil
		}
	}
	m.members[circleID] = append(m.members[circleID], userID)
	return nil
}

func (m *memStore) LeaveCircle(_ context.Context, circleID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.members[circleID][:0]
	for _, id := range m.members[circleID] {
		if id != userID {
			kept = append(kept, id)
		}
	}
	m.members[circleID] = kept
	return nil
}

func (m *memStore) ListCircleMembers(_ context.Context, circleID string) ([]store.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var members []store.Profile
	for _, id := range m.members[circleID] {
		if p, ok := m.profiles[id]; ok {
			members = append(members, p)
		} else {
			members = append(members, store.Profile{ID: id})
		}
	}
	return members, nil
}

func (m *memStore) ListCircleReadings(_ context.Context, circleID string) ([]store.CircleReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.CircleReading(nil), m.readings[circleID]...), nil
}

func (m *memStore) InsertReading(_ context.Context, r store.CircleReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.CreatedAt = time.Now()
	m.readings[r.CircleID] = append(m.readings[r.CircleID], r)
	return nil
}

func (m *memStore) UpdateReading(_ context.Context, r store.CircleReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.readings[r.CircleID] {
		if existing.ID == r.ID {
			r.CreatedAt = existing.CreatedAt
			m.readings[r.CircleID][i] = r
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) OpenPoll(_ context.Context, circleID string) (*store.CirclePoll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *store.CirclePoll
	for _, p := range m.polls {
		if p.CircleID != circleID || p.IsClosed {
			continue
		}
		poll := p
		if newest == nil || poll.CreatedAt.After(newest.CreatedAt) {
			newest = &poll
		}
	}
	return newest, nil
}

func (m *memStore) InsertPoll(_ context.Context, p store.CirclePoll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.CreatedAt = time.Now()
	m.polls[p.ID] = p
	return nil
}

func (m *memStore) ClosePoll(_ context.Context, pollID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.polls[pollID]
	if !ok {
		return sql.ErrNoRows
	}
	p.IsClosed = true
	m.polls[pollID] = p
	return nil
}

func (m *memStore) ListPollVotes(_ context.Context, pollID string) ([]store.PollVote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var votes []store.PollVote
	for _, v := range m.votes[pollID] {
		votes = append(votes, v)
	}
	return votes, nil
}

func (m *memStore) UpsertPollVote(_ context.Context, v store.PollVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.votes[v.PollID] == nil {
		m.votes[v.PollID] = map[string]store.PollVote{}
	}
	m.votes[v.PollID][v.UserID] = v
	return nil
}

func (m *memStore) ListCircleQuotes(_ context.Context, circleID string) ([]store.CircleQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var quotes []store.CircleQuote
	for _, q := range m.quotes {
		if q.CircleID == circleID {
			quotes = append(quotes, q)
		}
	}
	return quotes, nil
}

func (m *memStore) InsertQuote(_ context.Context, q store.CircleQuote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.CreatedAt = time.Now()
	m.quotes[q.ID] = q
	return nil
}

func (m *memStore) UpdateQuote(_ context.Context, q store.CircleQuote, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.quotes[q.ID]
	if !ok || existing.UserID != userID {
		return false, nil
	}
	existing.Content, existing.PageNumber = q.Content, q.PageNumber
	m.quotes[q.ID] = existing
	return true, nil
}

func (m *memStore) DeleteQuote(_ context.Context, id, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.quotes[id]
	if !ok || existing.UserID != userID {
		return false, nil
	}
	delete(m.quotes, id)
	return true, nil
}

func (m *memStore) ListCircleEvents(_ context.Context, circleID string) ([]store.CircleEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.CircleEvent(nil), m.events[circleID]...), nil
}

func (m *memStore) InsertEvent(_ context.Context, e store.CircleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.CircleID] = append(m.events[e.CircleID], e)
	return nil
}

func (m *memStore) ListCircleThreads(_ context.Context, circleID string) ([]store.CircleThread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var threads []store.CircleThread
	for _, t := range m.threads {
		if t.CircleID == circleID {
			threads = append(threads, t)
		}
	}
	return threads, nil
}

func (m *memStore) GetThread(_ context.Context, id string) (store.CircleThread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return store.CircleThread{}, sql.ErrNoRows
	}
	return t, nil
}

func (m *memStore) InsertThread(_ context.Context, t store.CircleThread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.CreatedAt = time.Now()
	m.threads[t.ID] = t
	return nil
}

func (m *memStore) ListThreadMessages(_ context.Context, threadID string) ([]store.ThreadMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var messages []store.ThreadMessage
	for _, msg := range m.messages {
		if msg.ThreadID == threadID {
			messages = append(messages, msg)
		}
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].CreatedAt.Before(messages[j].CreatedAt) })
	return messages, nil
}

func (m *memStore) InsertThreadMessage(_ context.Context, msg store.ThreadMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.CreatedAt = time.Now()
	m.messages[msg.ID] = msg
	return nil
}

func (m *memStore) UpdateThreadMessage(_ context.Context, id, userID, content string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.UserID != userID {
		return false, nil
	}
	msg.Content = content
	m.messages[id] = msg
	return true, nil
}

func (m *memStore) DeleteThreadMessage(_ context.Context, id, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.UserID != userID {
		return false, nil
	}
	delete(m.messages, id)
	return true, nil
}

func (m *memStore) ListMemberProgress(_ context.Context, circleID string) ([]store.MemberProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var progress []store.MemberProgress
	for userID, pct := range m.progress[circleID] {
		progress = append(progress, store.MemberProgress{CircleID: circleID, UserID: userID, Percentage: pct})
	}
	return progress, nil
}

func (m *memStore) UpsertMemberProgress(_ context.Context, p store.MemberProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.progress[p.CircleID] == nil {
		m.progress[p.CircleID] = map[string]int{}
	}
	m.progress[p.CircleID][p.UserID] = p.Percentage
	return nil
}

func (m *memStore) ListReadingRoles(_ context.Context, circleID string) ([]store.ReadingRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rolesOut []store.ReadingRole
	for _, r := range m.roles[circleID] {
		rolesOut = append(rolesOut, r)
	}
	return rolesOut, nil
}

func (m *memStore) AssignReadingRole(_ context.Context, r store.ReadingRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.roles[r.CircleID] == nil {
		m.roles[r.CircleID] = map[string]store.ReadingRole{}
	}
	m.roles[r.CircleID][r.RoleName] = r
	return nil
}

func (m *memStore) ListJournalEntries(_ context.Context, circleID string) ([]store.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []store.JournalEntry
	for _, e := range m.journal {
		if e.CircleID == circleID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (m *memStore) InsertJournalEntry(_ context.Context, e store.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.CreatedAt = time.Now()
	m.journal[e.ID] = e
	return nil
}

func (m *memStore) UpdateJournalEntry(_ context.Context, e store.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.journal[e.ID]
	if !ok {
		return sql.ErrNoRows
	}
	existing.Title, existing.Content = e.Title, e.Content
	m.journal[e.ID] = existing
	return nil
}

func (m *memStore) DeleteJournalEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.journal, id)
	return nil
}

func (m *memStore) ListHistoryEntries(_ context.Context, circleID string) ([]store.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []store.HistoryEntry
	for _, e := range m.history {
		if e.CircleID == circleID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (m *memStore) InsertHistoryEntry(_ context.Context, e store.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.CreatedAt = time.Now()
	m.history[e.ID] = e
	return nil
}

func (m *memStore) UpdateHistoryEntry(_ context.Context, e store.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.history[e.ID]
	if !ok {
		return sql.ErrNoRows
	}
	existing.Content = e.Content
	m.history[e.ID] = existing
	return nil
}

func (m *memStore) DeleteHistoryEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, id)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		TokenSecret: "test-secret",
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  24 * time.Hour,
	}
}

func newTestService(ms *memStore) *Service {
	return New(testConfig(), ms, ms)
}

func seedUser(ms *memStore, id, name string) Session {
	ms.profiles[id] = store.Profile{ID: id, FullName: name, Email: id + "@test.local", IsEmailVerified: true}
	return Session{UserID: id, UserName: name}
}

func seedCircle(ms *memStore, id, creatorID string) {
	ms.circles[id] = store.Circle{ID: id, Name: "Cercle " + id, Theme: "roman", CreatorID: creatorID}
	ms.members[id] = []string{creatorID}
}

func domainStatus(t *testing.T, err error) int {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr.Status
}

func TestVoteReplacesPreviousChoice(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	creator := seedUser(ms, "u1", "Anne")
	seedCircle(ms, "c1", "u1")

	detail, err := svc.CreatePoll(context.Background(), creator, "c1", PollInput{
		Options: []store.PollOption{{Title: "Candide"}, {Title: "L'Étranger"}},
	})
	if err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	if detail.Poll == nil {
		t.Fatal("expected open poll in detail")
	}

	if _, err := svc.Vote(context.Background(), creator, "c1", 0); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	detail, err = svc.Vote(context.Background(), creator, "c1", 1)
	if err != nil {
		t.Fatalf("second vote: %v", err)
	}

	if detail.Poll.TotalVotes != 1 {
		t.Fatalf("expected 1 total vote after re-vote, got %d", detail.Poll.TotalVotes)
	}
	if detail.Poll.Options[0].Votes != 0 || detail.Poll.Options[1].Votes != 1 {
		t.Fatalf("expected votes to move to option 1, got %+v", detail.Poll.Options)
	}
	if detail.Poll.UserVote == nil || *detail.Poll.UserVote != 1 {
		t.Fatalf("expected userVote 1, got %v", detail.Poll.UserVote)
	}
}

func TestPollTallyWithZeroVotes(t *testing.T) {
	poll := store.CirclePoll{
		ID:      "p1",
		Options: []store.PollOption{{Title: "A"}, {Title: "B"}, {Title: "C"}},
	}
	view := tallyPoll(poll, nil, "u1")
	if view.TotalVotes != 0 {
		t.Fatalf("expected 0 total votes, got %d", view.TotalVotes)
	}
	for i, opt := range view.Options {
		if opt.Percent != 0 {
			t.Fatalf("option %d: expected 0 percent with no votes, got %d", i, opt.Percent)
		}
	}
}

func TestVoteRequiresMembership(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	creator := seedUser(ms, "u1", "Anne")
	outsider := seedUser(ms, "u2", "Basile")
	seedCircle(ms, "c1", "u1")

	if _, err := svc.CreatePoll(context.Background(), creator, "c1", PollInput{
		Options: []store.PollOption{{Title: "A"}, {Title: "B"}},
	}); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}

	_, err := svc.Vote(context.Background(), outsider, "c1", 0)
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403 for non-member vote, got %d", status)
	}
}

func TestVoteOptionIndexOutOfRange(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	creator := seedUser(ms, "u1", "Anne")
	seedCircle(ms, "c1", "u1")

	if _, err := svc.CreatePoll(context.Background(), creator, "c1", PollInput{
		Options: []store.PollOption{{Title: "A"}, {Title: "B"}},
	}); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}

	_, err := svc.Vote(context.Background(), creator, "c1", 2)
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("expected 422 for out-of-range option, got %d", status)
	}
}

func TestClosePollRecordsWinningReading(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	creator := seedUser(ms, "u1", "Anne")
	member := seedUser(ms, "u2", "Basile")
	seedCircle(ms, "c1", "u1")
	ms.members["c1"] = append(ms.members["c1"], "u2")

	if _, err := svc.CreatePoll(context.Background(), creator, "c1", PollInput{
		Options: []store.PollOption{{Title: "Candide", Author: "Voltaire"}, {Title: "L'Étranger", Author: "Camus"}},
	}); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	if _, err := svc.Vote(context.Background(), creator, "c1", 1); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := svc.Vote(context.Background(), member, "c1", 1); err != nil {
		t.Fatalf("vote: %v", err)
	}

	detail, err := svc.ClosePoll(context.Background(), creator, "c1")
	if err != nil {
		t.Fatalf("ClosePoll: %v", err)
	}
	if detail.Poll != nil {
		t.Fatalf("expected no open poll after close, got %+v", detail.Poll)
	}
	if len(detail.Readings) != 1 {
		t.Fatalf("expected winning book recorded as reading, got %d readings", len(detail.Readings))
	}
	if got := detail.Readings[0]["bookTitle"]; got != "L'Étranger" {
		t.Fatalf("expected winning book L'Étranger, got %v", got)
	}
}

func TestAverageProgress(t *testing.T) {
	cases := []struct {
		name string
		pcts []int
		want int
	}{
		{"empty", nil, 0},
		{"single", []int{40}, 40},
		{"typical", []int{20, 60, 100}, 60},
		{"rounded up", []int{50, 51}, 51},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var progress []store.MemberProgress
			for i, pct := range tc.pcts {
				progress = append(progress, store.MemberProgress{UserID: string(rune('a' + i)), Percentage: pct})
			}
			if got := averageProgress(progress); got != tc.want {
				t.Fatalf("averageProgress(%v) = %d, want %d", tc.pcts, got, tc.want)
			}
		})
	}
}

func TestSetProgressReloadsAverage(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	creator := seedUser(ms, "u1", "Anne")
	m2 := seedUser(ms, "u2", "Basile")
	m3 := seedUser(ms, "u3", "Chloé")
	seedCircle(ms, "c1", "u1")
	ms.members["c1"] = append(ms.members["c1"], "u2", "u3")

	if _, err := svc.SetProgress(context.Background(), creator, "c1", 20); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	if _, err := svc.SetProgress(context.Background(), m2, "c1", 60); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	detail, err := svc.SetProgress(context.Background(), m3, "c1", 100)
	if err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	if detail.AverageProgress != 60 {
		t.Fatalf("expected average 60, got %d", detail.AverageProgress)
	}

	_, err = svc.SetProgress(context.Background(), creator, "c1", 150)
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("expected 422 for out-of-range percentage, got %d", status)
	}
}

func TestJournalRequiresScribeOrCreator(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	creator := seedUser(ms, "u1", "Anne")
	member := seedUser(ms, "u2", "Basile")
	seedCircle(ms, "c1", "u1")
	ms.members["c1"] = append(ms.members["c1"], "u2")

	// Plain member cannot write
	_, err := svc.SaveJournalEntry(context.Background(), member, "c1", "", JournalInput{Content: "compte rendu"})
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403 for plain member, got %d", status)
	}

	// Creator always can
	if _, err := svc.SaveJournalEntry(context.Background(), creator, "c1", "", JournalInput{Content: "compte rendu"}); err != nil {
		t.Fatalf("creator journal write: %v", err)
	}

	// Member holding the scribe role can
	if _, err := svc.AssignRole(context.Background(), creator, "c1", "u2", string(roles.RoleScribe)); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if _, err := svc.SaveJournalEntry(context.Background(), member, "c1", "", JournalInput{Content: "suite"}); err != nil {
		t.Fatalf("scribe journal write: %v", err)
	}
}

func TestHistoryRequiresHistorianOrCreator(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	creator := seedUser(ms, "u1", "Anne")
	member := seedUser(ms, "u2", "Basile")
	seedCircle(ms, "c1", "u1")
	ms.members["c1"] = append(ms.members["c1"], "u2")

	_, err := svc.SaveHistoryEntry(context.Background(), member, "c1", "", "première séance")
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403 for plain member, got %d", status)
	}

	if _, err := svc.AssignRole(context.Background(), creator, "c1", "u2", string(roles.RoleHistorian)); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	detail, err := svc.SaveHistoryEntry(context.Background(), member, "c1", "", "première séance")
	if err != nil {
		t.Fatalf("historian history write: %v", err)
	}
	if len(detail.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(detail.History))
	}
}

func TestMessageOwnership(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	creator := seedUser(ms, "u1", "Anne")
	member := seedUser(ms, "u2", "Basile")
	seedCircle(ms, "c1", "u1")
	ms.members["c1"] = append(ms.members["c1"], "u2")

	if _, err := svc.CreateThread(context.Background(), creator, "c1", "Chapitre 1"); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	threads, _ := ms.ListCircleThreads(context.Background(), "c1")
	threadID := threads[0].ID

	if _, err := svc.SendMessage(context.Background(), creator, "c1", threadID, MessageInput{Content: "bonjour"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	messages, _ := ms.ListThreadMessages(context.Background(), threadID)
	messageID := messages[0].ID

	_, err := svc.EditMessage(context.Background(), member, "c1", threadID, messageID, "salut")
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403 editing another user's message, got %d", status)
	}

	_, err = svc.DeleteMessage(context.Background(), member, "c1", threadID, messageID)
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403 deleting another user's message, got %d", status)
	}

	thread, err := svc.EditMessage(context.Background(), creator, "c1", threadID, messageID, "salut")
	if err != nil {
		t.Fatalf("author edit: %v", err)
	}
	msgs := thread["messages"].([]map[string]any)
	if msgs[0]["content"] != "salut" {
		t.Fatalf("expected edited content, got %v", msgs[0]["content"])
	}
}

func TestCreatorCannotLeave(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	creator := seedUser(ms, "u1", "Anne")
	seedCircle(ms, "c1", "u1")

	err := svc.LeaveCircle(context.Background(), creator, "c1")
	if status := domainStatus(t, err); status != 409 {
		t.Fatalf("expected 409 for creator leaving, got %d", status)
	}
}

func TestAssignRoleReplacesHolder(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	creator := seedUser(ms, "u1", "Anne")
	seedUser(ms, "u2", "Basile")
	seedUser(ms, "u3", "Chloé")
	seedCircle(ms, "c1", "u1")
	ms.members["c1"] = append(ms.members["c1"], "u2", "u3")

	if _, err := svc.AssignRole(context.Background(), creator, "c1", "u2", string(roles.RoleScribe)); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	detail, err := svc.AssignRole(context.Background(), creator, "c1", "u3", string(roles.RoleScribe))
	if err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	if len(detail.Roles) != 1 {
		t.Fatalf("expected a single scribe holder, got %d roles", len(detail.Roles))
	}
	if detail.Roles[0]["userId"] != "u3" {
		t.Fatalf("expected u3 to hold the role, got %v", detail.Roles[0]["userId"])
	}

	// Unknown role rejected
	_, err = svc.AssignRole(context.Background(), creator, "c1", "u2", "Concierge")
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("expected 422 for unknown role, got %d", status)
	}

	// Only the creator can assign
	member := Session{UserID: "u2", UserName: "Basile"}
	_, err = svc.AssignRole(context.Background(), member, "c1", "u3", string(roles.RoleScribe))
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403 for non-creator assignment, got %d", status)
	}
}

func TestMutationReturnsFreshDetail(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	creator := seedUser(ms, "u1", "Anne")
	seedCircle(ms, "c1", "u1")

	detail, err := svc.AddQuote(context.Background(), creator, "c1", QuoteInput{Content: "Il faut cultiver notre jardin", PageNumber: "120"})
	if err != nil {
		t.Fatalf("AddQuote: %v", err)
	}
	if len(detail.Quotes) != 1 {
		t.Fatalf("expected quote visible in returned detail, got %d", len(detail.Quotes))
	}
	if detail.Quotes[0]["content"] != "Il faut cultiver notre jardin" {
		t.Fatalf("unexpected quote content %v", detail.Quotes[0]["content"])
	}
	if !detail.IsMember || !detail.IsCreator {
		t.Fatalf("expected creator flags set, got isMember=%v isCreator=%v", detail.IsMember, detail.IsCreator)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	seedUser(ms, "u1", "Anne")

	session, err := svc.IssueSession(context.Background(), ms.profiles["u1"])
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if parsed.UserID != "u1" || parsed.UserName != "Anne" {
		t.Fatalf("unexpected session %+v", parsed)
	}

	refreshed, err := svc.Refresh(context.Background(), session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.UserID != "u1" {
		t.Fatalf("unexpected refreshed session %+v", refreshed)
	}

	// Refresh tokens rotate: the old one is gone
	if _, err := svc.Refresh(context.Background(), session.RefreshToken); err == nil {
		t.Fatal("expected error reusing rotated refresh token")
	}
}

func TestCreatePostValidation(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	author := seedUser(ms, "u1", "Anne")

	_, err := svc.CreatePost(context.Background(), author, PostInput{Title: "Sans livre", Category: "Fiction"})
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("expected 422 for missing fields, got %d", status)
	}

	_, err = svc.CreatePost(context.Background(), author, PostInput{
		Title: "Un exposé", BookTitle: "Candide", Content: "<p>...</p>", Category: "pamphlet",
	})
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("expected 422 for unknown category, got %d", status)
	}

	post, err := svc.CreatePost(context.Background(), author, PostInput{
		Title: "Un exposé", BookTitle: "Candide", BookAuthor: "Voltaire", Content: "<p>...</p>", Category: "Fiction",
	})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if post["userName"] != "Anne" {
		t.Fatalf("expected author name stamped, got %v", post["userName"])
	}
}

func TestUpdatePostOwnership(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	author := seedUser(ms, "u1", "Anne")
	other := seedUser(ms, "u2", "Basile")

	post, err := svc.CreatePost(context.Background(), author, PostInput{
		Title: "Un exposé", BookTitle: "Candide", Content: "<p>...</p>", Category: "Fiction",
	})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	postID := post["id"].(string)

	_, err = svc.UpdatePost(context.Background(), other, postID, PostInput{
		Title: "Pris", BookTitle: "Candide", Content: "<p>...</p>", Category: "Fiction",
	})
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403 for non-author update, got %d", status)
	}

	err = svc.DeletePost(context.Background(), other, postID)
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403 for non-author delete, got %d", status)
	}
}

func TestPollSingleOpenInvariant(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	creator := seedUser(ms, "u1", "Anne")
	seedCircle(ms, "c1", "u1")

	if _, err := svc.CreatePoll(context.Background(), creator, "c1", PollInput{
		Options: []store.PollOption{{Title: "A"}, {Title: "B"}},
	}); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}

	_, err := svc.CreatePoll(context.Background(), creator, "c1", PollInput{
		Options: []store.PollOption{{Title: "C"}, {Title: "D"}},
	})
	if status := domainStatus(t, err); status != 409 {
		t.Fatalf("expected 409 for second open poll, got %d", status)
	}
}

func TestUpdatePostKeepsAuthorName(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	author := seedUser(ms, "u1", "Anne")

	post, err := svc.CreatePost(context.Background(), author, PostInput{
		Title: "Un exposé", BookTitle: "Candide", Content: "<p>...</p>", Category: "Fiction",
	})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	postID := post["id"].(string)

	updated, err := svc.UpdatePost(context.Background(), author, postID, PostInput{
		Title: "Relu", BookTitle: "Candide", Content: "<p>revu</p>", Category: "Fiction",
	})
	if err != nil {
		t.Fatalf("UpdatePost: %v", err)
	}
	if updated["userName"] != "Anne" {
		t.Fatalf("expected the author name to survive an edit, got %v", updated["userName"])
	}

	fetched, err := svc.GetPost(context.Background(), postID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if fetched["userName"] != "Anne" {
		t.Fatalf("expected stored author name Anne, got %v", fetched["userName"])
	}
}

func TestModeratorCanManageCircle(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	creator := seedUser(ms, "u1", "Anne")
	moderator := seedUser(ms, "u2", "Basile")
	member := seedUser(ms, "u3", "Chloé")
	seedCircle(ms, "c1", "u1")
	ms.members["c1"] = append(ms.members["c1"], "u2", "u3")

	if _, err := svc.AssignRole(context.Background(), creator, "c1", "u2", string(roles.RoleModerator)); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	_, err := svc.CreatePoll(context.Background(), moderator, "c1", PollInput{
		Options: []store.PollOption{{Title: "Candide"}, {Title: "L'Étranger"}},
	})
	if err != nil {
		t.Fatalf("moderator CreatePoll: %v", err)
	}
	if _, err := svc.SaveReading(context.Background(), moderator, "c1", ReadingInput{
		BookTitle: "Candide", BookAuthor: "Voltaire", EndDate: "2026-10-01",
	}); err != nil {
		t.Fatalf("moderator SaveReading: %v", err)
	}
	if _, err := svc.CreateEvent(context.Background(), moderator, "c1", EventInput{
		Title: "Rencontre", EventDate: "2026-09-15T19:00:00Z",
	}); err != nil {
		t.Fatalf("moderator CreateEvent: %v", err)
	}

	// A plain member still cannot.
	_, err = svc.SaveReading(context.Background(), member, "c1", ReadingInput{
		BookTitle: "Candide", EndDate: "2026-10-01",
	})
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403 for plain member, got %d", status)
	}
	_, err = svc.AssignRole(context.Background(), moderator, "c1", "u3", string(roles.RoleScribe))
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403, role assignment stays with the creator, got %d", status)
	}
}

func TestTruncateExcerpt(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"court", 280, "court"},
		{"abcdef", 4, "abcd"},
		{"abcd", 4, "abcd"},
		{"ééé", 4, "éé"},
		{"ééé", 5, "éé"},
		{"résumé d'été", 8, "résumé"},
	}
	for _, tc := range cases {
		got := truncateExcerpt(tc.in, tc.max)
		if got != tc.want {
			t.Errorf("truncateExcerpt(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncateExcerpt(%q, %d) produced invalid UTF-8", tc.in, tc.max)
		}
	}
}
