package app

import (
	"context"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"salon/api/internal/roles"
	"salon/api/internal/search"
	"salon/api/internal/store"
	"salon/api/internal/util"
)

type CircleInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Theme       string `json:"theme"`
	IsPrivate   bool   `json:"isPrivate"`
	CoverURL    string `json:"coverUrl"`
}

type ReadingInput struct {
	ID         string `json:"id"`
	BookTitle  string `json:"bookTitle"`
	BookAuthor string `json:"bookAuthor"`
	EndDate    string `json:"endDate"`
	Synthesis  string `json:"synthesis"`
}

type PollInput struct {
	Options []store.PollOption `json:"options"`
}

type QuoteInput struct {
	Content    string `json:"content"`
	PageNumber string `json:"pageNumber"`
}

type EventInput struct {
	Title       string `json:"title"`
	EventDate   string `json:"eventDate"`
	MeetingLink string `json:"meetingLink"`
}

type MessageInput struct {
	Content   string  `json:"content"`
	ReplyToID *string `json:"replyToId"`
}

type JournalInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// PollOptionView is one poll option with its live tally.
type PollOptionView struct {
	Title   string `json:"title"`
	Author  string `json:"author"`
	Votes   int    `json:"votes"`
	Percent int    `json:"percent"`
}

// PollView is the open poll with per-option tallies. With zero votes every
// option reports 0 percent.
type PollView struct {
	ID         string           `json:"id"`
	Options    []PollOptionView `json:"options"`
	TotalVotes int              `json:"totalVotes"`
	UserVote   *int             `json:"userVote"`
	IsClosed   bool             `json:"isClosed"`
}

// CircleDetail aggregates everything a circle page shows. Sub-collections
// that failed to load are present but empty.
type CircleDetail struct {
	Circle          map[string]any   `json:"circle"`
	Members         []map[string]any `json:"members"`
	Readings        []map[string]any `json:"readings"`
	Poll            *PollView        `json:"poll"`
	Quotes          []map[string]any `json:"quotes"`
	Events          []map[string]any `json:"events"`
	Threads         []map[string]any `json:"threads"`
	Progress        []map[string]any `json:"progress"`
	AverageProgress int              `json:"averageProgress"`
	Roles           []map[string]any `json:"roles"`
	Journal         []map[string]any `json:"journal"`
	History         []map[string]any `json:"history"`
	IsMember        bool             `json:"isMember"`
	IsCreator       bool             `json:"isCreator"`
}

// circleGenerations tracks a per-circle change counter. A detail load that
// overlaps a mutation is retried so callers never see a stale snapshot win.
type circleGenerations struct {
	mu   sync.Mutex
	gens map[string]uint64
}

func newCircleGenerations() *circleGenerations {
	return &circleGenerations{gens: make(map[string]uint64)}
}

func (g *circleGenerations) current(circleID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gens[circleID]
}

func (g *circleGenerations) bump(circleID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gens[circleID]++
}

func (s *Service) ListCircles(ctx context.Context) ([]map[string]any, error) {
	circles, err := s.store.ListCircles(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(circles))
	for _, c := range circles {
		items = append(items, circleView(c))
	}
	return items, nil
}

func (s *Service) CreateCircle(ctx context.Context, session Session, input CircleInput) (*CircleDetail, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "name is required", nil)
	}
	circle := store.Circle{
		ID:          util.NewID("cir"),
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Theme:       firstNonBlank(input.Theme, "littérature générale"),
		IsPrivate:   input.IsPrivate,
		CoverURL:    strings.TrimSpace(input.CoverURL),
		CreatorID:   session.UserID,
	}
	if err := s.store.InsertCircle(ctx, circle); err != nil {
		return nil, err
	}
	return s.LoadCircleDetail(ctx, circle.ID, session.UserID)
}

func (s *Service) JoinCircle(ctx context.Context, session Session, circleID string) (*CircleDetail, error) {
	if _, err := s.store.GetCircle(ctx, circleID); err != nil {
		return nil, err
	}
	if err := s.store.JoinCircle(ctx, circleID, session.UserID); err != nil {
		return nil, err
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

func (s *Service) LeaveCircle(ctx context.Context, session Session, circleID string) error {
	circle, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return err
	}
	if circle.CreatorID == session.UserID {
		return domainError(409, "CREATOR_CANNOT_LEAVE", "The circle creator cannot leave their own circle", nil)
	}
	if err := s.store.LeaveCircle(ctx, circleID, session.UserID); err != nil {
		return err
	}
	s.gens.bump(circleID)
	return nil
}

// LoadCircleDetail loads the circle and all of its sub-collections
// concurrently. The circle row itself is required; each sub-collection that
// fails is logged and served empty. If a mutation lands while the load is in
// flight the whole load is retried so the returned snapshot is never stale.
func (s *Service) LoadCircleDetail(ctx context.Context, circleID, viewerID string) (*CircleDetail, error) {
	for attempt := 0; ; attempt++ {
		gen := s.gens.current(circleID)
		detail, err := s.loadCircleDetailOnce(ctx, circleID, viewerID)
		if err != nil {
			return nil, err
		}
		if s.gens.current(circleID) == gen || attempt >= 2 {
			return detail, nil
		}
	}
}

func (s *Service) loadCircleDetailOnce(ctx context.Context, circleID, viewerID string) (*CircleDetail, error) {
	circle, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}

	detail := &CircleDetail{
		Circle:   circleView(circle),
		Members:  []map[string]any{},
		Readings: []map[string]any{},
		Quotes:   []map[string]any{},
		Events:   []map[string]any{},
		Threads:  []map[string]any{},
		Progress: []map[string]any{},
		Roles:    []map[string]any{},
		Journal:  []map[string]any{},
		History:  []map[string]any{},
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	fetch := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				log.Printf("circle %s: load %s: %v", circleID, name, err)
			}
		}()
	}

	fetch("members", func() error {
		members, err := s.store.ListCircleMembers(ctx, circleID)
		if err != nil {
			return err
		}
		views := make([]map[string]any, 0, len(members))
		isMember := false
		for _, m := range members {
			if m.ID == viewerID {
				isMember = true
			}
			views = append(views, profileView(m))
		}
		mu.Lock()
		detail.Members = views
		detail.IsMember = isMember
		mu.Unlock()
		return nil
	})

	fetch("readings", func() error {
		readings, err := s.store.ListCircleReadings(ctx, circleID)
		if err != nil {
			return err
		}
		views := make([]map[string]any, 0, len(readings))
		for _, r := range readings {
			views = append(views, readingView(r))
		}
		mu.Lock()
		detail.Readings = views
		mu.Unlock()
		return nil
	})

	fetch("poll", func() error {
		poll, err := s.store.OpenPoll(ctx, circleID)
		if err != nil {
			return err
		}
		if poll == nil {
			return nil
		}
		votes, err := s.store.ListPollVotes(ctx, poll.ID)
		if err != nil {
			return err
		}
		view := tallyPoll(*poll, votes, viewerID)
		mu.Lock()
		detail.Poll = &view
		mu.Unlock()
		return nil
	})

	fetch("quotes", func() error {
		quotes, err := s.store.ListCircleQuotes(ctx, circleID)
		if err != nil {
			return err
		}
		views := make([]map[string]any, 0, len(quotes))
		for _, q := range quotes {
			views = append(views, quoteView(q))
		}
		mu.Lock()
		detail.Quotes = views
		mu.Unlock()
		return nil
	})

	fetch("events", func() error {
		events, err := s.store.ListCircleEvents(ctx, circleID)
		if err != nil {
			return err
		}
		views := make([]map[string]any, 0, len(events))
		for _, e := range events {
			views = append(views, eventView(e))
		}
		mu.Lock()
		detail.Events = views
		mu.Unlock()
		return nil
	})

	fetch("threads", func() error {
		threads, err := s.store.ListCircleThreads(ctx, circleID)
		if err != nil {
			return err
		}
		views := make([]map[string]any, 0, len(threads))
		for _, t := range threads {
			views = append(views, threadView(t))
		}
		mu.Lock()
		detail.Threads = views
		mu.Unlock()
		return nil
	})

	fetch("progress", func() error {
		progress, err := s.store.ListMemberProgress(ctx, circleID)
		if err != nil {
			return err
		}
		views := make([]map[string]any, 0, len(progress))
		for _, p := range progress {
			views = append(views, map[string]any{
				"userId":     p.UserID,
				"percentage": p.Percentage,
			})
		}
		avg := averageProgress(progress)
		mu.Lock()
		detail.Progress = views
		detail.AverageProgress = avg
		mu.Unlock()
		return nil
	})

	fetch("roles", func() error {
		roleRows, err := s.store.ListReadingRoles(ctx, circleID)
		if err != nil {
			return err
		}
		views := make([]map[string]any, 0, len(roleRows))
		for _, r := range roleRows {
			views = append(views, roleView(r))
		}
		mu.Lock()
		detail.Roles = views
		mu.Unlock()
		return nil
	})

	fetch("journal", func() error {
		entries, err := s.store.ListJournalEntries(ctx, circleID)
		if err != nil {
			return err
		}
		views := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			views = append(views, journalView(e))
		}
		mu.Lock()
		detail.Journal = views
		mu.Unlock()
		return nil
	})

	fetch("history", func() error {
		entries, err := s.store.ListHistoryEntries(ctx, circleID)
		if err != nil {
			return err
		}
		views := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			views = append(views, historyView(e))
		}
		mu.Lock()
		detail.History = views
		mu.Unlock()
		return nil
	})

	wg.Wait()

	detail.IsCreator = roles.IsCreator(circle.CreatorID, viewerID)
	return detail, nil
}

// tallyPoll counts votes per option. Division only happens with at least one
// vote, so an untouched poll shows 0 percent everywhere.
func tallyPoll(poll store.CirclePoll, votes []store.PollVote, viewerID string) PollView {
	counts := make([]int, len(poll.Options))
	var userVote *int
	total := 0
	for _, v := range votes {
		if v.OptionIndex < 0 || v.OptionIndex >= len(counts) {
			continue
		}
		counts[v.OptionIndex]++
		total++
		if v.UserID == viewerID {
			idx := v.OptionIndex
			userVote = &idx
		}
	}

	options := make([]PollOptionView, len(poll.Options))
	for i, opt := range poll.Options {
		percent := 0
		if total > 0 {
			percent = int(math.Round(float64(counts[i]) / float64(total) * 100))
		}
		options[i] = PollOptionView{
			Title:   opt.Title,
			Author:  opt.Author,
			Votes:   counts[i],
			Percent: percent,
		}
	}

	return PollView{
		ID:         poll.ID,
		Options:    options,
		TotalVotes: total,
		UserVote:   userVote,
		IsClosed:   poll.IsClosed,
	}
}

// averageProgress is the rounded mean of member percentages, 0 when empty.
func averageProgress(progress []store.MemberProgress) int {
	if len(progress) == 0 {
		return 0
	}
	sum := 0
	for _, p := range progress {
		sum += p.Percentage
	}
	return int(math.Round(float64(sum) / float64(len(progress))))
}

// requireMember loads the circle and verifies the viewer belongs to it.
func (s *Service) requireMember(ctx context.Context, circleID, viewerID string) (store.Circle, error) {
	circle, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return store.Circle{}, err
	}
	members, err := s.store.ListCircleMembers(ctx, circleID)
	if err != nil {
		return store.Circle{}, err
	}
	for _, m := range members {
		if m.ID == viewerID {
			return circle, nil
		}
	}
	return store.Circle{}, domainError(403, "NOT_MEMBER", "You must join the circle first", nil)
}

func (s *Service) circleAssignments(ctx context.Context, circleID string) ([]roles.Assignment, error) {
	roleRows, err := s.store.ListReadingRoles(ctx, circleID)
	if err != nil {
		return nil, err
	}
	assignments := make([]roles.Assignment, 0, len(roleRows))
	for _, r := range roleRows {
		assignments = append(assignments, roles.Assignment{UserID: r.UserID, RoleName: roles.Role(r.RoleName)})
	}
	return assignments, nil
}

// Vote records the member's choice on the open poll. Re-voting replaces the
// previous choice.
func (s *Service) Vote(ctx context.Context, session Session, circleID string, optionIndex int) (*CircleDetail, error) {
	if _, err := s.requireMember(ctx, circleID, session.UserID); err != nil {
		return nil, err
	}
	poll, err := s.store.OpenPoll(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if poll == nil {
		return nil, domainError(404, "NO_OPEN_POLL", "No open poll in this circle", nil)
	}
	if optionIndex < 0 || optionIndex >= len(poll.Options) {
		return nil, domainError(422, "VALIDATION_ERROR", "optionIndex out of range", nil)
	}
	if err := s.store.UpsertPollVote(ctx, store.PollVote{
		PollID:      poll.ID,
		UserID:      session.UserID,
		OptionIndex: optionIndex,
	}); err != nil {
		return nil, err
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

func (s *Service) CreatePoll(ctx context.Context, session Session, circleID string, input PollInput) (*CircleDetail, error) {
	circle, err := s.requireMember(ctx, circleID, session.UserID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.circleAssignments(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if !roles.Holds(assignments, circle.CreatorID, session.UserID, roles.RoleModerator) {
		return nil, domainError(403, "FORBIDDEN", "Only the creator or a moderator can open a poll", nil)
	}
	if len(input.Options) < 2 {
		return nil, domainError(422, "VALIDATION_ERROR", "a poll needs at least two options", nil)
	}
	for _, opt := range input.Options {
		if strings.TrimSpace(opt.Title) == "" {
			return nil, domainError(422, "VALIDATION_ERROR", "every option needs a title", nil)
		}
	}
	open, err := s.store.OpenPoll(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, domainError(409, "POLL_ALREADY_OPEN", "Close the current poll before opening a new one", nil)
	}
	if err := s.store.InsertPoll(ctx, store.CirclePoll{
		ID:       util.NewID("poll"),
		CircleID: circleID,
		Options:  input.Options,
	}); err != nil {
		return nil, err
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

// ClosePoll closes the open poll and records the winning option as the next
// reading. Ties resolve to the lowest option index.
func (s *Service) ClosePoll(ctx context.Context, session Session, circleID string) (*CircleDetail, error) {
	circle, err := s.requireMember(ctx, circleID, session.UserID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.circleAssignments(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if !roles.Holds(assignments, circle.CreatorID, session.UserID, roles.RoleModerator) {
		return nil, domainError(403, "FORBIDDEN", "Only the creator or a moderator can close a poll", nil)
	}
	poll, err := s.store.OpenPoll(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if poll == nil {
		return nil, domainError(404, "NO_OPEN_POLL", "No open poll in this circle", nil)
	}
	votes, err := s.store.ListPollVotes(ctx, poll.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.ClosePoll(ctx, poll.ID); err != nil {
		return nil, err
	}

	view := tallyPoll(*poll, votes, session.UserID)
	winner := 0
	for i, opt := range view.Options {
		if opt.Votes > view.Options[winner].Votes {
			winner = i
		}
	}
	if len(poll.Options) > 0 && view.TotalVotes > 0 {
		won := poll.Options[winner]
		if err := s.store.InsertReading(ctx, store.CircleReading{
			ID:         util.NewID("read"),
			CircleID:   circleID,
			BookTitle:  won.Title,
			BookAuthor: won.Author,
			EndDate:    time.Now().AddDate(0, 1, 0),
		}); err != nil {
			log.Printf("circle %s: record winning reading: %v", circleID, err)
		}
	}

	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

func (s *Service) SaveReading(ctx context.Context, session Session, circleID string, input ReadingInput) (*CircleDetail, error) {
	circle, err := s.requireMember(ctx, circleID, session.UserID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.circleAssignments(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if !roles.Holds(assignments, circle.CreatorID, session.UserID, roles.RoleModerator) {
		return nil, domainError(403, "FORBIDDEN", "Only the creator or a moderator can manage readings", nil)
	}
	if strings.TrimSpace(input.BookTitle) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "bookTitle is required", nil)
	}
	endDate, err := time.Parse("2006-01-02", input.EndDate)
	if err != nil {
		return nil, domainError(422, "VALIDATION_ERROR", "endDate must be YYYY-MM-DD", nil)
	}

	reading := store.CircleReading{
		ID:         input.ID,
		CircleID:   circleID,
		BookTitle:  strings.TrimSpace(input.BookTitle),
		BookAuthor: strings.TrimSpace(input.BookAuthor),
		EndDate:    endDate,
		Synthesis:  input.Synthesis,
	}
	if reading.ID == "" {
		reading.ID = util.NewID("read")
		err = s.store.InsertReading(ctx, reading)
	} else {
		err = s.store.UpdateReading(ctx, reading)
	}
	if err != nil {
		return nil, err
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

func (s *Service) AddQuote(ctx context.Context, session Session, circleID string, input QuoteInput) (*CircleDetail, error) {
	if _, err := s.requireMember(ctx, circleID, session.UserID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "content is required", nil)
	}
	quote := store.CircleQuote{
		ID:         util.NewID("quo"),
		CircleID:   circleID,
		UserID:     session.UserID,
		Content:    strings.TrimSpace(input.Content),
		PageNumber: strings.TrimSpace(input.PageNumber),
	}
	if err := s.store.InsertQuote(ctx, quote); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexQuote(search.QuoteRecord{
			ID:       quote.ID,
			Text:     quote.Content,
			CircleID: circleID,
		})
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

func (s *Service) UpdateQuote(ctx context.Context, session Session, circleID, quoteID string, input QuoteInput) (*CircleDetail, error) {
	if _, err := s.requireMember(ctx, circleID, session.UserID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "content is required", nil)
	}
	ok, err := s.store.UpdateQuote(ctx, store.CircleQuote{
		ID:         quoteID,
		Content:    strings.TrimSpace(input.Content),
		PageNumber: strings.TrimSpace(input.PageNumber),
	}, session.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(403, "FORBIDDEN", "Only the author can edit this quote", nil)
	}
	if s.search != nil {
		s.search.IndexQuote(search.QuoteRecord{
			ID:       quoteID,
			Text:     strings.TrimSpace(input.Content),
			CircleID: circleID,
		})
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

func (s *Service) DeleteQuote(ctx context.Context, session Session, circleID, quoteID string) (*CircleDetail, error) {
	if _, err := s.requireMember(ctx, circleID, session.UserID); err != nil {
		return nil, err
	}
	ok, err := s.store.DeleteQuote(ctx, quoteID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(403, "FORBIDDEN", "Only the author can delete this quote", nil)
	}
	if s.search != nil {
		s.search.DeleteQuote(quoteID)
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

func (s *Service) CreateEvent(ctx context.Context, session Session, circleID string, input EventInput) (*CircleDetail, error) {
	circle, err := s.requireMember(ctx, circleID, session.UserID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.circleAssignments(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if !roles.Holds(assignments, circle.CreatorID, session.UserID, roles.RoleModerator) {
		return nil, domainError(403, "FORBIDDEN", "Only the creator or a moderator can schedule events", nil)
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "title is required", nil)
	}
	eventDate, err := time.Parse(time.RFC3339, input.EventDate)
	if err != nil {
		return nil, domainError(422, "VALIDATION_ERROR", "eventDate must be RFC 3339", nil)
	}
	if err := s.store.InsertEvent(ctx, store.CircleEvent{
		ID:          util.NewID("evt"),
		CircleID:    circleID,
		Title:       strings.TrimSpace(input.Title),
		EventDate:   eventDate,
		MeetingLink: strings.TrimSpace(input.MeetingLink),
	}); err != nil {
		return nil, err
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

func (s *Service) CreateThread(ctx context.Context, session Session, circleID, title string) (*CircleDetail, error) {
	if _, err := s.requireMember(ctx, circleID, session.UserID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "title is required", nil)
	}
	if err := s.store.InsertThread(ctx, store.CircleThread{
		ID:       util.NewID("thr"),
		CircleID: circleID,
		Title:    strings.TrimSpace(title),
	}); err != nil {
		return nil, err
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

// OpenThread returns the thread with its full message history, oldest first.
func (s *Service) OpenThread(ctx context.Context, session Session, circleID, threadID string) (map[string]any, error) {
	if _, err := s.requireMember(ctx, circleID, session.UserID); err != nil {
		return nil, err
	}
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.CircleID != circleID {
		return nil, domainError(404, "NOT_FOUND", "Thread does not belong to this circle", nil)
	}
	messages, err := s.store.ListThreadMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		views = append(views, messageView(m))
	}
	view := threadView(thread)
	view["messages"] = views
	return view, nil
}

func (s *Service) SendMessage(ctx context.Context, session Session, circleID, threadID string, input MessageInput) (map[string]any, error) {
	if _, err := s.requireMember(ctx, circleID, session.UserID); err != nil {
		return nil, err
	}
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.CircleID != circleID {
		return nil, domainError(404, "NOT_FOUND", "Thread does not belong to this circle", nil)
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "content is required", nil)
	}
	if err := s.store.InsertThreadMessage(ctx, store.ThreadMessage{
		ID:        util.NewID("msg"),
		ThreadID:  threadID,
		UserID:    session.UserID,
		Content:   input.Content,
		ReplyToID: input.ReplyToID,
	}); err != nil {
		return nil, err
	}
	s.gens.bump(circleID)
	return s.OpenThread(ctx, session, circleID, threadID)
}

func (s *Service) EditMessage(ctx context.Context, session Session, circleID, threadID, messageID, content string) (map[string]any, error) {
	if _, err := s.requireMember(ctx, circleID, session.UserID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "content is required", nil)
	}
	ok, err := s.store.UpdateThreadMessage(ctx, messageID, session.UserID, content)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(403, "FORBIDDEN", "Only the author can edit this message", nil)
	}
	s.gens.bump(circleID)
	return s.OpenThread(ctx, session, circleID, threadID)
}

func (s *Service) DeleteMessage(ctx context.Context, session Session, circleID, threadID, messageID string) (map[string]any, error) {
	if _, err := s.requireMember(ctx, circleID, session.UserID); err != nil {
		return nil, err
	}
	ok, err := s.store.DeleteThreadMessage(ctx, messageID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(403, "FORBIDDEN", "Only the author can delete this message", nil)
	}
	s.gens.bump(circleID)
	return s.OpenThread(ctx, session, circleID, threadID)
}

func (s *Service) SetProgress(ctx context.Context, session Session, circleID string, percentage int) (*CircleDetail, error) {
	if _, err := s.requireMember(ctx, circleID, session.UserID); err != nil {
		return nil, err
	}
	if percentage < 0 || percentage > 100 {
		return nil, domainError(422, "VALIDATION_ERROR", "percentage must be between 0 and 100", nil)
	}
	if err := s.store.UpsertMemberProgress(ctx, store.MemberProgress{
		CircleID:   circleID,
		UserID:     session.UserID,
		Percentage: percentage,
	}); err != nil {
		return nil, err
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

// AssignRole gives a reading role to a member. Each role has a single
// holder; reassigning replaces the previous one.
func (s *Service) AssignRole(ctx context.Context, session Session, circleID, userID string, roleName string) (*CircleDetail, error) {
	circle, err := s.requireMember(ctx, circleID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !roles.CanManage(circle.CreatorID, session.UserID) {
		return nil, domainError(403, "FORBIDDEN", "Only the creator can assign roles", nil)
	}
	if !roles.Known(roles.Role(roleName)) {
		return nil, domainError(422, "VALIDATION_ERROR", "unknown role "+roleName, nil)
	}
	members, err := s.store.ListCircleMembers(ctx, circleID)
	if err != nil {
		return nil, err
	}
	found := false
	for _, m := range members {
		if m.ID == userID {
			found = true
			break
		}
	}
	if !found {
		return nil, domainError(422, "VALIDATION_ERROR", "assignee is not a member of this circle", nil)
	}
	if err := s.store.AssignReadingRole(ctx, store.ReadingRole{
		ID:       util.NewID("role"),
		CircleID: circleID,
		UserID:   userID,
		RoleName: roleName,
	}); err != nil {
		return nil, err
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

func (s *Service) SaveJournalEntry(ctx context.Context, session Session, circleID, entryID string, input JournalInput) (*CircleDetail, error) {
	circle, err := s.requireMember(ctx, circleID, session.UserID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.circleAssignments(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if !roles.CanWriteJournal(assignments, circle.CreatorID, session.UserID) {
		return nil, domainError(403, "FORBIDDEN", "Only the scribe or the creator can write the journal", nil)
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "content is required", nil)
	}

	entry := store.JournalEntry{
		ID:       entryID,
		CircleID: circleID,
		UserID:   session.UserID,
		Title:    strings.TrimSpace(input.Title),
		Content:  input.Content,
	}
	if entry.ID == "" {
		entry.ID = util.NewID("jrn")
		err = s.store.InsertJournalEntry(ctx, entry)
	} else {
		if err := s.requireJournalEntry(ctx, circleID, entry.ID); err != nil {
			return nil, err
		}
		err = s.store.UpdateJournalEntry(ctx, entry)
	}
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexJournal(search.JournalRecord{
			ID:       entry.ID,
			Title:    entry.Title,
			Content:  entry.Content,
			CircleID: circleID,
		})
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

func (s *Service) DeleteJournalEntry(ctx context.Context, session Session, circleID, entryID string) (*CircleDetail, error) {
	circle, err := s.requireMember(ctx, circleID, session.UserID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.circleAssignments(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if !roles.CanWriteJournal(assignments, circle.CreatorID, session.UserID) {
		return nil, domainError(403, "FORBIDDEN", "Only the scribe or the creator can edit the journal", nil)
	}
	if err := s.requireJournalEntry(ctx, circleID, entryID); err != nil {
		return nil, err
	}
	if err := s.store.DeleteJournalEntry(ctx, entryID); err != nil {
		return nil, err
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

func (s *Service) requireJournalEntry(ctx context.Context, circleID, entryID string) error {
	entries, err := s.store.ListJournalEntries(ctx, circleID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID == entryID {
			return nil
		}
	}
	return domainError(404, "NOT_FOUND", "Journal entry not found in this circle", nil)
}

func (s *Service) SaveHistoryEntry(ctx context.Context, session Session, circleID, entryID, content string) (*CircleDetail, error) {
	circle, err := s.requireMember(ctx, circleID, session.UserID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.circleAssignments(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if !roles.CanWriteHistory(assignments, circle.CreatorID, session.UserID) {
		return nil, domainError(403, "FORBIDDEN", "Only the historian or the creator can write the circle history", nil)
	}
	if strings.TrimSpace(content) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "content is required", nil)
	}

	entry := store.HistoryEntry{
		ID:       entryID,
		CircleID: circleID,
		UserID:   session.UserID,
		Content:  content,
	}
	if entry.ID == "" {
		entry.ID = util.NewID("his")
		err = s.store.InsertHistoryEntry(ctx, entry)
	} else {
		if err := s.requireHistoryEntry(ctx, circleID, entry.ID); err != nil {
			return nil, err
		}
		err = s.store.UpdateHistoryEntry(ctx, entry)
	}
	if err != nil {
		return nil, err
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

func (s *Service) DeleteHistoryEntry(ctx context.Context, session Session, circleID, entryID string) (*CircleDetail, error) {
	circle, err := s.requireMember(ctx, circleID, session.UserID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.circleAssignments(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if !roles.CanWriteHistory(assignments, circle.CreatorID, session.UserID) {
		return nil, domainError(403, "FORBIDDEN", "Only the historian or the creator can edit the circle history", nil)
	}
	if err := s.requireHistoryEntry(ctx, circleID, entryID); err != nil {
		return nil, err
	}
	if err := s.store.DeleteHistoryEntry(ctx, entryID); err != nil {
		return nil, err
	}
	s.gens.bump(circleID)
	return s.LoadCircleDetail(ctx, circleID, session.UserID)
}

func (s *Service) requireHistoryEntry(ctx context.Context, circleID, entryID string) error {
	entries, err := s.store.ListHistoryEntries(ctx, circleID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID == entryID {
			return nil
		}
	}
	return domainError(404, "NOT_FOUND", "History entry not found in this circle", nil)
}

func circleView(c store.Circle) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"name":        c.Name,
		"description": c.Description,
		"theme":       c.Theme,
		"isPrivate":   c.IsPrivate,
		"coverUrl":    nullable(c.CoverURL),
		"creatorId":   c.CreatorID,
		"memberCount": c.MemberCount,
		"createdAt":   c.CreatedAt.Format(time.RFC3339),
	}
}

func readingView(r store.CircleReading) map[string]any {
	return map[string]any{
		"id":         r.ID,
		"bookTitle":  r.BookTitle,
		"bookAuthor": r.BookAuthor,
		"endDate":    r.EndDate.Format("2006-01-02"),
		"synthesis":  nullable(r.Synthesis),
		"createdAt":  r.CreatedAt.Format(time.RFC3339),
	}
}

func quoteView(q store.CircleQuote) map[string]any {
	return map[string]any{
		"id":              q.ID,
		"userId":          q.UserID,
		"content":         q.Content,
		"pageNumber":      nullable(q.PageNumber),
		"createdAt":       q.CreatedAt.Format(time.RFC3339),
		"authorName":      nullable(q.AuthorName),
		"authorAvatarUrl": nullable(q.AuthorAvatarURL),
	}
}

func eventView(e store.CircleEvent) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"title":       e.Title,
		"eventDate":   e.EventDate.Format(time.RFC3339),
		"meetingLink": nullable(e.MeetingLink),
	}
}

func threadView(t store.CircleThread) map[string]any {
	return map[string]any{
		"id":        t.ID,
		"title":     t.Title,
		"createdAt": t.CreatedAt.Format(time.RFC3339),
	}
}

func messageView(m store.ThreadMessage) map[string]any {
	var replyTo any
	if m.ReplyToID != nil {
		replyTo = *m.ReplyToID
	}
	return map[string]any{
		"id":              m.ID,
		"userId":          m.UserID,
		"content":         m.Content,
		"replyToId":       replyTo,
		"createdAt":       m.CreatedAt.Format(time.RFC3339),
		"authorName":      nullable(m.AuthorName),
		"authorAvatarUrl": nullable(m.AuthorAvatarURL),
	}
}

func roleView(r store.ReadingRole) map[string]any {
	return map[string]any{
		"id":              r.ID,
		"userId":          r.UserID,
		"roleName":        r.RoleName,
		"holderName":      nullable(r.HolderName),
		"holderAvatarUrl": nullable(r.HolderAvatarURL),
	}
}

func journalView(e store.JournalEntry) map[string]any {
	return map[string]any{
		"id":              e.ID,
		"userId":          e.UserID,
		"title":           nullable(e.Title),
		"content":         e.Content,
		"createdAt":       e.CreatedAt.Format(time.RFC3339),
		"authorName":      nullable(e.AuthorName),
		"authorAvatarUrl": nullable(e.AuthorAvatarURL),
	}
}

func historyView(e store.HistoryEntry) map[string]any {
	return map[string]any{
		"id":              e.ID,
		"userId":          e.UserID,
		"content":         e.Content,
		"createdAt":       e.CreatedAt.Format(time.RFC3339),
		"authorName":      nullable(e.AuthorName),
		"authorAvatarUrl": nullable(e.AuthorAvatarURL),
	}
}
