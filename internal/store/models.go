package store

import "time"

type Profile struct {
	ID                    string
	Email                 string
	PasswordHash          string
	Username              string
	FullName              string
	AvatarURL             string
	Bio                   string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Post struct {
	ID         string
	Title      string
	BookTitle  string
	BookAuthor string
	Content    string
	UserName   string
	Category   string
	CoverURL   string
	UserID     string
	CreatedAt  time.Time
	// Joined author avatar for feed rendering
	AuthorAvatarURL string
}

type Circle struct {
	ID          string
	Name        string
	Description string
	Theme       string
	IsPrivate   bool
	CoverURL    string
	CreatorID   string
	CreatedAt   time.Time
	// Joined member count for the circle list
	MemberCount int
}

type CircleReading struct {
	ID         string
	CircleID   string
	BookTitle  string
	BookAuthor string
	EndDate    time.Time
	Synthesis  string
	CreatedAt  time.Time
}

// PollOption is one candidate book in a poll. Options are stored as an
// ordered JSONB array; option_index in votes refers to a position here.
type PollOption struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

type CirclePoll struct {
	ID        string
	CircleID  string
	Options   []PollOption
	IsClosed  bool
	CreatedAt time.Time
}

type PollVote struct {
	PollID      string
	UserID      string
	OptionIndex int
}

type CircleQuote struct {
	ID              string
	CircleID        string
	UserID          string
	Content         string
	PageNumber      string
	CreatedAt       time.Time
	AuthorName      string
	AuthorAvatarURL string
}

type CircleEvent struct {
	ID          string
	CircleID    string
	Title       string
	EventDate   time.Time
	MeetingLink string
	CreatedAt   time.Time
}

type CircleThread struct {
	ID        string
	CircleID  string
	Title     string
	CreatedAt time.Time
}

type ThreadMessage struct {
	ID              string
	ThreadID        string
	UserID          string
	Content         string
	ReplyToID       *string
	CreatedAt       time.Time
	AuthorName      string
	AuthorAvatarURL string
}

type ReadingRole struct {
	ID              string
	CircleID        string
	UserID          string
	RoleName        string
	HolderName      string
	HolderAvatarURL string
}

type JournalEntry struct {
	ID              string
	CircleID        string
	UserID          string
	Title           string
	Content         string
	CreatedAt       time.Time
	AuthorName      string
	AuthorAvatarURL string
}

type HistoryEntry struct {
	ID              string
	CircleID        string
	UserID          string
	Content         string
	CreatedAt       time.Time
	AuthorName      string
	AuthorAvatarURL string
}

type MemberProgress struct {
	CircleID   string
	UserID     string
	Percentage int
}
