package export

import (
	"context"
	"fmt"
	"html/template"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetPost(ctx context.Context, id string) (PostInfo, error)
	// ListQuotesForBook returns circle quotes recorded for the given book title.
	ListQuotesForBook(ctx context.Context, bookTitle string) ([]QuoteInfo, error)
}

// PostInfo holds post metadata and content
type PostInfo struct {
	ID         string
	Title      string
	BookTitle  string
	BookAuthor string
	Category   string
	Content    string
	Author     string
	CreatedAt  time.Time
}

// QuoteInfo holds quote metadata
type QuoteInfo struct {
	Text string
	Page string
}

// Service provides exposé export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	post, err := s.store.GetPost(ctx, req.PostID)
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	if post.Content == "" {
		return nil, ErrContentUnavailable
	}

	data := TemplateData{
		Title:       post.Title,
		BookTitle:   post.BookTitle,
		BookAuthor:  post.BookAuthor,
		Category:    post.Category,
		ContentHTML: template.HTML(post.Content),
		Author:      post.Author,
		CreatedAt:   post.CreatedAt,
		Quotes:      []TemplateQuote{},
	}

	if req.IncludeQuotes && post.BookTitle != "" {
		quotes, err := s.store.ListQuotesForBook(ctx, post.BookTitle)
		if err != nil {
			return nil, fmt.Errorf("list quotes: %w", err)
		}
		for _, q := range quotes {
			data.Quotes = append(data.Quotes, TemplateQuote{Text: q.Text, Page: q.Page})
		}
	}

	html, err := RenderExposeHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, post.Title)
	case FormatDOCX:
		return exportDOCX(html, post.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
