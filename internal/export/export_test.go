package export

import (
	"html/template"
	"strings"
	"testing"
	"time"
)

func TestPercentEncodeForDataURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"abc-123_.~", "abc-123_.~"},
		{"hello world", "hello%20world"},
		{"a#b", "a%23b"},
		{"<p>", "%3Cp%3E"},
		{"été", "%C3%A9t%C3%A9"},
	}
	for _, tc := range cases {
		if got := percentEncodeForDataURL(tc.in); got != tc.want {
			t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Mon Exposé", "Mon-Expos"},
		{"l'étranger: analyse", "ltranger-analyse"},
		{"", "expose"},
		{"???", "expose"},
		{"deja-safe_name", "deja-safe_name"},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := strings.Repeat("a", 80)
	if got := sanitizeFilename(long); len(got) != 50 {
		t.Errorf("expected 50-char cap, got %d", len(got))
	}
}

func TestSafeHTML(t *testing.T) {
	if got := SafeHTML("<b>x</b>"); got != template.HTML("<b>x</b>") {
		t.Errorf("unexpected %q", got)
	}
	if got := SafeHTML(template.HTML("<i>y</i>")); got != template.HTML("<i>y</i>") {
		t.Errorf("unexpected %q", got)
	}
	if got := SafeHTML(42); got != template.HTML("") {
		t.Errorf("expected empty for non-string, got %q", got)
	}
}

func TestRenderExposeHTML(t *testing.T) {
	data := TemplateData{
		Title:       "Une lecture de Candide",
		BookTitle:   "Candide",
		BookAuthor:  "Voltaire",
		Category:    "Fiction",
		ContentHTML: template.HTML("<p>Il faut cultiver notre jardin.</p>"),
		Author:      "Anne B",
		CreatedAt:   time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Quotes: []TemplateQuote{
			{Text: "Tout est pour le mieux", Page: "12"},
		},
	}

	html, err := RenderExposeHTML(data)
	if err != nil {
		t.Fatalf("RenderExposeHTML: %v", err)
	}

	for _, want := range []string{
		"Une lecture de Candide",
		"Candide",
		"Voltaire",
		"<p>Il faut cultiver notre jardin.</p>",
		"Anne B",
		"15/03/2024",
		"Tout est pour le mieux",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestRenderExposeHTMLNoQuotes(t *testing.T) {
	html, err := RenderExposeHTML(TemplateData{
		Title:       "Sans citations",
		BookTitle:   "Livre",
		ContentHTML: template.HTML("<p>texte</p>"),
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("RenderExposeHTML: %v", err)
	}
	if strings.Contains(html, "Citations") {
		t.Error("quotes section should be absent without quotes")
	}
}
