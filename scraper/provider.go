package scraper

import (
	"context"
	"time"
)

// Article ist das standardisierte Ergebnis eines Scrape-Laufs, bevor es
// als NewsArticle persistiert wird.
type Article struct {
	SourceRef   string
	Title       string
	URL         string
	Body        string
	PublishedAt *time.Time
}

// Provider ist das Interface, das jede News-Quelle implementieren muss.
type Provider interface {
	// Fetch sammelt bis zu limit Artikel aus den angegebenen Quellen.
	// Leere sourceRefs heißt: die Default-Quellen des Providers.
	Fetch(ctx context.Context, sourceRefs []string, limit int) ([]Article, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "html").
	Name() string
}

// StaticProvider liefert vorgegebene Artikel. Für Tests und Umgebungen
// ohne Netzwerkzugriff.
type StaticProvider struct {
	Articles []Article
	Err      error
}

func (s *StaticProvider) Name() string { return "static" }

func (s *StaticProvider) Fetch(ctx context.Context, sourceRefs []string, limit int) ([]Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if limit > 0 && len(s.Articles) > limit {
		return s.Articles[:limit], nil
	}
	return s.Articles, nil
}
