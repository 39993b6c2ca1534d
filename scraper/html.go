package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const userAgent = "content-forge/1.0"

// HTMLProvider crawlt Listing-Seiten, folgt den Artikel-Links und
// extrahiert Titel und Fließtext. Quellen ohne Feed sind damit genauso
// erreichbar wie Feeds mit HTML-Detailseiten.
type HTMLProvider struct {
	client         *http.Client
	defaultSources []string
	log            *zap.Logger
}

// NewHTMLProvider verdrahtet einen HTTP-Client; nil nutzt 20s Timeout.
func NewHTMLProvider(client *http.Client, defaultSources []string, log *zap.Logger) *HTMLProvider {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTMLProvider{client: client, defaultSources: defaultSources, log: log}
}

// Name identifiziert den Provider.
func (h *HTMLProvider) Name() string { return "html" }

// Fetch sammelt Artikel von den Listing-Seiten ein. Fehler einzelner
// Quellen oder Artikel werden geloggt und übersprungen; ein toter Feed
// darf den Lauf nicht abbrechen.
func (h *HTMLProvider) Fetch(ctx context.Context, sourceRefs []string, limit int) ([]Article, error) {
	sources := sourceRefs
	if len(sources) == 0 {
		sources = h.defaultSources
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("scraper: no sources configured")
	}
	if limit <= 0 {
		limit = 50
	}

	seen := map[string]struct{}{}
	var results []Article
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		links, err := h.collectLinks(ctx, src)
		if err != nil {
			h.log.Warn("Quelle nicht lesbar, übersprungen", zap.String("source", src), zap.Error(err))
			continue
		}
		for _, link := range links {
			if len(results) >= limit {
				return results, nil
			}
			if _, ok := seen[link]; ok {
				continue
			}
			seen[link] = struct{}{}

			art, err := h.fetchArticle(ctx, src, link)
			if err != nil {
				h.log.Warn("Artikel nicht lesbar, übersprungen", zap.String("url", link), zap.Error(err))
				continue
			}
			if art.Title == "" {
				continue
			}
			results = append(results, art)
		}
	}
	return results, nil
}

// collectLinks extrahiert die Artikel-Links einer Listing-Seite. Heuristik
// über übliche News-Markups: Links in <article> und Überschriften.
func (h *HTMLProvider) collectLinks(ctx context.Context, sourceURL string) ([]string, error) {
	doc, err := h.fetchDocument(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url %s: %w", sourceURL, err)
	}

	var links []string
	seen := map[string]struct{}{}
	doc.Find("article a[href], h2 a[href], h3 a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		abs := resolveURL(base, href)
		if abs == "" {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links, nil
}

// fetchArticle lädt die Detailseite und extrahiert Titel und Body.
func (h *HTMLProvider) fetchArticle(ctx context.Context, sourceRef, articleURL string) (Article, error) {
	doc, err := h.fetchDocument(ctx, articleURL)
	if err != nil {
		return Article{}, err
	}

	title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	if title == "" {
		title = doc.Find("h1").First().Text()
	}
	if title == "" {
		title = doc.Find("title").First().Text()
	}

	var paragraphs []string
	scope := doc.Find("article p")
	if scope.Length() == 0 {
		scope = doc.Find("main p")
	}
	if scope.Length() == 0 {
		scope = doc.Find("p")
	}
	scope.Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})

	var publishedAt *time.Time
	if raw, ok := doc.Find(`meta[property="article:published_time"]`).Attr("content"); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			publishedAt = &ts
		}
	}

	return Article{
		SourceRef:   sourceRef,
		Title:       strings.TrimSpace(title),
		URL:         articleURL,
		Body:        strings.Join(paragraphs, "\n\n"),
		PublishedAt: publishedAt,
	}, nil
}

func (h *HTMLProvider) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source returned %s", resp.Status)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// resolveURL macht relative Links absolut und filtert Fragment-Links.
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}
