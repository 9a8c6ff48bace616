// Package catalog seeds the article catalog from RSS and Atom feeds.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/lestari/internal/database"
)

// Result summarizes an import.
type Result struct {
	Found      int
	Imported   int
	Duplicates int
	Skipped    int
}

// Store is the part of the database the importer writes to.
type Store interface {
	InsertArticle(ctx context.Context, slug, title, bodyMarkdown string) (int64, error)
}

// Importer adds feed items to the catalog as articles.
type Importer struct {
	store   Store
	parser  *gofeed.Parser
	fetcher *Fetcher
}

// NewImporter creates an Importer writing to store. With a non-nil fetcher
// the article body is extracted from the linked page instead of the feed
// summary, falling back to the summary when extraction yields nothing.
func NewImporter(store Store, fetcher *Fetcher) *Importer {
	return &Importer{store: store, parser: gofeed.NewParser(), fetcher: fetcher}
}

// ImportURL fetches and imports the feed at feedURL.
func (im *Importer) ImportURL(ctx context.Context, feedURL string) (*Result, error) {
	feed, err := im.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", feedURL, err)
	}
	return im.importFeed(ctx, feed)
}

// ImportReader imports a feed document read from r.
func (im *Importer) ImportReader(ctx context.Context, r io.Reader) (*Result, error) {
	feed, err := im.parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	return im.importFeed(ctx, feed)
}

func (im *Importer) importFeed(ctx context.Context, feed *gofeed.Feed) (*Result, error) {
	res := &Result{Found: len(feed.Items)}
	for _, item := range feed.Items {
		title := strings.TrimSpace(item.Title)
		slug := Slugify(title)
		if slug == "" {
			res.Skipped++
			continue
		}

		_, err := im.store.InsertArticle(ctx, slug, title, im.itemBody(ctx, item))
		switch {
		case errors.Is(err, database.ErrDuplicate):
			res.Duplicates++
		case err != nil:
			return res, fmt.Errorf("importing %q: %w", title, err)
		default:
			res.Imported++
		}
	}
	log.Printf("Imported %d of %d items from %s (%d duplicates)", res.Imported, res.Found, feed.Title, res.Duplicates)
	return res, nil
}

// itemBody renders a feed item as markdown: the item text followed by a
// link to the original.
func (im *Importer) itemBody(ctx context.Context, item *gofeed.Item) string {
	link := item.Link
	if link == "" {
		link = item.GUID
	}
	linkOK := strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://")

	text := ""
	if im.fetcher != nil && linkOK {
		var err error
		text, err = im.fetcher.FetchText(ctx, link)
		if err != nil {
			log.Printf("Full text for %s: %v", link, err)
		}
	}
	if text == "" {
		html := item.Content
		if html == "" {
			html = item.Description
		}
		text = htmlText(html)
	}

	var parts []string
	if text != "" {
		parts = append(parts, text)
	}
	if linkOK {
		parts = append(parts, fmt.Sprintf("[Read the original](%s)", link))
	}
	return strings.Join(parts, "\n\n")
}

func htmlText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
