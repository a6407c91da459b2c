package resources

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/event-companion/backend/internal/apiclient"
	"github.com/onnwee/event-companion/backend/internal/revalidate"
)

const newsKeyPrefix = "news_"

// NewsItem is a published news post.
type NewsItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	Body        string    `json:"body,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// NewsPage is one page of the news feed.
type NewsPage struct {
	Items   []NewsItem `json:"items"`
	Page    int        `json:"page"`
	HasMore bool       `json:"has_more"`
}

var newsMessages = messages{
	apiclient.KindNotFound: "This news article is no longer available.",
}

func newsPageKey(page, limit int) string {
	return newsKeyPrefix + "page_" + strconv.Itoa(page) + "_" + strconv.Itoa(limit)
}

// News returns a page of news; each page and size is cached separately.
func (s *Service) News(ctx context.Context, page, limit int, useCache bool) (NewsPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	q := url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(limit)}}
	p, err := revalidate.Fetch(ctx, s.rv, newsPageKey(page, limit), func(ctx context.Context) (NewsPage, error) {
		var out NewsPage
		err := s.api.GetJSON(ctx, "/news", q, &out)
		out.Page = page
		return out, err
	}, NewsTTL, useCache)
	if err != nil {
		return NewsPage{}, transform("news", newsMessages, err)
	}
	return p, nil
}

// NewsArticle returns a single article.
func (s *Service) NewsArticle(ctx context.Context, id string) (NewsItem, error) {
	item, err := revalidate.Fetch(ctx, s.rv, newsKeyPrefix+"item_"+id, func(ctx context.Context) (NewsItem, error) {
		var out NewsItem
		err := s.api.GetJSON(ctx, "/news/"+url.PathEscape(id), nil, &out)
		return out, err
	}, NewsTTL, true)
	if err != nil {
		return NewsItem{}, transform("news", newsMessages, err)
	}
	return item, nil
}

// InvalidateNews drops every cached news page and article.
func (s *Service) InvalidateNews(ctx context.Context) int {
	removed := 0
	prefix := s.engine().Key(newsKeyPrefix)
	for _, m := range s.engine().Metadata(ctx) {
		if strings.HasPrefix(m.Key, prefix) && s.engine().Invalidate(ctx, m.Key) {
			removed++
		}
	}
	return removed
}
