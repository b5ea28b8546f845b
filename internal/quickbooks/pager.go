package quickbooks

import (
	"context"
	"errors"
	"time"

	"github.com/vipul43/qbo-sync-worker/internal/models"
)

// ErrNoMorePages is returned by Pager.Next when there are no more pages.
var ErrNoMorePages = errors.New("no more pages")

// Querier fetches one page of records.
type Querier interface {
	Query(ctx context.Context, realmID, accessToken string, objectType models.ObjectType, since *time.Time, startPosition, maxResults int) ([]models.RemoteRecord, error)
}

// TokenFunc returns a valid access token for the next request.
type TokenFunc func(ctx context.Context) (string, error)

// Page is one batch of records in LastUpdatedTime order.
type Page struct {
	Number  int
	Records []models.RemoteRecord
	// Last is set when the page was short, so nothing follows it
	Last bool
	// MaxUpdated is the largest LastUpdatedTime on the page
	MaxUpdated *time.Time
}

// SafeCheckpoint is the highest timestamp that can be recorded once this page
// is committed. Later pages may still hold records sharing the final timestamp
// of a full page, so that timestamp is held back unless the page is the last.
func (p *Page) SafeCheckpoint() *time.Time {
	if p.Last || p.MaxUpdated == nil {
		return p.MaxUpdated
	}

	var safe *time.Time
	for i := range p.Records {
		ts := p.Records[i].LastUpdated
		if ts == nil || !ts.Before(*p.MaxUpdated) {
			continue
		}
		if safe == nil || ts.After(*safe) {
			safe = ts
		}
	}
	return safe
}

// Pager walks the incremental result set for one pairing, one page per Next call.
// After a page the filter moves up to the page's SafeCheckpoint, so records edited
// upstream mid-run cannot shift unseen rows below the offset. The offset only
// steps over rows already returned that sit above the filter.
type Pager struct {
	querier    Querier
	realmID    string
	objectType models.ObjectType
	since      *time.Time
	pageSize   int
	token      TokenFunc

	position int
	pages    int
	done     bool
}

func NewPager(querier Querier, realmID string, objectType models.ObjectType, since *time.Time, pageSize int, token TokenFunc) *Pager {
	return &Pager{
		querier:    querier,
		realmID:    realmID,
		objectType: objectType,
		since:      since,
		pageSize:   pageSize,
		token:      token,
		position:   1,
	}
}

// Next fetches the following page. It returns ErrNoMorePages after the last one and
// ctx.Err() if ctx was cancelled before the fetch.
func (p *Pager) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, ErrNoMorePages
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	accessToken, err := p.token(ctx)
	if err != nil {
		return nil, err
	}

	records, err := p.querier.Query(ctx, p.realmID, accessToken, p.objectType, p.since, p.position, p.pageSize)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		p.done = true
		return nil, ErrNoMorePages
	}

	p.pages++
	page := &Page{
		Number:  p.pages,
		Records: records,
		Last:    len(records) < p.pageSize,
	}
	for i := range records {
		ts := records[i].LastUpdated
		if ts != nil && (page.MaxUpdated == nil || ts.After(*page.MaxUpdated)) {
			page.MaxUpdated = ts
		}
	}
	if page.Last {
		p.done = true
		return page, nil
	}

	p.advance(page)
	return page, nil
}

// Since is the lower bound the next query will use.
func (p *Pager) Since() *time.Time {
	return p.since
}

func (p *Pager) advance(page *Page) {
	safe := page.SafeCheckpoint()
	if safe == nil || (p.since != nil && !safe.After(*p.since)) {
		p.position += len(page.Records)
		return
	}

	seen := 0
	for i := range page.Records {
		ts := page.Records[i].LastUpdated
		if ts == nil || ts.After(*safe) {
			seen++
		}
	}
	p.since = safe
	p.position = 1 + seen
}
