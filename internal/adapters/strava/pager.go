package strava

import (
	"context"

	"github.com/okian/stravasync/internal/domain/model"
)

// ListFunc fetches one page of a principal's activities.
type ListFunc func(ctx context.Context, principalID int64, q model.ListQuery) ([]model.Activity, error)

// Pager iterates over list pages until a short page or the limit is reached.
type Pager struct {
	list        ListFunc
	principalID int64
	q           model.ListQuery
	limit       int
	fetched     int
	done        bool
}

// NewPager walks the pages returned by list, stopping after limit activities
// when limit > 0.
func NewPager(list ListFunc, principalID int64, q model.ListQuery, limit int) *Pager {
	return &Pager{list: list, principalID: principalID, q: normalizeQuery(q), limit: limit}
}

// Next returns the next page. It returns nil once Done reports true.
func (p *Pager) Next(ctx context.Context) ([]model.Activity, error) {
	if p.done {
		return nil, nil
	}

	page, err := p.list(ctx, p.principalID, p.q)
	if err != nil {
		return nil, err
	}
	p.q.Page++
	if len(page) < p.q.PerPage {
		p.done = true
	}
	if p.limit > 0 && p.fetched+len(page) >= p.limit {
		page = page[:p.limit-p.fetched]
		p.done = true
	}
	p.fetched += len(page)
	return page, nil
}

// Done reports whether every page has been returned.
func (p *Pager) Done() bool { return p.done }

// Fetched returns how many activities were returned so far.
func (p *Pager) Fetched() int { return p.fetched }
