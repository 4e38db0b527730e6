package timedoctor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// MaxPageSize is the largest page the upstream supports; every fetch
	// asks for it to minimize round trips.
	MaxPageSize = 1000

	// MaxPages bounds worst-case work against a misbehaving or infinite
	// upstream. Hitting it is a warning, not an error.
	MaxPages = 100
)

type TerminationReason string

const (
	TerminationShortPage    TerminationReason = "short_page"
	TerminationMetadata     TerminationReason = "pagination_metadata"
	TerminationSafetyCap    TerminationReason = "safety_cap"
	TerminationSingleObject TerminationReason = "single_object"
)

// Collection is a complete logical collection assembled from a paged
// endpoint. Items keeps page-arrival order; nothing is de-duplicated. When
// the endpoint turned out not to be paginated at all, Object holds the raw
// response unmodified and Items is empty.
type Collection struct {
	Items    []json.RawMessage
	Pages    int
	Complete bool
	Reason   TerminationReason
	Object   json.RawMessage
}

func (c *Collection) Len() int { return len(c.Items) }

type PageOptions struct {
	PageField  string // query parameter carrying the page index, default "page"
	LimitField string // query parameter carrying the page size, default "limit"
	PageSize   int    // default MaxPageSize
	StartPage  int    // default 1
}

type pageMeta struct {
	HasMore      *bool           `json:"hasMore"`
	HasMoreSnake *bool           `json:"has_more"`
	NextPage     json.RawMessage `json:"next_page"`
	TotalPages   *int            `json:"total_pages"`
}

type pageEnvelope struct {
	Data       json.RawMessage `json:"data"`
	Pagination *pageMeta       `json:"pagination"`

	// some endpoints put the pagination hints at the top level
	HasMore      *bool           `json:"hasMore"`
	HasMoreSnake *bool           `json:"has_more"`
	NextPage     json.RawMessage `json:"next_page"`
	TotalPages   *int            `json:"total_pages"`
}

// FetchAll retrieves an entire collection from a paged endpoint with the
// default page/limit parameters.
func (c *Client) FetchAll(ctx context.Context, endpoint string, query url.Values) (*Collection, error) {
	return c.FetchAllWithOptions(ctx, endpoint, query, PageOptions{})
}

// FetchAllWithOptions drives repeated page requests until one of the
// termination rules fires. The rules are checked in order of reliability:
// the returned item count first, the upstream's own pagination metadata
// only as a secondary hint (it is often missing or wrong), and the page cap
// unconditionally last.
func (c *Client) FetchAllWithOptions(ctx context.Context, endpoint string, query url.Values, opts PageOptions) (*Collection, error) {
	if opts.PageField == "" {
		opts.PageField = "page"
	}
	if opts.LimitField == "" {
		opts.LimitField = "limit"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = MaxPageSize
	}
	if opts.StartPage <= 0 {
		opts.StartPage = 1
	}

	out := &Collection{}
	for page := opts.StartPage; page < opts.StartPage+MaxPages; page++ {
		if c.pageLimiter != nil {
			if err := c.pageLimiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		q := url.Values{}
		for k, vs := range query {
			q[k] = vs
		}
		q.Set(opts.PageField, strconv.Itoa(page))
		q.Set(opts.LimitField, strconv.Itoa(opts.PageSize))

		raw, err := c.Request(ctx, http.MethodGet, endpoint, q, nil)
		if err != nil {
			return nil, err
		}
		out.Pages++

		var env pageEnvelope
		if uerr := json.Unmarshal(raw, &env); uerr != nil || !isJSONArray(env.Data) {
			// not a paginated collection after all: hand the response back untouched
			out.Object = raw
			out.Complete = true
			out.Reason = TerminationSingleObject
			return out, nil
		}

		var items []json.RawMessage
		if err := json.Unmarshal(env.Data, &items); err != nil {
			return nil, &RequestError{Kind: RequestFailed, Endpoint: endpoint, Err: err}
		}
		out.Items = append(out.Items, items...)

		if len(items) < opts.PageSize {
			out.Complete = true
			out.Reason = TerminationShortPage
			return out, nil
		}

		if more, ok := env.moreHint(page); ok {
			if !more {
				out.Complete = true
				out.Reason = TerminationMetadata
				return out, nil
			}
			continue
		}

		// full page and no metadata: assume more data exists
	}

	out.Complete = false
	out.Reason = TerminationSafetyCap
	c.logger.Warn("pagination_safety_cap_reached",
		"endpoint", endpoint,
		"pages", out.Pages,
		"items", len(out.Items),
	)
	return out, nil
}

// moreHint extracts the upstream's continuation claim, preferring the
// pagination object over top-level fields. ok is false when the response
// carries no usable hint.
func (e *pageEnvelope) moreHint(currentPage int) (more bool, ok bool) {
	metas := []pageMeta{}
	if e.Pagination != nil {
		metas = append(metas, *e.Pagination)
	}
	metas = append(metas, pageMeta{
		HasMore:      e.HasMore,
		HasMoreSnake: e.HasMoreSnake,
		NextPage:     e.NextPage,
		TotalPages:   e.TotalPages,
	})

	for _, m := range metas {
		if m.HasMore != nil {
			return *m.HasMore, true
		}
		if m.HasMoreSnake != nil {
			return *m.HasMoreSnake, true
		}
		if m.TotalPages != nil {
			return currentPage < *m.TotalPages, true
		}
		if len(m.NextPage) > 0 {
			s := strings.TrimSpace(string(m.NextPage))
			return s != "null" && s != `""` && s != "0", true
		}
	}
	return false, false
}

func isJSONArray(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}
