package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type pageEnvelope struct {
	Results []json.RawMessage `json:"results"`
	Paging  struct {
		Total  *int `json:"total"`
		Offset *int `json:"offset"`
		Limit  *int `json:"limit"`
	} `json:"paging"`
}

// ListAll walks an offset/limit collection and returns every distinct entry
// in server order. It stops when the accumulated count reaches the reported
// total, when a page comes back empty or short, or when a page adds nothing
// that was not already seen, whatever offset the server echoes. The context
// is checked between pages; on cancellation the entries gathered so far are
// returned with the context error.
func (c *Client) ListAll(ctx context.Context, path string, query url.Values, pageSize int) ([]json.RawMessage, error) {
	if c == nil {
		return nil, fmt.Errorf("client: client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	var (
		all    []json.RawMessage
		offset int
		seen   = map[string]struct{}{}
	)
	for {
		if err := ctx.Err(); err != nil {
			return all, fmt.Errorf("client: list %s stopped after %d results: %w", path, len(all), err)
		}

		pageQuery := cloneValues(query)
		pageQuery.Set("offset", itoa(offset))
		pageQuery.Set("limit", itoa(pageSize))

		var page pageEnvelope
		if err := c.CallJSON(ctx, http.MethodGet, path, pageQuery, nil, &page); err != nil {
			return all, err
		}
		if len(page.Results) == 0 {
			break
		}

		added := 0
		for _, entry := range page.Results {
			key := string(bytes.TrimSpace(entry))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			all = append(all, entry)
			added++
		}
		if added == 0 {
			c.observer.Warn(ctx, "pagination made no progress; stopping", map[string]any{
				"path":   path,
				"offset": offset,
				"count":  len(all),
			})
			break
		}

		if page.Paging.Total != nil {
			if len(all) >= *page.Paging.Total {
				break
			}
		} else if len(page.Results) < pageSize {
			break
		}
		offset += len(page.Results)
	}
	return all, nil
}

func cloneValues(values url.Values) url.Values {
	out := make(url.Values, len(values)+2)
	for key, list := range values {
		out[key] = append([]string(nil), list...)
	}
	return out
}
