package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/juanbarco92/delta/core"
)

type batchEntry struct {
	Code int             `json:"code"`
	Body json.RawMessage `json:"body"`
}

// FetchBatch resolves ids through a multiget endpoint (path?ids=a,b,c) in
// chunks of chunkSize, at most core.MaxBatchSize ids each. Entries whose code is not 200 are dropped with a
// warning; the survivors keep request order. A failure of a whole chunk
// request is returned as is.
func (c *Client) FetchBatch(ctx context.Context, path string, ids []string, chunkSize int) ([]json.RawMessage, error) {
	if c == nil {
		return nil, fmt.Errorf("client: client is nil")
	}
	if chunkSize <= 0 {
		chunkSize = c.batchSize
	}
	if chunkSize > core.MaxBatchSize {
		chunkSize = core.MaxBatchSize
	}
	if len(ids) == 0 {
		return []json.RawMessage{}, nil
	}

	out := make([]json.RawMessage, 0, len(ids))
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		query := url.Values{}
		query.Set("ids", strings.Join(chunk, ","))
		var entries []batchEntry
		if err := c.CallJSON(ctx, http.MethodGet, path, query, nil, &entries); err != nil {
			return out, err
		}

		for index, entry := range entries {
			if entry.Code == http.StatusOK {
				out = append(out, entry.Body)
				continue
			}
			id := entryID(entry.Body)
			if id == "" && index < len(chunk) {
				id = chunk[index]
			}
			c.observer.Warn(ctx, "batch entry dropped", map[string]any{
				"path": path,
				"id":   id,
				"code": entry.Code,
			})
			c.observer.Counter(ctx, "batch.dropped.total", 1, map[string]string{"code": itoa(entry.Code)})
		}
	}
	return out, nil
}

func entryID(body json.RawMessage) string {
	if len(body) == 0 {
		return ""
	}
	var idOnly struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(body, &idOnly); err != nil || idOnly.ID == nil {
		return ""
	}
	return coerceString(idOnly.ID)
}
