package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/crthrottle/internal/history"
)

// DefaultIndex is used when the DSN names no index.
const DefaultIndex = "crthrottle-history"

// Sink keeps events in an OpenSearch (or Elasticsearch) index through the
// REST API. Send posts one document per event; Recent searches newest first.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	if index == "" {
		index = DefaultIndex
	}
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

// Send indexes e with POST {base}/{index}/_doc.
func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.post(ctx, "_doc", e)
	return err
}

type searchRequest struct {
	Size int              `json:"size"`
	Sort []map[string]any `json:"sort"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source history.Event `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Recent returns up to limit events ordered by occurred_at, newest first.
// Documents indexed within the last refresh interval may be missing.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := searchRequest{Size: limit, Sort: []map[string]any{{"occurred_at": map[string]string{"order": "desc"}}}}
	body, err := s.post(ctx, "_search", q)
	if err != nil {
		return nil, err
	}
	var res searchResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode opensearch search: %w", err)
	}
	out := make([]history.Event, 0, len(res.Hits.Hits))
	for _, h := range res.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

func (s *Sink) post(ctx context.Context, endpoint string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/%s/%s", s.baseURL, s.index, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("opensearch %s: status %d", endpoint, resp.StatusCode)
	}
	return body, nil
}
