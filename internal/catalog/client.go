package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"orders-be/internal/logger"

	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

type httpClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient returns a Client that talks to the catalog service over
// HTTP (`POST {base}/products/validate`).
func NewHTTPClient(baseURL string) Client {
	return &httpClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

func (c *httpClient) ValidateProducts(ctx context.Context, ids []int64) ([]Product, error) {
	distinct := dedupe(ids)

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "catalog"),
		zap.Int("requested", len(ids)),
		zap.Int("distinct", len(distinct)),
	)

	body, err := json.Marshal(map[string]any{"ids": distinct})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/products/validate", bytes.NewBuffer(body))
	if err != nil {
		log.Error("failed building catalog request", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("catalog request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("failed to read catalog response", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		log.Warn("catalog reported unknown products", zap.ByteString("response", respBytes))
		return nil, ErrProductNotFound
	}

	if resp.StatusCode != http.StatusOK {
		log.Error("catalog returned non-success status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", respBytes),
		)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var products []Product
	if err := json.Unmarshal(respBytes, &products); err != nil {
		log.Error("failed decoding catalog response", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Every distinct id must be present; a partial answer is as fatal as
	// no answer.
	known := make(map[int64]bool, len(products))
	for _, p := range products {
		known[p.ID] = true
	}
	for _, id := range distinct {
		if !known[id] {
			log.Warn("product missing from catalog response", zap.Int64("product_id", id))
			return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, id)
		}
	}

	return products, nil
}

// dedupe keeps the first occurrence of each id, preserving order.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
