package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/hive-discover/clip-api/internal/domain"
)

type bulkResponse struct {
	Errors bool                                 `json:"errors"`
	Items  []map[string]bulkResponseItemDetails `json:"items"`
}

type bulkResponseItemDetails struct {
	Index  string `json:"_index"`
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// Bulk submits mutations as one NDJSON bulk request and reports the items
// the cluster rejected.
func (s *Store) Bulk(ctx context.Context, mutations []domain.Mutation) (domain.BulkResult, error) {
	if len(mutations) == 0 {
		return domain.BulkResult{}, nil
	}

	body, err := encodeBulk(mutations)
	if err != nil {
		return domain.BulkResult{}, err
	}

	resp, err := s.client.Bulk(bytes.NewReader(body), s.client.Bulk.WithContext(ctx))
	if err != nil {
		return domain.BulkResult{}, fmt.Errorf("bulk request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return domain.BulkResult{}, fmt.Errorf("bulk request failed: %w", err)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.BulkResult{}, fmt.Errorf("failed to parse bulk response: %w", err)
	}

	result := domain.BulkResult{Items: len(parsed.Items)}
	if !parsed.Errors {
		return result, nil
	}
	for _, item := range parsed.Items {
		for _, d := range item {
			if d.Error == nil && d.Status < 300 {
				continue
			}
			f := domain.BulkFailure{Index: d.Index, ID: d.ID, Status: d.Status}
			if d.Error != nil {
				f.Reason = d.Error.Type + ": " + d.Error.Reason
			}
			result.Failed = append(result.Failed, f)
		}
	}
	return result, nil
}

func encodeBulk(mutations []domain.Mutation) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, m := range mutations {
		meta := map[string]any{string(m.Op): map[string]string{"_index": m.Index, "_id": m.ID}}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("failed to encode bulk action: %w", err)
		}

		var doc any = m.Doc
		if m.Op == domain.OpUpdate {
			doc = map[string]any{"doc": m.Doc}
		}
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("failed to encode bulk document %s: %w", m.Key(), err)
		}
	}
	return buf.Bytes(), nil
}
