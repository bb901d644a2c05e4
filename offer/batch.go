package offer

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ceyewan/tripguard/clog"
)

// BatchResult 批量校验结果
//
// Valid 与 Expired 互斥，NeedsRefresh 可与二者重叠；各列表保持输入顺序。
type BatchResult struct {
	Valid        []string          `json:"valid"`
	Expired      []string          `json:"expired"`
	NeedsRefresh []string          `json:"needs_refresh"`
	Results      map[string]Result `json:"results"`
}

// ValidateMultiple 并发校验多个报价，单个报价拉取失败只影响它自己的结果
func (v *Validator) ValidateMultiple(ctx context.Context, offerIDs []string, fetcher Fetcher) BatchResult {
	ids := dedupe(offerIDs)
	results := make([]Result, len(ids))

	var g errgroup.Group
	g.SetLimit(v.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = v.validateOne(ctx, id, fetcher)
			return nil
		})
	}
	_ = g.Wait()

	batch := BatchResult{Results: make(map[string]Result, len(ids))}
	for i, id := range ids {
		r := results[i]
		batch.Results[id] = r
		if r.IsValid {
			batch.Valid = append(batch.Valid, id)
		} else {
			batch.Expired = append(batch.Expired, id)
		}
		if r.NeedsRefresh {
			batch.NeedsRefresh = append(batch.NeedsRefresh, id)
		}
	}

	v.logger.DebugContext(ctx, "batch offer validation finished",
		clog.Int("total", len(ids)),
		clog.Int("valid", len(batch.Valid)),
		clog.Int("expired", len(batch.Expired)))
	return batch
}

func (v *Validator) validateOne(ctx context.Context, id string, fetcher Fetcher) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.ErrorContext(ctx, "offer lookup panicked", clog.String("offer_id", id), clog.Any("panic", r))
			result = Result{NeedsRefresh: true, Error: "offer lookup failed"}
		}
	}()

	summary, err := fetcher.GetOffer(ctx, id)
	if err != nil {
		return Result{NeedsRefresh: true, Error: err.Error()}
	}
	if summary == nil {
		return Result{NeedsRefresh: true, Error: "Offer not found"}
	}
	return v.ValidateExpiration(*summary)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
