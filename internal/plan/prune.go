package plan

import (
	"context"

	"github.com/seismica/seedvault/internal/sdsindex"
)

// Prune subtracts already-archived coverage from each request. For every
// request it walks the index intervals overlapping [start, end] in
// ascending start order, emitting the uncovered gaps. Gaps shorter than
// MinRequestWindow are dropped. A request with no overlap passes through
// unchanged. Pruning runs on single-stream keys, before Combine.
func Prune(ctx context.Context, ix *sdsindex.Index, reqs []FetchRequest) ([]FetchRequest, error) {
	var out []FetchRequest
	for _, req := range reqs {
		stored, err := ix.OverlappingIntervals(ctx, req.Key(), req.Start, req.End)
		if err != nil {
			return nil, err
		}

		cursor := req.Start
		for _, iv := range stored {
			if cursor.Before(iv.Start.Add(-MinRequestWindow)) {
				sub := req
				sub.Start = cursor
				sub.End = iv.Start
				out = append(out, sub)
			}
			if iv.End.After(cursor) {
				cursor = iv.End
			}
		}
		if cursor.Before(req.End.Add(-MinRequestWindow)) {
			sub := req
			sub.Start = cursor
			out = append(out, sub)
		}
	}
	sortRequests(out)
	return out, nil
}
