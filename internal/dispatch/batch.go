package dispatch

import (
	"context"

	"github.com/bcnelson/splunk-eam/internal/domain"
)

// Collect applies fn to every item in order and sorts the outcomes into a
// batch result. A failing item never stops the ones after it. Once ctx is
// done the remaining items are recorded as failed with the context's cause
// instead of being attempted.
func Collect[T any](ctx context.Context, items []T, fn func(context.Context, T) (T, error)) domain.BatchResult[T] {
	res := domain.NewBatchResult[T]()
	for _, item := range items {
		if ctx.Err() != nil {
			res.Failed = append(res.Failed, domain.BatchFailure[T]{Item: item, Reason: context.Cause(ctx).Error()})
			continue
		}
		done, err := fn(ctx, item)
		if err != nil {
			res.Failed = append(res.Failed, domain.BatchFailure[T]{Item: item, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, done)
	}
	return res
}
