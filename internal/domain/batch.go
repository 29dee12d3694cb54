package domain

// BatchFailure is an item that could not be applied, with the reason.
type BatchFailure[T any] struct {
	Item   T      `json:"item"`
	Reason string `json:"reason"`
}

// BatchResult separates the items of a batch that succeeded from the ones
// that failed. Both lists are always present.
type BatchResult[T any] struct {
	Succeeded []T               `json:"succeeded"`
	Failed    []BatchFailure[T] `json:"failed"`
}

// NewBatchResult returns an empty result with non-nil lists.
func NewBatchResult[T any]() BatchResult[T] {
	return BatchResult[T]{Succeeded: []T{}, Failed: []BatchFailure[T]{}}
}

// Status derives the overall status from the item outcomes.
func (r BatchResult[T]) Status() Status {
	switch {
	case len(r.Failed) == 0:
		return StatusSucceeded
	case len(r.Succeeded) == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// BatchResponse is returned by the batch endpoints.
type BatchResponse[T any] struct {
	StackID string `json:"stack_id"`
	Status  Status `json:"status"`
	BatchResult[T]
	Bundles []OperationResult `json:"bundles"`
}
