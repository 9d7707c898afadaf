// Package reconcile decides which freshly scanned records are written.
package reconcile

// Policy filters a scanned batch before it is saved. ok is false when the
// whole batch is rejected.
type Policy[R any] interface {
	Admit(batch []R) (admitted []R, ok bool)
}

// MergeOnKey admits everything; the merge-write on the record key resolves
// repeats, so re-scanning a network or device refreshes the stored document.
type MergeOnKey[R any] struct{}

func (MergeOnKey[R]) Admit(batch []R) ([]R, bool) {
	return batch, true
}

// ExactMatch rejects the whole batch as soon as one record is already known.
type ExactMatch[R any] struct {
	Known func(R) bool
}

func (p ExactMatch[R]) Admit(batch []R) ([]R, bool) {
	for _, r := range batch {
		if p.Known(r) {
			return nil, false
		}
	}
	return batch, true
}
