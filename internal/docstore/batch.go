package docstore

// OpKind discriminates batch operations.
type OpKind int

const (
	OpMerge OpKind = iota + 1
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpMerge:
		return "merge"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one write inside a batch.
type Op struct {
	Kind   OpKind
	Doc    DocumentRef
	Fields Fields
}

// Batch collects writes that commit together.
type Batch struct {
	ops []Op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Merge upserts the given fields into the document, keeping fields not named.
// The reserved UpdatedAtField is dropped; the store assigns it.
func (b *Batch) Merge(ref DocumentRef, fields Fields) *Batch {
	clean := make(Fields, len(fields))
	for k, v := range fields {
		if k == UpdatedAtField {
			continue
		}
		clean[k] = v
	}
	b.ops = append(b.ops, Op{Kind: OpMerge, Doc: ref, Fields: clean})
	return b
}

// Delete removes the document. Deleting a missing document is not an error.
func (b *Batch) Delete(ref DocumentRef) *Batch {
	b.ops = append(b.ops, Op{Kind: OpDelete, Doc: ref})
	return b
}

// Ops returns the operations in insertion order.
func (b *Batch) Ops() []Op {
	if b == nil {
		return nil
	}
	return b.ops
}

func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ops)
}

// Collections returns every distinct collection touched by the batch, in first-seen order.
func (b *Batch) Collections() []CollectionRef {
	seen := make(map[CollectionRef]struct{})
	var out []CollectionRef
	for _, op := range b.Ops() {
		if _, ok := seen[op.Doc.Collection]; ok {
			continue
		}
		seen[op.Doc.Collection] = struct{}{}
		out = append(out, op.Doc.Collection)
	}
	return out
}
