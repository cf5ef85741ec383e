package submission

// MaxBatchSize is the most documents the authority accepts in one request.
const MaxBatchSize = 100

// Batch is a group of same-tenant documents sent in one round-trip.
type Batch struct {
	TenantID  string
	Documents []*Document
}

// ClampBatchSize keeps size within 1..MaxBatchSize; zero or negative means the maximum.
func ClampBatchSize(size int) int {
	if size <= 0 || size > MaxBatchSize {
		return MaxBatchSize
	}
	return size
}

// GroupBatches partitions docs into ordered batches. A new batch starts when
// the tenant changes or the batch is full, so concatenating the batches
// reproduces the input order.
func GroupBatches(docs []*Document, size int) []Batch {
	size = ClampBatchSize(size)

	var batches []Batch
	for _, doc := range docs {
		n := len(batches)
		if n == 0 || batches[n-1].TenantID != doc.TenantID || len(batches[n-1].Documents) == size {
			batches = append(batches, Batch{
				TenantID:  doc.TenantID,
				Documents: make([]*Document, 0, min(size, len(docs))),
			})
			n++
		}
		batches[n-1].Documents = append(batches[n-1].Documents, doc)
	}
	return batches
}
