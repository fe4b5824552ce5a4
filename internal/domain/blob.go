package domain

// Blob is one row of the blobs table. Data is present only when Tier ==
// TierHot and the caller asked for the inline payload; otherwise Tier
// indicates which external object store holds the bytes.
type Blob struct {
	ID          BlobID
	Data        []byte // inline payload, hot tier only; nil otherwise
	Size        int64
	Checksum    string // lowercase hex sha256, equals ID.Checksum()
	Tier        Tier
	RefCount    int64
	CreatedAtMs int64
}

// DedupStats summarizes deduplication effectiveness across all blobs, per
// the getDedupStats contract (spec.md §8 scenario 1).
type DedupStats struct {
	TotalBlobs int64
	TotalRefs  int64
	DedupRatio float64
	SavedBytes int64
}
