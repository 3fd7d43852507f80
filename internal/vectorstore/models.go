package vectorstore

import "strconv"

// MetaKind identifies the scalar variant held by a MetaValue.
type MetaKind int

const (
	// KindString is a string metadata value.
	KindString MetaKind = iota
	// KindNumber is a float64 metadata value.
	KindNumber
	// KindBool is a bool metadata value.
	KindBool
)

// MetaValue is one chunk metadata scalar: string, number, or bool.
// A closed set of variants keeps serialization deterministic across
// backends, unlike an untyped interface{} map.
type MetaValue struct {
	kind MetaKind
	str  string
	num  float64
	b    bool
}

// MetaString creates a string metadata value.
func MetaString(s string) MetaValue { return MetaValue{kind: KindString, str: s} }

// MetaNumber creates a numeric metadata value.
func MetaNumber(f float64) MetaValue { return MetaValue{kind: KindNumber, num: f} }

// MetaBool creates a boolean metadata value.
func MetaBool(b bool) MetaValue { return MetaValue{kind: KindBool, b: b} }

// Kind returns the scalar variant.
func (v MetaValue) Kind() MetaKind { return v.kind }

// String returns the canonical text encoding of the value. Numbers use
// the shortest representation that round-trips; bools are "true"/"false".
func (v MetaValue) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.str
	}
}

// Number returns the numeric value and whether the variant is a number.
func (v MetaValue) Number() (float64, bool) { return v.num, v.kind == KindNumber }

// Bool returns the boolean value and whether the variant is a bool.
func (v MetaValue) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Metadata is opaque key/value data attached to a chunk.
type Metadata map[string]MetaValue

// Strings returns the metadata with every value canonically encoded.
func (m Metadata) Strings() map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}

// MetadataFromStrings rebuilds Metadata from its string encoding.
// All values come back as string variants; the original kind is not
// recoverable and is not needed on the read path.
func MetadataFromStrings(in map[string]string) Metadata {
	if in == nil {
		return nil
	}
	m := make(Metadata, len(in))
	for k, v := range in {
		m[k] = MetaString(v)
	}
	return m
}

// Chunk is one retrievable unit of document text. The composite key
// (scope, documentID, Index) uniquely identifies a stored chunk; the
// scope and documentID travel as Upsert arguments.
type Chunk struct {
	// Index is the chunk's position within its document.
	Index int

	// Text is the chunk content.
	Text string

	// Metadata is opaque key/value data carried alongside the chunk.
	Metadata Metadata
}

// SearchResult is one chunk returned from similarity search, with
// enough provenance for the response to cite sources.
type SearchResult struct {
	DocumentID string
	ChunkIndex int
	Text       string
	Metadata   Metadata

	// Similarity is cosine similarity; higher is more similar. Results
	// below the caller's floor are never returned.
	Similarity float32
}

// ScopeStats summarizes a tenant scope's stored content. Used for
// quota and billing displays, not enforcement.
type ScopeStats struct {
	DocumentCount int   `json:"document_count"`
	ChunkCount    int   `json:"chunk_count"`
	TotalBytes    int64 `json:"total_bytes"`
}
