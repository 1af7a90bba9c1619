package models

// NormalizeResponse reports the outcome of a normalizer batch.
type NormalizeResponse struct {
	Kind      Kind `json:"kind"`
	Processed int  `json:"processed"`
	Skipped   int  `json:"skipped"`
	Rejected  int  `json:"rejected"`
	Failed    int  `json:"failed"`
	Created   int  `json:"created"`
}

// PairsResponse wraps the pairing aggregation output.
type PairsResponse struct {
	Pairs []Pair `json:"pairs"`
}

// TopicsResponse wraps ranked topics.
type TopicsResponse struct {
	Topics []TopicSummary `json:"topics"`
}

// ClusterResponse reports a clustering run.
type ClusterResponse struct {
	TopicsCreated    int `json:"topics_created"`
	ConceptsAssigned int `json:"concepts_assigned"`
}

// EnrichResponse reports a description regeneration run.
type EnrichResponse struct {
	Described int `json:"described"`
	Failed    int `json:"failed"`
}

// BacklogResponse reports a full backlog drain.
type BacklogResponse struct {
	Locations        int `json:"locations"`
	ProcessedReviews int `json:"processedReviews"`
	InsertedConcepts int `json:"insertedConcepts"`
	Processed        int `json:"processed"`
}
