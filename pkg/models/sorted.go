package models

// Sort strategy identifiers accepted by the sort_and_deduplicate stage.
// The set is closed; anything else is rejected as invalid input.
const (
	// SortStrategySpeakersDesc orders by unique speaker count (desc), then
	// claim count (desc), then name (asc).
	SortStrategySpeakersDesc = "speakers-desc"

	// SortStrategyClaimsDesc orders by claim count (desc), then unique
	// speaker count (desc), then name (asc).
	SortStrategyClaimsDesc = "claims-desc"
)

// KnownSortStrategy reports whether the identifier is in the closed set.
func KnownSortStrategy(strategy string) bool {
	switch strategy {
	case SortStrategySpeakersDesc, SortStrategyClaimsDesc:
		return true
	}
	return false
}

// Counts carries claim and unique-speaker counts for a sorted node.
// Duplicates absorbed under a representative claim are included in both.
type Counts struct {
	Claims   int `json:"claims"`
	Speakers int `json:"speakers"`
}

// ClaimWithDuplicates is a representative claim plus the near-duplicate
// claims absorbed under it during deduplication.
type ClaimWithDuplicates struct {
	BaseClaim
	Duplicates []BaseClaim `json:"duplicates,omitempty"`
}

// SortedSubtopic is one ordered subtopic entry of a SortedTree.
type SortedSubtopic struct {
	SubtopicName string                `json:"subtopicName"`
	Counts       Counts                `json:"counts"`
	Claims       []ClaimWithDuplicates `json:"claims"`
}

// SortedTopic is one ordered topic entry of a SortedTree. Topics within the
// "topics" field are the topic's subtopics, ordered by the same strategy.
type SortedTopic struct {
	TopicName string           `json:"topicName"`
	Counts    Counts           `json:"counts"`
	Topics    []SortedSubtopic `json:"topics"`
}

// SortedTree is the deduplicated, ordered, speaker-counted form of a
// ClaimsTree. Sequence order is significant.
type SortedTree []SortedTopic

// TopicSummary is one per-topic narrative produced by the summaries stage.
type TopicSummary struct {
	TopicName string `json:"topicName"`
	Summary   string `json:"summary"`
}
