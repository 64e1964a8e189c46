package models

// Subtopic is one second-level taxonomy node.
type Subtopic struct {
	SubtopicName             string `json:"subtopicName"`
	SubtopicShortDescription string `json:"subtopicShortDescription"`
}

// PartialTopic is one first-level taxonomy node produced by the clustering
// stage. "Partial" because no IDs have been assigned yet.
type PartialTopic struct {
	TopicName             string     `json:"topicName"`
	TopicShortDescription string     `json:"topicShortDescription"`
	Subtopics             []Subtopic `json:"subtopics"`
}

// TaxonomyIndex is a lookup of (topicName, subtopicName) pairs present in a
// clustering output. Used by the claims stage for referential filtering.
type TaxonomyIndex map[string]map[string]struct{}

// BuildTaxonomyIndex indexes a taxonomy for O(1) pair membership checks.
func BuildTaxonomyIndex(topics []PartialTopic) TaxonomyIndex {
	idx := make(TaxonomyIndex, len(topics))
	for _, t := range topics {
		subs := make(map[string]struct{}, len(t.Subtopics))
		for _, s := range t.Subtopics {
			subs[s.SubtopicName] = struct{}{}
		}
		idx[t.TopicName] = subs
	}
	return idx
}

// Has reports whether the (topic, subtopic) pair exists in the taxonomy.
func (idx TaxonomyIndex) Has(topic, subtopic string) bool {
	subs, ok := idx[topic]
	if !ok {
		return false
	}
	_, ok = subs[subtopic]
	return ok
}
