package models

import "encoding/json"

// Stage inputs and outputs. Every output carries the {usage, cost}
// analytics envelope in addition to its stage-specific fields; the JSON
// field names are part of the cached-result validation contract.

// StageContext carries telemetry correlation fields shared by all
// stages, plus the API key. The key flows by value and is excluded from
// serialization; it never reaches the durable state.
type StageContext struct {
	ReportID string `json:"reportId"`
	UserID   string `json:"userId"`
	APIKey   string `json:"-"`
}

// ClusteringInput is the clustering stage payload.
type ClusteringInput struct {
	StageContext
	Comments []Comment `json:"comments"`
	Config   LLMConfig `json:"llmConfig"`
}

// ClusteringOutput is the clustering stage result: the topic taxonomy.
type ClusteringOutput struct {
	Data  []PartialTopic `json:"data"`
	Usage Usage          `json:"usage"`
	Cost  float64        `json:"cost"`
}

// ClaimsInput is the claims stage payload.
type ClaimsInput struct {
	StageContext
	Comments []Comment      `json:"comments"`
	Taxonomy []PartialTopic `json:"taxonomy"`
	Config   LLMConfig      `json:"llmConfig"`
}

// ClaimsOutput is the claims stage result: claims grouped under taxonomy nodes.
type ClaimsOutput struct {
	Data  ClaimsTree `json:"data"`
	Usage Usage      `json:"usage"`
	Cost  float64    `json:"cost"`
}

// SortInput is the sort_and_deduplicate stage payload.
type SortInput struct {
	StageContext
	Tree         ClaimsTree `json:"tree"`
	Config       LLMConfig  `json:"llmConfig"`
	SortStrategy string     `json:"sortStrategy"`
}

// SortOutput is the sort_and_deduplicate stage result.
type SortOutput struct {
	Data  SortedTree `json:"data"`
	Usage Usage      `json:"usage"`
	Cost  float64    `json:"cost"`
}

// SummariesInput is the summaries stage payload.
type SummariesInput struct {
	StageContext
	Tree   SortedTree `json:"tree"`
	Config LLMConfig  `json:"llmConfig"`
}

// SummariesOutput is the summaries stage result.
type SummariesOutput struct {
	Data  []TopicSummary `json:"data"`
	Usage Usage          `json:"usage"`
	Cost  float64        `json:"cost"`
}

// CruxesInput is the cruxes stage payload.
type CruxesInput struct {
	StageContext
	Tree   ClaimsTree     `json:"tree"`
	Topics []PartialTopic `json:"topics"`
	Config LLMConfig      `json:"llmConfig"`
	TopK   int            `json:"topK"`
}

// CruxesOutput is the cruxes stage result. The first three shapes are
// opaque to the runner; it only asserts their presence.
type CruxesOutput struct {
	SubtopicCruxes    json.RawMessage `json:"subtopicCruxes"`
	TopicScores       json.RawMessage `json:"topicScores"`
	SpeakerCruxMatrix json.RawMessage `json:"speakerCruxMatrix"`
	Usage             Usage           `json:"usage"`
	Cost              float64         `json:"cost"`
}
