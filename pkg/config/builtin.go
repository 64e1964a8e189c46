package config

import "sync"

// BuiltinConfig holds the built-in stage prompts and models. User YAML
// overrides any field per stage; unset fields keep these values.
type BuiltinConfig struct {
	Stages       map[string]StageLLMConfig
	DefaultModel string
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Stages:       initBuiltinStages(),
		DefaultModel: "gpt-4o-mini",
	}
}

func initBuiltinStages() map[string]StageLLMConfig {
	return map[string]StageLLMConfig{
		StageClustering: {
			ModelName: "gpt-4o-mini",
			SystemPrompt: "You are a deliberation analyst. You organize public comments " +
				"into a two-level taxonomy of topics and subtopics. Respond with JSON only.",
			UserPrompt: "Group the themes of the following comments into a taxonomy. " +
				"Respond as {\"taxonomy\":[{\"topicName\":...,\"subtopics\":[{\"subtopicName\":...}]}]}.\n\n" +
				"Comments:\n${comments}",
		},
		StageClaims: {
			ModelName: "gpt-4o-mini",
			SystemPrompt: "You are a deliberation analyst. You extract the distinct, " +
				"debatable claims a participant makes. Respond with JSON only.",
			UserPrompt: "Given this taxonomy:\n${taxonomy}\n\nExtract the claims made in " +
				"the comment below, each with a supporting quote and its taxonomy placement. " +
				"Respond as {\"claims\":[{\"claim\":...,\"quote\":...,\"topicName\":...,\"subtopicName\":...}]}.\n\n" +
				"Comment:\n${comment}",
		},
		StageDedup: {
			ModelName: "gpt-4o-mini",
			SystemPrompt: "You are a deliberation analyst. You identify near-duplicate " +
				"claims that state the same position. Respond with JSON only.",
			UserPrompt: "Group the following indexed claims so that each group contains " +
				"claims stating the same position. Put the clearest claim first in its group. " +
				"Respond as {\"groups\":[[0,2],[1]]}.\n\nClaims:\n${claims}",
		},
		StageSummaries: {
			ModelName: "gpt-4o-mini",
			SystemPrompt: "You are a deliberation analyst. You write short neutral " +
				"summaries of discussion topics. Respond with JSON only.",
			UserPrompt: "Summarize the following topic in at most 140 words, covering the " +
				"main positions and their relative support. " +
				"Respond as {\"summary\":...}.\n\nTopic:\n${topic}",
		},
		StageCruxes: {
			ModelName: "gpt-4o",
			SystemPrompt: "You are a deliberation analyst. You find the crux statements " +
				"that most divide participants. Respond with JSON only.",
			UserPrompt: "For each subtopic of the following topic, state the pair of opposed " +
				"positions that best splits the participants, a controversy score in [0,1], " +
				"and each speaker's side. Respond as {\"cruxes\":[{\"subtopicName\":...," +
				"\"cruxA\":...,\"cruxB\":...,\"score\":...,\"speakerPositions\":{\"name\":\"a\"}}]}.\n\n" +
				"Topic:\n${topic}",
		},
	}
}
