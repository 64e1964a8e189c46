package stages

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/opendeliberation/weaver/pkg/llm"
	"github.com/opendeliberation/weaver/pkg/models"
	"github.com/opendeliberation/weaver/pkg/pipeline"
)

// subtopicCrux is one controversy axis: two opposed statements that
// split the speakers of a subtopic.
type subtopicCrux struct {
	TopicName    string  `json:"topicName"`
	SubtopicName string  `json:"subtopicName"`
	CruxA        string  `json:"cruxA"`
	CruxB        string  `json:"cruxB"`
	Score        float64 `json:"score"`
}

// topicScore is the mean crux controversy score for one topic.
type topicScore struct {
	TopicName string  `json:"topicName"`
	Score     float64 `json:"score"`
}

// cruxesResponse is the expected per-topic LLM document. Speaker
// positions map speaker names to "a" or "b".
type cruxesResponse struct {
	Cruxes []struct {
		SubtopicName     string            `json:"subtopicName"`
		CruxA            string            `json:"cruxA"`
		CruxB            string            `json:"cruxB"`
		Score            float64           `json:"score"`
		SpeakerPositions map[string]string `json:"speakerPositions"`
	} `json:"cruxes"`
}

// Cruxes finds the most controversial claim pairs per topic, one LLM
// call per topic, and assembles the crux list, per-topic scores, and the
// speaker position matrix. Template placeholder: ${topic}. TopK > 0
// keeps only the highest-scoring cruxes overall.
func (s *Suite) Cruxes(ctx context.Context, in *models.CruxesInput) (*models.CruxesOutput, error) {
	if len(in.Tree) == 0 {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "cruxes requires a non-empty claims tree")
	}

	var usage models.Usage
	var cost float64
	var cruxes []subtopicCrux
	positions := make(map[string]map[string]string)

	topicNames := make([]string, 0, len(in.Tree))
	for name := range in.Tree {
		topicNames = append(topicNames, name)
	}
	sort.Strings(topicNames)

	for _, topicName := range topicNames {
		node := in.Tree[topicName]

		userPrompt, err := hydrateTemplate(in.Config.UserPrompt, map[string]string{
			"topic": mustJSON(map[string]any{
				"topicName": topicName,
				"subtopics": node.Subtopics,
			}),
		})
		if err != nil {
			return nil, err
		}

		resp, err := s.llm.Complete(ctx, in.APIKey, &llm.Request{
			Model:        in.Config.ModelName,
			SystemPrompt: in.Config.SystemPrompt,
			UserPrompt:   userPrompt,
			JSONResponse: true,
		})
		if err != nil {
			return nil, err
		}
		usage.Add(resp.Usage)
		cost += resp.Cost

		var parsed cruxesResponse
		if err := decodeJSONResponse(resp.Content, &parsed); err != nil {
			return nil, err
		}

		for _, c := range parsed.Cruxes {
			if _, ok := node.Subtopics[c.SubtopicName]; !ok {
				slog.Warn("Dropping crux referencing unknown subtopic",
					"report_id", in.ReportID,
					"topic", topicName,
					"subtopic", c.SubtopicName)
				continue
			}
			crux := subtopicCrux{
				TopicName:    topicName,
				SubtopicName: c.SubtopicName,
				CruxA:        c.CruxA,
				CruxB:        c.CruxB,
				Score:        c.Score,
			}
			cruxes = append(cruxes, crux)

			key := topicName + " / " + c.SubtopicName
			for speaker, side := range c.SpeakerPositions {
				if side != "a" && side != "b" {
					slog.Warn("Dropping speaker position with unknown side",
						"report_id", in.ReportID,
						"speaker", speaker,
						"side", side)
					continue
				}
				if positions[speaker] == nil {
					positions[speaker] = make(map[string]string)
				}
				positions[speaker][key] = side
			}
		}
	}

	// Highest controversy first; ties break on topic then subtopic name
	// so output order is stable.
	sort.SliceStable(cruxes, func(i, j int) bool {
		if cruxes[i].Score != cruxes[j].Score {
			return cruxes[i].Score > cruxes[j].Score
		}
		if cruxes[i].TopicName != cruxes[j].TopicName {
			return cruxes[i].TopicName < cruxes[j].TopicName
		}
		return cruxes[i].SubtopicName < cruxes[j].SubtopicName
	})
	if in.TopK > 0 && len(cruxes) > in.TopK {
		cruxes = cruxes[:in.TopK]
	}

	scores := topicMeanScores(topicNames, cruxes)

	cruxesJSON, err := json.Marshal(cruxes)
	if err != nil {
		return nil, pipeline.WrapError(pipeline.KindInternal, err, "failed to encode cruxes")
	}
	scoresJSON, err := json.Marshal(scores)
	if err != nil {
		return nil, pipeline.WrapError(pipeline.KindInternal, err, "failed to encode topic scores")
	}
	matrixJSON, err := json.Marshal(positions)
	if err != nil {
		return nil, pipeline.WrapError(pipeline.KindInternal, err, "failed to encode speaker matrix")
	}

	slog.Info("Cruxes complete",
		"report_id", in.ReportID,
		"cruxes", len(cruxes),
		"speakers", len(positions),
		"total_tokens", usage.TotalTokens)

	return &models.CruxesOutput{
		SubtopicCruxes:    cruxesJSON,
		TopicScores:       scoresJSON,
		SpeakerCruxMatrix: matrixJSON,
		Usage:             usage,
		Cost:              cost,
	}, nil
}

// topicMeanScores averages the surviving crux scores per topic. Topics
// whose cruxes were all filtered or truncated score zero.
func topicMeanScores(topicNames []string, cruxes []subtopicCrux) []topicScore {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, c := range cruxes {
		sums[c.TopicName] += c.Score
		counts[c.TopicName]++
	}

	scores := make([]topicScore, 0, len(topicNames))
	for _, name := range topicNames {
		s := topicScore{TopicName: name}
		if n := counts[name]; n > 0 {
			s.Score = sums[name] / float64(n)
		}
		scores = append(scores, s)
	}
	return scores
}
