package stages

import (
	"context"
	"log/slog"

	"github.com/opendeliberation/weaver/pkg/llm"
	"github.com/opendeliberation/weaver/pkg/models"
	"github.com/opendeliberation/weaver/pkg/pipeline"
)

// summaryResponse is the expected per-topic LLM document.
type summaryResponse struct {
	Summary string `json:"summary"`
}

// batchSummariesResponse is the expected LLM document when the prompt
// summarizes all topics in one call.
type batchSummariesResponse struct {
	Summaries []models.TopicSummary `json:"summaries"`
}

// Summaries writes one short narrative per topic. Templates using
// ${topics} get all topics in a single call; templates using ${topic}
// get one call per topic.
func (s *Suite) Summaries(ctx context.Context, in *models.SummariesInput) (*models.SummariesOutput, error) {
	if len(in.Tree) == 0 {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "summaries requires a non-empty sorted tree")
	}

	batched := templateUses(in.Config.UserPrompt, "topics")
	if batched {
		return s.summarizeBatch(ctx, in)
	}
	return s.summarizePerTopic(ctx, in)
}

func (s *Suite) summarizeBatch(ctx context.Context, in *models.SummariesInput) (*models.SummariesOutput, error) {
	userPrompt, err := hydrateTemplate(in.Config.UserPrompt, map[string]string{
		"topics": mustJSON(in.Tree),
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

	var parsed batchSummariesResponse
	if err := decodeJSONResponse(resp.Content, &parsed); err != nil {
		return nil, err
	}

	byTopic := make(map[string]string, len(parsed.Summaries))
	for _, s := range parsed.Summaries {
		byTopic[s.TopicName] = s.Summary
	}

	// Emit summaries in tree order; every topic must be covered.
	out := make([]models.TopicSummary, 0, len(in.Tree))
	for _, topic := range in.Tree {
		summary, ok := byTopic[topic.TopicName]
		if !ok || summary == "" {
			return nil, pipeline.NewError(pipeline.KindUpstreamInvalidResponse,
				"summaries response missing topic %q", topic.TopicName)
		}
		out = append(out, models.TopicSummary{TopicName: topic.TopicName, Summary: summary})
	}

	slog.Info("Summaries complete",
		"report_id", in.ReportID,
		"topics", len(out),
		"mode", "batch",
		"total_tokens", resp.Usage.TotalTokens)

	return &models.SummariesOutput{Data: out, Usage: resp.Usage, Cost: resp.Cost}, nil
}

func (s *Suite) summarizePerTopic(ctx context.Context, in *models.SummariesInput) (*models.SummariesOutput, error) {
	var usage models.Usage
	var cost float64
	out := make([]models.TopicSummary, 0, len(in.Tree))

	for _, topic := range in.Tree {
		userPrompt, err := hydrateTemplate(in.Config.UserPrompt, map[string]string{
			"topic": mustJSON(topic),
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

		var parsed summaryResponse
		if err := decodeJSONResponse(resp.Content, &parsed); err != nil {
			return nil, err
		}
		if parsed.Summary == "" {
			return nil, pipeline.NewError(pipeline.KindUpstreamInvalidResponse,
				"empty summary for topic %q", topic.TopicName)
		}

		out = append(out, models.TopicSummary{TopicName: topic.TopicName, Summary: parsed.Summary})
		usage.Add(resp.Usage)
		cost += resp.Cost
	}

	slog.Info("Summaries complete",
		"report_id", in.ReportID,
		"topics", len(out),
		"mode", "per-topic",
		"total_tokens", usage.TotalTokens)

	return &models.SummariesOutput{Data: out, Usage: usage, Cost: cost}, nil
}
