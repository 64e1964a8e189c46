package stages

import (
	"context"
	"log/slog"
	"strings"

	"github.com/opendeliberation/weaver/pkg/llm"
	"github.com/opendeliberation/weaver/pkg/models"
	"github.com/opendeliberation/weaver/pkg/pipeline"
)

// clusteringResponse is the expected LLM document for the clustering
// stage.
type clusteringResponse struct {
	Taxonomy []models.PartialTopic `json:"taxonomy"`
}

// Clustering derives the topic/subtopic taxonomy from the whole comment
// batch in a single LLM call. Template placeholder: ${comments}.
func (s *Suite) Clustering(ctx context.Context, in *models.ClusteringInput) (*models.ClusteringOutput, error) {
	if len(in.Comments) == 0 {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "clustering requires at least one comment")
	}

	userPrompt, err := hydrateTemplate(in.Config.UserPrompt, map[string]string{
		"comments": mustJSON(in.Comments),
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

	var parsed clusteringResponse
	if err := decodeJSONResponse(resp.Content, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Taxonomy) == 0 {
		return nil, pipeline.NewError(pipeline.KindUpstreamInvalidResponse, "clustering returned an empty taxonomy")
	}
	for _, topic := range parsed.Taxonomy {
		if strings.TrimSpace(topic.TopicName) == "" {
			return nil, pipeline.NewError(pipeline.KindUpstreamInvalidResponse, "clustering returned a topic without a name")
		}
	}

	slog.Info("Clustering produced taxonomy",
		"report_id", in.ReportID,
		"topics", len(parsed.Taxonomy),
		"total_tokens", resp.Usage.TotalTokens)

	return &models.ClusteringOutput{
		Data:  parsed.Taxonomy,
		Usage: resp.Usage,
		Cost:  resp.Cost,
	}, nil
}
