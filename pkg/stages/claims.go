package stages

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/opendeliberation/weaver/pkg/llm"
	"github.com/opendeliberation/weaver/pkg/models"
	"github.com/opendeliberation/weaver/pkg/pipeline"
)

// claimsResponse is the expected per-comment LLM document for the claims
// stage.
type claimsResponse struct {
	Claims []struct {
		Claim        string `json:"claim"`
		Quote        string `json:"quote"`
		TopicName    string `json:"topicName"`
		SubtopicName string `json:"subtopicName"`
	} `json:"claims"`
}

// commentClaims pairs one comment's extracted claims with its launch
// index so results merge in input order regardless of completion order.
type commentClaims struct {
	index  int
	claims []models.BaseClaim
	usage  models.Usage
	cost   float64
	err    error
}

// Claims extracts atomic claims per comment with a bounded fan-out and
// groups them under the taxonomy. Template placeholders: ${taxonomy},
// ${comment}. Claims referencing a (topic, subtopic) pair absent from
// the taxonomy are dropped with a warning, not an error.
func (s *Suite) Claims(ctx context.Context, in *models.ClaimsInput) (*models.ClaimsOutput, error) {
	if len(in.Taxonomy) == 0 {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "claims requires a non-empty taxonomy")
	}
	if len(in.Comments) == 0 {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "claims requires at least one comment")
	}

	taxonomyJSON := mustJSON(in.Taxonomy)
	idx := models.BuildTaxonomyIndex(in.Taxonomy)

	// Reject templates with unknown placeholders before spending tokens.
	if _, err := hydrateTemplate(in.Config.UserPrompt, map[string]string{
		"taxonomy": taxonomyJSON,
		"comment":  "{}",
	}); err != nil {
		return nil, err
	}

	results := make(chan commentClaims, len(in.Comments))
	sem := make(chan struct{}, s.claimsConcurrency)
	var wg sync.WaitGroup

	for i, comment := range in.Comments {
		wg.Add(1)
		go func(i int, comment models.Comment) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- s.extractCommentClaims(ctx, in, taxonomyJSON, idx, i, comment)
		}(i, comment)
	}
	wg.Wait()
	close(results)

	collected := make([]commentClaims, 0, len(in.Comments))
	for cc := range results {
		collected = append(collected, cc)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].index < collected[j].index })

	var all []models.BaseClaim
	var usage models.Usage
	var cost float64
	for _, cc := range collected {
		if cc.err != nil {
			// Fail the stage on the first comment whose extraction failed;
			// usage spent so far is lost with it, the runner does not
			// persist partial stage output.
			return nil, cc.err
		}
		all = append(all, cc.claims...)
		usage.Add(cc.usage)
		cost += cc.cost
	}

	slog.Info("Claims extraction complete",
		"report_id", in.ReportID,
		"comments", len(in.Comments),
		"claims", len(all),
		"total_tokens", usage.TotalTokens)

	return &models.ClaimsOutput{
		Data:  models.BuildClaimsTree(all),
		Usage: usage,
		Cost:  cost,
	}, nil
}

// extractCommentClaims runs one comment through the LLM and filters the
// result against the taxonomy and comment batch.
func (s *Suite) extractCommentClaims(
	ctx context.Context,
	in *models.ClaimsInput,
	taxonomyJSON string,
	idx models.TaxonomyIndex,
	index int,
	comment models.Comment,
) commentClaims {
	userPrompt, err := hydrateTemplate(in.Config.UserPrompt, map[string]string{
		"taxonomy": taxonomyJSON,
		"comment":  mustJSON(comment),
	})
	if err != nil {
		return commentClaims{index: index, err: err}
	}

	resp, err := s.llm.Complete(ctx, in.APIKey, &llm.Request{
		Model:        in.Config.ModelName,
		SystemPrompt: in.Config.SystemPrompt,
		UserPrompt:   userPrompt,
		JSONResponse: true,
	})
	if err != nil {
		return commentClaims{index: index, err: err}
	}

	var parsed claimsResponse
	if err := decodeJSONResponse(resp.Content, &parsed); err != nil {
		return commentClaims{index: index, err: err}
	}

	claims := make([]models.BaseClaim, 0, len(parsed.Claims))
	for _, c := range parsed.Claims {
		if !idx.Has(c.TopicName, c.SubtopicName) {
			slog.Warn("Dropping claim referencing unknown taxonomy pair",
				"report_id", in.ReportID,
				"comment_id", comment.ID,
				"topic", c.TopicName,
				"subtopic", c.SubtopicName)
			continue
		}
		claims = append(claims, models.BaseClaim{
			Claim:        c.Claim,
			Quote:        c.Quote,
			Speaker:      comment.Speaker,
			TopicName:    c.TopicName,
			SubtopicName: c.SubtopicName,
			CommentID:    comment.ID,
		})
	}
	return commentClaims{
		index:  index,
		claims: claims,
		usage:  resp.Usage,
		cost:   resp.Cost,
	}
}
