package stages

import (
	"context"
	"log/slog"
	"sort"

	"github.com/opendeliberation/weaver/pkg/llm"
	"github.com/opendeliberation/weaver/pkg/models"
	"github.com/opendeliberation/weaver/pkg/pipeline"
)

// indexedClaim is the shape the dedup prompt sees: each claim tagged with
// its position so the model can answer with index groups only.
type indexedClaim struct {
	Index int    `json:"index"`
	Claim string `json:"claim"`
	Quote string `json:"quote"`
}

// dedupResponse is the expected LLM document for one subtopic: groups of
// claim indices, the first index of each group being the representative.
type dedupResponse struct {
	Groups [][]int `json:"groups"`
}

// SortAndDeduplicate folds near-duplicate claims under representatives
// (one LLM call per multi-claim subtopic), computes claim and unique
// speaker counts, and orders topics and subtopics by the requested
// strategy. Template placeholder: ${claims}.
func (s *Suite) SortAndDeduplicate(ctx context.Context, in *models.SortInput) (*models.SortOutput, error) {
	if !models.KnownSortStrategy(in.SortStrategy) {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "unknown sort strategy %q", in.SortStrategy)
	}
	if len(in.Tree) == 0 {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "sort_and_deduplicate requires a non-empty claims tree")
	}

	var usage models.Usage
	var cost float64
	tree := make(models.SortedTree, 0, len(in.Tree))

	// Deterministic iteration over map-keyed input.
	topicNames := make([]string, 0, len(in.Tree))
	for name := range in.Tree {
		topicNames = append(topicNames, name)
	}
	sort.Strings(topicNames)

	for _, topicName := range topicNames {
		topic := in.Tree[topicName]

		subNames := make([]string, 0, len(topic.Subtopics))
		for name := range topic.Subtopics {
			subNames = append(subNames, name)
		}
		sort.Strings(subNames)

		subs := make([]models.SortedSubtopic, 0, len(subNames))
		topicSpeakers := make(map[string]struct{})
		topicClaims := 0

		for _, subName := range subNames {
			node := topic.Subtopics[subName]
			deduped, u, c, err := s.dedupSubtopic(ctx, in, subName, node.Claims)
			if err != nil {
				return nil, err
			}
			usage.Add(u)
			cost += c

			counts := subtopicCounts(deduped)
			topicClaims += counts.Claims
			for _, cw := range deduped {
				topicSpeakers[cw.Speaker] = struct{}{}
				for _, d := range cw.Duplicates {
					topicSpeakers[d.Speaker] = struct{}{}
				}
			}

			subs = append(subs, models.SortedSubtopic{
				SubtopicName: subName,
				Counts:       counts,
				Claims:       deduped,
			})
		}

		sortSubtopics(subs, in.SortStrategy)
		tree = append(tree, models.SortedTopic{
			TopicName: topicName,
			Counts:    models.Counts{Claims: topicClaims, Speakers: len(topicSpeakers)},
			Topics:    subs,
		})
	}

	sortTopics(tree, in.SortStrategy)

	slog.Info("Sort and deduplicate complete",
		"report_id", in.ReportID,
		"strategy", in.SortStrategy,
		"topics", len(tree),
		"total_tokens", usage.TotalTokens)

	return &models.SortOutput{Data: tree, Usage: usage, Cost: cost}, nil
}

// dedupSubtopic asks the LLM to group near-duplicates within one subtopic.
// Single-claim subtopics skip the call entirely.
func (s *Suite) dedupSubtopic(
	ctx context.Context,
	in *models.SortInput,
	subtopicName string,
	claims []models.BaseClaim,
) ([]models.ClaimWithDuplicates, models.Usage, float64, error) {
	if len(claims) <= 1 {
		out := make([]models.ClaimWithDuplicates, 0, len(claims))
		for _, c := range claims {
			out = append(out, models.ClaimWithDuplicates{BaseClaim: c})
		}
		return out, models.Usage{}, 0, nil
	}

	indexed := make([]indexedClaim, len(claims))
	for i, c := range claims {
		indexed[i] = indexedClaim{Index: i, Claim: c.Claim, Quote: c.Quote}
	}

	userPrompt, err := hydrateTemplate(in.Config.UserPrompt, map[string]string{
		"claims": mustJSON(indexed),
	})
	if err != nil {
		return nil, models.Usage{}, 0, err
	}

	resp, err := s.llm.Complete(ctx, in.APIKey, &llm.Request{
		Model:        in.Config.ModelName,
		SystemPrompt: in.Config.SystemPrompt,
		UserPrompt:   userPrompt,
		JSONResponse: true,
	})
	if err != nil {
		return nil, models.Usage{}, 0, err
	}

	var parsed dedupResponse
	if err := decodeJSONResponse(resp.Content, &parsed); err != nil {
		return nil, models.Usage{}, 0, err
	}

	out := assignGroups(in.ReportID, subtopicName, claims, parsed.Groups)
	return out, resp.Usage, resp.Cost, nil
}

// assignGroups turns index groups into representative claims with
// duplicates. Indices out of range or already assigned are dropped with a
// warning; claims the model left unmentioned survive as singletons. Every
// input claim appears exactly once in the output.
func assignGroups(reportID, subtopicName string, claims []models.BaseClaim, groups [][]int) []models.ClaimWithDuplicates {
	assigned := make([]bool, len(claims))
	var out []models.ClaimWithDuplicates

	for _, group := range groups {
		var members []int
		for _, idx := range group {
			if idx < 0 || idx >= len(claims) {
				slog.Warn("Dropping out-of-range claim index in dedup grouping",
					"report_id", reportID, "subtopic", subtopicName, "index", idx)
				continue
			}
			if assigned[idx] {
				slog.Warn("Dropping repeated claim index in dedup grouping",
					"report_id", reportID, "subtopic", subtopicName, "index", idx)
				continue
			}
			assigned[idx] = true
			members = append(members, idx)
		}
		if len(members) == 0 {
			continue
		}
		rep := models.ClaimWithDuplicates{BaseClaim: claims[members[0]]}
		for _, idx := range members[1:] {
			rep.Duplicates = append(rep.Duplicates, claims[idx])
		}
		out = append(out, rep)
	}

	for i, c := range claims {
		if !assigned[i] {
			out = append(out, models.ClaimWithDuplicates{BaseClaim: c})
		}
	}
	return out
}

// subtopicCounts counts claims (duplicates included) and unique speakers.
func subtopicCounts(claims []models.ClaimWithDuplicates) models.Counts {
	speakers := make(map[string]struct{})
	total := 0
	for _, c := range claims {
		total += 1 + len(c.Duplicates)
		speakers[c.Speaker] = struct{}{}
		for _, d := range c.Duplicates {
			speakers[d.Speaker] = struct{}{}
		}
	}
	return models.Counts{Claims: total, Speakers: len(speakers)}
}

// sortTopics orders topics in place per the strategy. Ties fall back to
// the secondary count, then topic name ascending.
func sortTopics(topics models.SortedTree, strategy string) {
	sort.SliceStable(topics, func(i, j int) bool {
		return countsLess(topics[i].Counts, topics[j].Counts, topics[i].TopicName, topics[j].TopicName, strategy)
	})
}

// sortSubtopics orders one topic's subtopics in place per the strategy.
func sortSubtopics(subs []models.SortedSubtopic, strategy string) {
	sort.SliceStable(subs, func(i, j int) bool {
		return countsLess(subs[i].Counts, subs[j].Counts, subs[i].SubtopicName, subs[j].SubtopicName, strategy)
	})
}

func countsLess(a, b models.Counts, nameA, nameB, strategy string) bool {
	var primaryA, primaryB, secondaryA, secondaryB int
	switch strategy {
	case models.SortStrategySpeakersDesc:
		primaryA, primaryB = a.Speakers, b.Speakers
		secondaryA, secondaryB = a.Claims, b.Claims
	default:
		primaryA, primaryB = a.Claims, b.Claims
		secondaryA, secondaryB = a.Speakers, b.Speakers
	}
	if primaryA != primaryB {
		return primaryA > primaryB
	}
	if secondaryA != secondaryB {
		return secondaryA > secondaryB
	}
	return nameA < nameB
}
