package stages

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendeliberation/weaver/pkg/llm"
	"github.com/opendeliberation/weaver/pkg/models"
	"github.com/opendeliberation/weaver/pkg/pipeline"
)

func cruxesInput(topK int) *models.CruxesInput {
	return &models.CruxesInput{
		StageContext: models.StageContext{ReportID: "report-1", APIKey: "sk-test"},
		Tree: models.BuildClaimsTree([]models.BaseClaim{
			{Claim: "More buses", Speaker: "alice", TopicName: "Transit", SubtopicName: "Buses", CommentID: "c1"},
			{Claim: "Fewer buses", Speaker: "bob", TopicName: "Transit", SubtopicName: "Buses", CommentID: "c2"},
			{Claim: "Bike lanes", Speaker: "carol", TopicName: "Transit", SubtopicName: "Cycling", CommentID: "c3"},
		}),
		Topics: []models.PartialTopic{{TopicName: "Transit"}},
		Config: models.LLMConfig{ModelName: "gpt-4o", UserPrompt: "Find cruxes in ${topic}"},
		TopK:   topK,
	}
}

func decodeCruxList(t *testing.T, raw json.RawMessage) []map[string]any {
	t.Helper()
	var out []map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestCruxes(t *testing.T) {
	client := &fakeLLM{respond: func(req *llm.Request) (*llm.Response, error) {
		return jsonReply(`{"cruxes": [
			{
				"subtopicName": "Buses",
				"cruxA": "Expand bus service",
				"cruxB": "Cut bus service",
				"score": 0.9,
				"speakerPositions": {"alice": "a", "bob": "b"}
			},
			{
				"subtopicName": "Cycling",
				"cruxA": "Build bike lanes",
				"cruxB": "Keep car lanes",
				"score": 0.4,
				"speakerPositions": {"carol": "a"}
			}
		]}`)
	}}
	suite := NewSuite(client, 2)

	out, err := suite.Cruxes(context.Background(), cruxesInput(0))

	require.NoError(t, err)
	assert.Equal(t, 1, client.callCount())

	cruxes := decodeCruxList(t, out.SubtopicCruxes)
	require.Len(t, cruxes, 2)
	// Highest controversy first.
	assert.Equal(t, "Buses", cruxes[0]["subtopicName"])
	assert.Equal(t, 0.9, cruxes[0]["score"])

	scores := decodeCruxList(t, out.TopicScores)
	require.Len(t, scores, 1)
	assert.Equal(t, "Transit", scores[0]["topicName"])
	assert.InDelta(t, 0.65, scores[0]["score"].(float64), 1e-9)

	var matrix map[string]map[string]string
	require.NoError(t, json.Unmarshal(out.SpeakerCruxMatrix, &matrix))
	assert.Equal(t, "a", matrix["alice"]["Transit / Buses"])
	assert.Equal(t, "b", matrix["bob"]["Transit / Buses"])
	assert.Equal(t, "a", matrix["carol"]["Transit / Cycling"])
}

func TestCruxesTopKTruncation(t *testing.T) {
	client := &fakeLLM{respond: func(req *llm.Request) (*llm.Response, error) {
		return jsonReply(`{"cruxes": [
			{"subtopicName": "Buses", "cruxA": "a", "cruxB": "b", "score": 0.2},
			{"subtopicName": "Cycling", "cruxA": "a", "cruxB": "b", "score": 0.8}
		]}`)
	}}
	suite := NewSuite(client, 2)

	out, err := suite.Cruxes(context.Background(), cruxesInput(1))

	require.NoError(t, err)
	cruxes := decodeCruxList(t, out.SubtopicCruxes)
	require.Len(t, cruxes, 1)
	assert.Equal(t, "Cycling", cruxes[0]["subtopicName"], "truncation keeps the highest score")
}

func TestCruxesDropsUnknownSubtopicAndSide(t *testing.T) {
	client := &fakeLLM{respond: func(req *llm.Request) (*llm.Response, error) {
		return jsonReply(`{"cruxes": [
			{"subtopicName": "Parking", "cruxA": "a", "cruxB": "b", "score": 0.9},
			{
				"subtopicName": "Buses",
				"cruxA": "a",
				"cruxB": "b",
				"score": 0.5,
				"speakerPositions": {"alice": "a", "bob": "maybe"}
			}
		]}`)
	}}
	suite := NewSuite(client, 2)

	out, err := suite.Cruxes(context.Background(), cruxesInput(0))

	require.NoError(t, err)
	cruxes := decodeCruxList(t, out.SubtopicCruxes)
	require.Len(t, cruxes, 1, "crux against an unknown subtopic is dropped")
	assert.Equal(t, "Buses", cruxes[0]["subtopicName"])

	var matrix map[string]map[string]string
	require.NoError(t, json.Unmarshal(out.SpeakerCruxMatrix, &matrix))
	assert.Contains(t, matrix, "alice")
	assert.NotContains(t, matrix, "bob", "positions outside a/b are dropped")
}

func TestCruxesEmptyTree(t *testing.T) {
	suite := NewSuite(&fakeLLM{}, 2)
	in := cruxesInput(0)
	in.Tree = nil

	_, err := suite.Cruxes(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindInvalidInput, pipeline.KindOf(err))
}

func TestTopicMeanScores(t *testing.T) {
	scores := topicMeanScores([]string{"Transit", "Housing"}, []subtopicCrux{
		{TopicName: "Transit", Score: 0.4},
		{TopicName: "Transit", Score: 0.8},
	})
	require.Len(t, scores, 2)
	assert.InDelta(t, 0.6, scores[0].Score, 1e-9)
	assert.Zero(t, scores[1].Score, "topics without surviving cruxes score zero")
}
