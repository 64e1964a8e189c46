package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendeliberation/weaver/pkg/pipeline"
)

func TestHydrateTemplate(t *testing.T) {
	out, err := hydrateTemplate("Categorize: ${comments} using ${comments}", map[string]string{
		"comments": `[{"id":"c1"}]`,
	})
	require.NoError(t, err)
	assert.Equal(t, `Categorize: [{"id":"c1"}] using [{"id":"c1"}]`, out)
}

func TestHydrateTemplateNoPlaceholders(t *testing.T) {
	out, err := hydrateTemplate("static prompt", map[string]string{"comments": "x"})
	require.NoError(t, err)
	assert.Equal(t, "static prompt", out)
}

func TestHydrateTemplateUnknownPlaceholder(t *testing.T) {
	_, err := hydrateTemplate("use ${comments} and ${surprise}", map[string]string{"comments": "x"})
	require.Error(t, err)
	assert.Equal(t, pipeline.KindInvalidInput, pipeline.KindOf(err))
	assert.Contains(t, err.Error(), "${surprise}")
}

func TestTemplateUses(t *testing.T) {
	tpl := "summarize ${topics} for me"
	assert.True(t, templateUses(tpl, "topics"))
	assert.False(t, templateUses(tpl, "topic"))
	assert.False(t, templateUses("no placeholders", "topics"))
}

func TestDecodeJSONResponse(t *testing.T) {
	var doc struct {
		Summary string `json:"summary"`
	}
	require.NoError(t, decodeJSONResponse(`{"summary": "fine"}`, &doc))
	assert.Equal(t, "fine", doc.Summary)
}

func TestDecodeJSONResponseStripsFences(t *testing.T) {
	fenced := "```json\n{\"summary\": \"fenced\"}\n```"
	var doc struct {
		Summary string `json:"summary"`
	}
	require.NoError(t, decodeJSONResponse(fenced, &doc))
	assert.Equal(t, "fenced", doc.Summary)

	bare := "```\n{\"summary\": \"bare fence\"}\n```"
	require.NoError(t, decodeJSONResponse(bare, &doc))
	assert.Equal(t, "bare fence", doc.Summary)
}

func TestDecodeJSONResponseInvalid(t *testing.T) {
	var doc map[string]any
	err := decodeJSONResponse("The taxonomy is as follows: ...", &doc)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindUpstreamInvalidResponse, pipeline.KindOf(err))
}
