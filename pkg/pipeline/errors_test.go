package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendeliberation/weaver/pkg/models"
)

func TestErrorFormatting(t *testing.T) {
	plain := NewError(KindInvalidInput, "unknown sort strategy %q", "bogus")
	assert.Equal(t, `invalid_input: unknown sort strategy "bogus"`, plain.Error())
	assert.Nil(t, plain.Unwrap())

	cause := errors.New("connection refused")
	wrapped := WrapError(KindUpstreamUnavailable, cause, "provider call failed")
	assert.Equal(t, "upstream_unavailable: provider call failed: connection refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindLockLost, KindOf(NewError(KindLockLost, "gone")))
	assert.Equal(t, KindInternal, KindOf(errors.New("untagged")))

	// Kind survives further wrapping.
	wrapped := fmt.Errorf("outer: %w", NewError(KindUpstreamRateLimited, "slow down"))
	assert.Equal(t, KindUpstreamRateLimited, KindOf(wrapped))
}

func TestStepError(t *testing.T) {
	cause := NewError(KindContentPolicy, "refused")
	se := &StepError{Step: models.StepClaims, Err: cause}

	assert.Contains(t, se.Error(), "step claims failed")
	assert.ErrorIs(t, se, cause)
	assert.Equal(t, KindContentPolicy, KindOf(se))
}

func TestErrorRecordFor(t *testing.T) {
	rec := ErrorRecordFor(NewError(KindCancellation, "pipeline cancelled"), models.StepSort)
	require.NotNil(t, rec)
	assert.Equal(t, "cancellation", rec.Name)
	assert.Equal(t, models.StepSort, rec.Step)
	assert.Contains(t, rec.Message, "pipeline cancelled")

	rec = ErrorRecordFor(errors.New("boom"), "")
	assert.Equal(t, "internal", rec.Name)
	assert.Equal(t, models.StepName(""), rec.Step)
}
