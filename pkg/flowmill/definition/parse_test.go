package definition

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmill/flowmill/pkg/flowmill/core"
)

const validDoc = `
name: order-flow
description: exercises every state type
startAt: Prepare
maxTransitions: 40
executionTimeout: 10m
states:
  Prepare:
    type: pass
    assign:
      total: input.amount
      doubled: total * 2
    next: CheckTotal
  CheckTotal:
    type: choice
    rules:
      - when: 'doubled > 100'
        next: Charge
      - when: 'doubled > 10'
        next: Charge
    default: Done
  Charge:
    type: task
    taskRef: charge-card
    input: '{amount: doubled}'
    assign:
      receipt: result.receipt
    timeout: 5s
    retry:
      maxAttempts: 3
      backoffBase: 250ms
      backoffMultiplier: 2
      retryOn: [Timeout, DependencyUnavailable]
    next: Done
    catch: ChargeFailed
  ChargeFailed:
    type: fail
    error: ChargeFailed
    cause: card charge did not go through
  Done:
    type: succeed
    output: '{receipt: receipt}'
`

func TestParseValidDocument(t *testing.T) {
	def, err := Parse([]byte(validDoc))
	require.NoError(t, err)

	assert.Equal(t, "order-flow", def.Name)
	assert.Equal(t, "Prepare", def.StartAt)
	assert.Equal(t, 40, def.MaxTransitions)
	assert.Equal(t, 10*time.Minute, def.ExecutionTimeout)
	assert.Equal(t, []string{"Prepare", "CheckTotal", "Charge", "ChargeFailed", "Done"}, def.Order)

	prepare := def.States["Prepare"]
	require.NotNil(t, prepare)
	assert.Equal(t, StatePass, prepare.Type)
	// assign order must follow the document, not map iteration
	require.Len(t, prepare.Assign, 2)
	assert.Equal(t, "total", prepare.Assign[0].Key)
	assert.Equal(t, "doubled", prepare.Assign[1].Key)

	charge := def.States["Charge"]
	require.NotNil(t, charge)
	assert.Equal(t, "charge-card", charge.TaskRef)
	assert.Equal(t, 5*time.Second, charge.Timeout)
	assert.Equal(t, "ChargeFailed", charge.Catch)
	assert.Equal(t, 3, charge.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, charge.Retry.BackoffBase)
	assert.Equal(t, 2.0, charge.Retry.BackoffMultiplier)
	assert.True(t, charge.Retry.Retryable(core.KindTimeout))
	assert.True(t, charge.Retry.Retryable(core.KindDependencyUnavailable))
	assert.False(t, charge.Retry.Retryable(core.KindInvalidResult))

	done := def.States["Done"]
	require.NotNil(t, done)
	assert.True(t, done.Terminal())
	assert.NotNil(t, done.OutputTemplate)
}

func TestParseDefaultTaskTimeout(t *testing.T) {
	doc := `
name: t
startAt: Only
states:
  Only:
    type: task
    taskRef: noop
    input: '{}'
    next: End
  End:
    type: succeed
`
	def, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, DefaultTaskTimeout, def.States["Only"].Timeout)
	// no retry block means a single attempt
	assert.Equal(t, 0, def.States["Only"].Retry.MaxAttempts)
}

func TestParseMissingStartAt(t *testing.T) {
	doc := `
name: t
states:
  End:
    type: succeed
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no startAt")
}

func TestParseStartAtNotAState(t *testing.T) {
	doc := `
name: t
startAt: Missing
states:
  End:
    type: succeed
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `startAt "Missing" is not a state`)
}

func TestParseInvalidExecutionTimeout(t *testing.T) {
	doc := `
name: t
startAt: End
executionTimeout: soon
states:
  End:
    type: succeed
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid executionTimeout "soon"`)
}

func TestParseDanglingTransition(t *testing.T) {
	doc := `
name: t
startAt: First
states:
  First:
    type: pass
    assign:
      a: '1'
    next: Nowhere
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `transition target "Nowhere" is not a state`)
}

func TestParseDuplicateState(t *testing.T) {
	doc := `
name: t
startAt: A
states:
  A:
    type: succeed
  A:
    type: succeed
`
	// the YAML decoder may reject the duplicate itself; either way the
	// document must not parse
	_, err := Parse([]byte(doc))
	require.Error(t, err)
}

func TestParseBadExpression(t *testing.T) {
	doc := `
name: t
startAt: A
states:
  A:
    type: pass
    assign:
      x: 'input.amount =='
    next: End
  End:
    type: succeed
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile")
}

func TestParseUnknownRetryKind(t *testing.T) {
	doc := `
name: t
startAt: A
states:
  A:
    type: task
    taskRef: noop
    input: '{}'
    retry:
      maxAttempts: 2
      retryOn: [Explosion]
    next: End
  End:
    type: succeed
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown error kind "Explosion"`)
}

func TestParseAccumulatesErrors(t *testing.T) {
	doc := `
name: t
startAt: Gone
states:
  A:
    type: task
    taskRef: noop
    input: '{}'
    next: Nowhere
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	msg := err.Error()
	// one rejection reports every finding, not just the first
	assert.Contains(t, msg, `startAt "Gone" is not a state`)
	assert.True(t, strings.Contains(msg, "Nowhere"))
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{BackoffBase: 100 * time.Millisecond, BackoffMultiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
}

func TestUnreachableStates(t *testing.T) {
	doc := `
name: t
startAt: A
states:
  A:
    type: pass
    assign:
      x: '1'
    next: End
  Orphan:
    type: pass
    assign:
      y: '2'
    next: End
  End:
    type: succeed
`
	def, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"Orphan"}, def.Unreachable())
}

func TestUnreachableNoneFromChoice(t *testing.T) {
	def, err := Parse([]byte(validDoc))
	require.NoError(t, err)
	assert.Empty(t, def.Unreachable())
}
