package submitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/ballast/pkg/allocator"
	"github.com/Layr-Labs/ballast/pkg/clients/ledger"
	"github.com/Layr-Labs/ballast/pkg/logger"
	"github.com/Layr-Labs/ballast/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity(n byte) types.Identity {
	var id types.Identity
	for i := range id {
		id[i] = n
	}
	return id
}

type fakeAuthority struct{}

func (fakeAuthority) Identity() types.Identity {
	return testIdentity(250)
}

func (fakeAuthority) SignMessage(data []byte) ([]byte, error) {
	return []byte("signature"), nil
}

type fakeSender struct {
	mu           sync.Mutex
	balance      uint64
	tokens       int
	submits      []*ledger.OperationEnvelope
	balanceCalls int
	// submitHook can fail a submission; call is 1-based in submission order
	submitHook func(call int, env *ledger.OperationEnvelope) error
	// statusHook overrides the default immediately-confirmed status
	statusHook func(signature string) ledger.OperationStatus
}

func (f *fakeSender) GetBalance(_ context.Context, id types.Identity) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	return f.balance, nil
}

func (f *fakeSender) GetLatestSequenceToken(_ context.Context) (ledger.SequenceToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens++
	return ledger.SequenceToken(fmt.Sprintf("token-%d", f.tokens)), nil
}

func (f *fakeSender) SubmitOperation(_ context.Context, envelope *ledger.OperationEnvelope) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, envelope)
	call := len(f.submits)
	if f.submitHook != nil {
		if err := f.submitHook(call, envelope); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("sig-%d", call), nil
}

func (f *fakeSender) GetOperationStatuses(_ context.Context, signatures []string) ([]ledger.OperationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	statuses := make([]ledger.OperationStatus, 0, len(signatures))
	for _, signature := range signatures {
		if f.statusHook != nil {
			statuses = append(statuses, f.statusHook(signature))
			continue
		}
		statuses = append(statuses, ledger.OperationStatus{Signature: signature, Confirmed: true})
	}
	return statuses, nil
}

func testConfig() *Config {
	return &Config{
		DryRun:              false,
		MaxAttempts:         3,
		InitialBackoff:      time.Millisecond,
		MaxBackoff:          2 * time.Millisecond,
		Parallelism:         4,
		ConfirmPollInterval: time.Millisecond,
		ConfirmTimeout:      50 * time.Millisecond,
		FeePerOperation:     10,
	}
}

func newTestSubmitter(t *testing.T, cfg *Config, sender OperationSender) *Submitter {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)
	s, err := NewSubmitter(cfg, sender, l)
	require.NoError(t, err)
	return s
}

func operation(n byte, kind allocator.OperationKind) allocator.Operation {
	return allocator.Operation{
		ID:          uuid.New(),
		Kind:        kind,
		Validator:   testIdentity(n),
		Account:     testIdentity(n + 50),
		VoteAccount: testIdentity(n + 100),
		Amount:      100,
		Memo:        fmt.Sprintf("test memo for %d", n),
	}
}

func TestSubmitter_EmptyPlan(t *testing.T) {
	sender := &fakeSender{}
	s := newTestSubmitter(t, testConfig(), sender)

	result, err := s.Submit(context.Background(), &allocator.Plan{}, fakeAuthority{})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Empty(t, result.Outcomes)
	assert.Zero(t, sender.balanceCalls)
}

func TestSubmitter_DryRunNeverContactsLedger(t *testing.T) {
	sender := &fakeSender{}
	cfg := testConfig()
	cfg.DryRun = true
	s := newTestSubmitter(t, cfg, sender)

	plan := &allocator.Plan{Operations: []allocator.Operation{
		operation(1, allocator.OperationDelegate),
		operation(2, allocator.OperationDeactivate),
	}}
	result, err := s.Submit(context.Background(), plan, fakeAuthority{})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Len(t, result.Outcomes, 2)
	assert.Empty(t, result.Notices)

	assert.Zero(t, sender.balanceCalls)
	assert.Zero(t, sender.tokens)
	assert.Empty(t, sender.submits)
}

func TestSubmitter_SubmitsAndConfirms(t *testing.T) {
	sender := &fakeSender{balance: 1000}
	s := newTestSubmitter(t, testConfig(), sender)

	op := operation(1, allocator.OperationDelegate)
	plan := &allocator.Plan{Operations: []allocator.Operation{op, operation(2, allocator.OperationIncreaseStake)}}
	result, err := s.Submit(context.Background(), plan, fakeAuthority{})
	require.NoError(t, err)
	assert.True(t, result.OK)
	require.Len(t, result.Outcomes, 2)
	for _, outcome := range result.Outcomes {
		assert.True(t, outcome.Confirmed)
		assert.NotEmpty(t, outcome.Signature)
		assert.Empty(t, outcome.Err)
	}

	require.Len(t, sender.submits, 2)
	envelope := sender.submits[0]
	assert.Equal(t, testIdentity(250), envelope.Authority)
	assert.NotEmpty(t, envelope.SequenceToken)
	assert.Equal(t, []byte("signature"), envelope.Signature)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	assert.NotEmpty(t, payload["id"])
	assert.NotEmpty(t, payload["kind"])
	assert.NotEmpty(t, payload["validator"])
}

func TestSubmitter_InsufficientFunds(t *testing.T) {
	sender := &fakeSender{balance: 19}
	s := newTestSubmitter(t, testConfig(), sender)

	plan := &allocator.Plan{Operations: []allocator.Operation{
		operation(1, allocator.OperationDelegate),
		operation(2, allocator.OperationDelegate),
	}}
	_, err := s.Submit(context.Background(), plan, fakeAuthority{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, sender.submits)
}

func TestSubmitter_RetriesTransientFailures(t *testing.T) {
	sender := &fakeSender{balance: 1000}
	sender.submitHook = func(call int, _ *ledger.OperationEnvelope) error {
		if call <= 2 {
			return &ledger.LedgerError{Code: ledger.CodeNodeBehind, Message: "node is behind"}
		}
		return nil
	}
	s := newTestSubmitter(t, testConfig(), sender)

	plan := &allocator.Plan{Operations: []allocator.Operation{operation(1, allocator.OperationDelegate)}}
	result, err := s.Submit(context.Background(), plan, fakeAuthority{})
	require.NoError(t, err)
	assert.True(t, result.OK)
	require.Len(t, result.Outcomes, 1)
	assert.True(t, result.Outcomes[0].Confirmed)

	// Each attempt fetched a fresh sequence token.
	assert.Len(t, sender.submits, 3)
	assert.Equal(t, 3, sender.tokens)
	assert.NotEqual(t, sender.submits[0].SequenceToken, sender.submits[2].SequenceToken)
}

func TestSubmitter_GivesUpAfterMaxAttempts(t *testing.T) {
	sender := &fakeSender{balance: 1000}
	sender.submitHook = func(int, *ledger.OperationEnvelope) error {
		return &ledger.LedgerError{Code: ledger.CodeSequenceTokenExpired, Message: "token expired"}
	}
	s := newTestSubmitter(t, testConfig(), sender)

	plan := &allocator.Plan{Operations: []allocator.Operation{operation(1, allocator.OperationDelegate)}}
	result, err := s.Submit(context.Background(), plan, fakeAuthority{})
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.Len(t, result.Outcomes, 1)
	assert.False(t, result.Outcomes[0].Confirmed)
	assert.Contains(t, result.Outcomes[0].Err, "gave up after 3 attempts")
	require.Len(t, result.Notices, 1)
	assert.Contains(t, result.Notices[0], testIdentity(1).String())
	assert.Len(t, sender.submits, 3)
}

func TestSubmitter_RejectionIsTerminal(t *testing.T) {
	sender := &fakeSender{balance: 1000}
	sender.statusHook = func(signature string) ledger.OperationStatus {
		return ledger.OperationStatus{Signature: signature, Err: "insufficient delegation"}
	}
	s := newTestSubmitter(t, testConfig(), sender)

	plan := &allocator.Plan{Operations: []allocator.Operation{operation(1, allocator.OperationDelegate)}}
	result, err := s.Submit(context.Background(), plan, fakeAuthority{})
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.Len(t, result.Outcomes, 1)
	assert.Contains(t, result.Outcomes[0].Err, "operation rejected")
	// No retry after a definitive rejection.
	assert.Len(t, sender.submits, 1)
}

func TestSubmitter_FailureSkipsDependentsOnly(t *testing.T) {
	failing := operation(1, allocator.OperationCreateAccount)
	dependent := operation(1, allocator.OperationDelegate)
	independent := operation(2, allocator.OperationDelegate)

	sender := &fakeSender{balance: 1000}
	sender.submitHook = func(_ int, envelope *ledger.OperationEnvelope) error {
		var payload map[string]interface{}
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return err
		}
		if payload["kind"] == string(allocator.OperationCreateAccount) {
			return &ledger.LedgerError{Code: -32602, Message: "invalid account"}
		}
		return nil
	}
	s := newTestSubmitter(t, testConfig(), sender)

	plan := &allocator.Plan{Operations: []allocator.Operation{failing, dependent, independent}}
	result, err := s.Submit(context.Background(), plan, fakeAuthority{})
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.Len(t, result.Outcomes, 3)

	outcomes := map[uuid.UUID]Outcome{}
	for _, outcome := range result.Outcomes {
		outcomes[outcome.Operation.ID] = outcome
	}
	assert.False(t, outcomes[failing.ID].Confirmed)
	assert.Contains(t, outcomes[failing.ID].Err, "invalid account")
	assert.Contains(t, outcomes[dependent.ID].Err, "skipped")
	assert.True(t, outcomes[independent.ID].Confirmed)
	assert.Len(t, result.Notices, 2)
}
