// Package submitter executes allocation plans against the ledger: signing
// each operation with the authority key, submitting it under a fresh
// sequence token, confirming it landed, and retrying transient failures with
// bounded backoff. Operations for distinct validators run in parallel;
// operations for the same validator run in order, and the first failure in a
// validator's group skips its dependents.
package submitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/ballast/pkg/allocator"
	"github.com/Layr-Labs/ballast/pkg/clients/ledger"
	"github.com/Layr-Labs/ballast/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInsufficientFunds is returned before any submission when the authority
// cannot cover the plan's fees.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Authority signs operation envelopes.
type Authority interface {
	// Identity is the authority's public identity
	Identity() types.Identity
	// SignMessage signs the given message bytes
	SignMessage(data []byte) ([]byte, error)
}

// OperationSender is the slice of the ledger client the submitter uses.
type OperationSender interface {
	GetBalance(ctx context.Context, id types.Identity) (uint64, error)
	GetLatestSequenceToken(ctx context.Context) (ledger.SequenceToken, error)
	SubmitOperation(ctx context.Context, envelope *ledger.OperationEnvelope) (string, error)
	GetOperationStatuses(ctx context.Context, signatures []string) ([]ledger.OperationStatus, error)
}

// Config holds the submission pipeline parameters.
type Config struct {
	// DryRun logs intended effects without contacting the ledger
	DryRun bool
	// MaxAttempts bounds submission attempts per operation
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt; it doubles per
	// attempt up to MaxBackoff
	InitialBackoff time.Duration
	// MaxBackoff caps the per-attempt delay
	MaxBackoff time.Duration
	// Parallelism bounds how many validators' groups submit concurrently
	Parallelism int
	// ConfirmPollInterval is how often a submitted operation's status is
	// polled
	ConfirmPollInterval time.Duration
	// ConfirmTimeout bounds how long one attempt waits for confirmation
	// before resubmitting under a fresh token
	ConfirmTimeout time.Duration
	// FeePerOperation is the fee charged per submitted operation, used for
	// the pre-submission funds check
	FeePerOperation uint64
}

// DefaultConfig returns the default submission parameters.
func DefaultConfig() *Config {
	return &Config{
		DryRun:              true,
		MaxAttempts:         5,
		InitialBackoff:      500 * time.Millisecond,
		MaxBackoff:          8 * time.Second,
		Parallelism:         4,
		ConfirmPollInterval: 500 * time.Millisecond,
		ConfirmTimeout:      30 * time.Second,
		FeePerOperation:     5000,
	}
}

// Outcome is the terminal result of one operation.
type Outcome struct {
	// Operation is the submitted operation
	Operation allocator.Operation
	// Signature identifies the confirmed submission, empty when dry-run or
	// never accepted
	Signature string
	// Confirmed is true once the ledger confirmed the operation
	Confirmed bool
	// Err describes the terminal failure, empty on success
	Err string
}

// Result aggregates a whole plan's submission.
type Result struct {
	// OK is true iff every operation confirmed (vacuously true for dry
	// runs and empty plans)
	OK bool
	// Outcomes holds one entry per planned operation
	Outcomes []Outcome
	// Notices are operator-facing failure notifications; successes are
	// silent
	Notices []string
}

// Submitter executes plans.
type Submitter struct {
	logger *zap.Logger
	config *Config
	sender OperationSender
}

func NewSubmitter(cfg *Config, sender OperationSender, logger *zap.Logger) (*Submitter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("cfg.MaxAttempts must be positive")
	}
	if cfg.Parallelism <= 0 {
		return nil, fmt.Errorf("cfg.Parallelism must be positive")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Submitter{
		logger: logger,
		config: cfg,
		sender: sender,
	}, nil
}

// operationPayload is the wire form of one operation inside an envelope.
type operationPayload struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Validator   string `json:"validator"`
	Account     string `json:"account"`
	VoteAccount string `json:"voteAccount,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
	Memo        string `json:"memo,omitempty"`
}

// Submit executes the plan and reports per-operation outcomes. Submission
// errors are captured in the result; the returned error is reserved for
// fatal preconditions (insufficient authority funds) and context
// cancellation.
func (s *Submitter) Submit(ctx context.Context, plan *allocator.Plan, authority Authority) (*Result, error) {
	if plan.Empty() {
		return &Result{OK: true}, nil
	}
	if authority == nil {
		return nil, fmt.Errorf("authority cannot be nil")
	}

	if s.config.DryRun {
		return s.dryRun(plan), nil
	}

	required := s.config.FeePerOperation * uint64(len(plan.Operations))
	balance, err := s.sender.GetBalance(ctx, authority.Identity())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch authority balance: %w", err)
	}
	if balance < required {
		return nil, fmt.Errorf("%w: authority %s needs %s for fees, has %s",
			ErrInsufficientFunds, authority.Identity(), types.FormatTokens(required), types.FormatTokens(balance))
	}

	var mu sync.Mutex
	var outcomes []Outcome
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)
	for _, group := range plan.ByValidator() {
		g.Go(func() error {
			groupOutcomes := s.submitGroup(gctx, group, authority)
			mu.Lock()
			outcomes = append(outcomes, groupOutcomes...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{OK: true, Outcomes: outcomes}
	for _, outcome := range outcomes {
		if outcome.Confirmed {
			continue
		}
		result.OK = false
		result.Notices = append(result.Notices, fmt.Sprintf("%s operation for %s failed: %s",
			outcome.Operation.Kind, outcome.Operation.Validator, outcome.Err))
	}
	return result, nil
}

func (s *Submitter) dryRun(plan *allocator.Plan) *Result {
	result := &Result{OK: true}
	for _, op := range plan.Operations {
		s.logger.Sugar().Infow("dry run, operation not submitted",
			"kind", string(op.Kind),
			"validator", op.Validator.String(),
			"account", op.Account.String(),
			"amount", types.FormatTokens(op.Amount),
			"memo", op.Memo,
		)
		result.Outcomes = append(result.Outcomes, Outcome{Operation: op})
	}
	return result
}

// submitGroup runs one validator's operations in order. The first terminal
// failure skips the remaining operations of the group.
func (s *Submitter) submitGroup(ctx context.Context, group []allocator.Operation, authority Authority) []Outcome {
	outcomes := make([]Outcome, 0, len(group))
	failed := false
	for _, op := range group {
		if failed {
			outcomes = append(outcomes, Outcome{
				Operation: op,
				Err:       "skipped: earlier operation for this validator failed",
			})
			continue
		}
		outcome := s.submitOperation(ctx, op, authority)
		if !outcome.Confirmed {
			failed = true
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (s *Submitter) submitOperation(ctx context.Context, op allocator.Operation, authority Authority) Outcome {
	voteAccount := ""
	if !op.VoteAccount.IsZero() {
		voteAccount = op.VoteAccount.String()
	}
	payload, err := json.Marshal(operationPayload{
		ID:          op.ID.String(),
		Kind:        string(op.Kind),
		Validator:   op.Validator.String(),
		Account:     op.Account.String(),
		VoteAccount: voteAccount,
		Amount:      op.Amount,
		Memo:        op.Memo,
	})
	if err != nil {
		return Outcome{Operation: op, Err: fmt.Sprintf("failed to encode operation: %v", err)}
	}

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.backoff(ctx, attempt); err != nil {
				return Outcome{Operation: op, Err: err.Error()}
			}
		}

		signature, err := s.attempt(ctx, payload, authority)
		if err == nil {
			s.logger.Sugar().Infow("operation confirmed",
				"kind", string(op.Kind),
				"validator", op.Validator.String(),
				"signature", signature,
				"attempt", attempt,
			)
			return Outcome{Operation: op, Signature: signature, Confirmed: true}
		}
		lastErr = err
		if !transient(err) {
			return Outcome{Operation: op, Err: err.Error()}
		}
		s.logger.Sugar().Warnw("transient submission failure, retrying",
			"kind", string(op.Kind),
			"validator", op.Validator.String(),
			"attempt", attempt,
			"error", err.Error(),
		)
	}
	return Outcome{
		Operation: op,
		Err:       fmt.Sprintf("gave up after %d attempts: %v", s.config.MaxAttempts, lastErr),
	}
}

// attempt performs one signed submission under a fresh sequence token and
// waits for confirmation.
func (s *Submitter) attempt(ctx context.Context, payload []byte, authority Authority) (string, error) {
	token, err := s.sender.GetLatestSequenceToken(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch sequence token: %w", err)
	}
	message := append([]byte(token), payload...)
	signed, err := authority.SignMessage(message)
	if err != nil {
		return "", terminalError{fmt.Errorf("failed to sign operation: %w", err)}
	}

	signature, err := s.sender.SubmitOperation(ctx, &ledger.OperationEnvelope{
		Authority:     authority.Identity(),
		SequenceToken: token,
		Payload:       payload,
		Signature:     signed,
	})
	if err != nil {
		return "", err
	}
	if err := s.awaitConfirmation(ctx, signature); err != nil {
		return "", err
	}
	return signature, nil
}

func (s *Submitter) awaitConfirmation(ctx context.Context, signature string) error {
	deadline := time.Now().Add(s.config.ConfirmTimeout)
	for {
		statuses, err := s.sender.GetOperationStatuses(ctx, []string{signature})
		if err == nil {
			for _, status := range statuses {
				if status.Signature != signature {
					continue
				}
				if status.Err != "" {
					return terminalError{fmt.Errorf("operation rejected: %s", status.Err)}
				}
				if status.Confirmed {
					return nil
				}
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("operation %s not confirmed within %s", signature, s.config.ConfirmTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.ConfirmPollInterval):
		}
	}
}

func (s *Submitter) backoff(ctx context.Context, attempt int) error {
	delay := s.config.InitialBackoff
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= s.config.MaxBackoff {
			delay = s.config.MaxBackoff
			break
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// terminalError marks failures that must not be retried.
type terminalError struct {
	err error
}

func (t terminalError) Error() string {
	return t.err.Error()
}

func (t terminalError) Unwrap() error {
	return t.err
}

// transient reports whether a submission error is worth another attempt.
// Definitive ledger rejections are terminal; transport failures, node-behind
// and token-expiry conditions clear on retry.
func transient(err error) bool {
	var terminal terminalError
	if errors.As(err, &terminal) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ledgerErr *ledger.LedgerError
	if errors.As(err, &ledgerErr) {
		return ledgerErr.Transient() || ledgerErr.Code >= 500
	}
	return true
}
