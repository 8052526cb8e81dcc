// Package registry reads the on-chain participant registry: the mapping from
// registration record to participant state and validator identities. The
// balancer only consumes it; applying, approving or rejecting registrations
// is handled by separate tooling.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/Layr-Labs/ballast/pkg/clients/ledger"
	"github.com/Layr-Labs/ballast/pkg/config"
	"github.com/Layr-Labs/ballast/pkg/types"
	"go.uber.org/zap"
)

// ParticipantState is the lifecycle state of a registration record.
type ParticipantState string

const (
	StatePending  ParticipantState = "pending"
	StateApproved ParticipantState = "approved"
	StateRejected ParticipantState = "rejected"
)

// Participant is one registered fleet participant.
type Participant struct {
	// Address is the registration record's account address
	Address types.Identity
	// State is the record's lifecycle state
	State ParticipantState
	// MainnetIdentity is the participant's mainnet validator identity
	MainnetIdentity types.Identity
	// TestnetIdentity is the participant's testnet validator identity
	TestnetIdentity types.Identity
}

// Identity returns the participant's validator identity for the given
// cluster.
func (p Participant) Identity(cluster config.Cluster) types.Identity {
	if cluster == config.Cluster_Mainnet {
		return p.MainnetIdentity
	}
	return p.TestnetIdentity
}

// RecordSource is the slice of the ledger client the registry needs.
type RecordSource interface {
	GetRegistryRecords(ctx context.Context, program types.Identity) ([]ledger.RegistryRecord, error)
}

// Client reads participant records for one registry program.
type Client struct {
	logger  *zap.Logger
	source  RecordSource
	program types.Identity
}

func NewClient(source RecordSource, program types.Identity, logger *zap.Logger) (*Client, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if program.IsZero() {
		return nil, fmt.Errorf("program cannot be zero")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Client{
		logger:  logger,
		source:  source,
		program: program,
	}, nil
}

// Participants returns every registration record of the program.
func (c *Client) Participants(ctx context.Context) ([]Participant, error) {
	records, err := c.source.GetRegistryRecords(ctx, c.program)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch registry records: %w", err)
	}
	participants := make([]Participant, 0, len(records))
	for _, record := range records {
		participants = append(participants, Participant{
			Address:         record.Address,
			State:           ParticipantState(strings.ToLower(record.State)),
			MainnetIdentity: record.MainnetIdentity,
			TestnetIdentity: record.TestnetIdentity,
		})
	}
	c.logger.Sugar().Debugw("fetched registry participants", "count", len(participants))
	return participants, nil
}

// ParticipantsWithState returns the registration records in the given state.
func (c *Client) ParticipantsWithState(ctx context.Context, state ParticipantState) ([]Participant, error) {
	participants, err := c.Participants(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]Participant, 0, len(participants))
	for _, participant := range participants {
		if participant.State == state {
			filtered = append(filtered, participant)
		}
	}
	return filtered, nil
}

// ApprovedIdentities returns the validator identities of every approved
// participant on the given cluster. Records without an identity for that
// cluster are skipped.
func (c *Client) ApprovedIdentities(ctx context.Context, cluster config.Cluster) (map[types.Identity]bool, error) {
	approved, err := c.ParticipantsWithState(ctx, StateApproved)
	if err != nil {
		return nil, err
	}
	identities := make(map[types.Identity]bool, len(approved))
	for _, participant := range approved {
		identity := participant.Identity(cluster)
		if identity.IsZero() {
			continue
		}
		identities[identity] = true
	}
	return identities, nil
}
