package ledger

import (
	"fmt"

	"github.com/Layr-Labs/ballast/pkg/types"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	// Jsonrpc specifies the JSON-RPC version (always "2.0")
	Jsonrpc string `json:"jsonrpc"`
	// Method is the JSON-RPC method name
	Method string `json:"method"`
	// Params contains the method parameters
	Params interface{} `json:"params,omitempty"`
	// ID is a unique identifier for the request
	ID int64 `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	// Jsonrpc specifies the JSON-RPC version (always "2.0")
	Jsonrpc string `json:"jsonrpc"`
	// Result contains the method result (present on success)
	Result interface{} `json:"result,omitempty"`
	// Error contains error information (present on error)
	Error *JSONRPCError `json:"error,omitempty"`
	// ID is the request identifier
	ID int64 `json:"id"`
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	// Code is the error code
	Code int `json:"code"`
	// Message is the error message
	Message string `json:"message"`
	// Data contains additional error data
	Data interface{} `json:"data,omitempty"`
}

// Well-known ledger RPC error codes surfaced by nodes. The submission
// pipeline treats these as transient.
const (
	CodeSequenceTokenExpired = -32002
	CodeBlockNotAvailable    = -32004
	CodeNodeBehind           = -32005
)

// LedgerError represents an error response from the ledger RPC service.
type LedgerError struct {
	// Code is the JSON-RPC error code, or the HTTP status for transport errors
	Code int `json:"code"`
	// Message is the error message describing what went wrong
	Message string `json:"message"`
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger error %d: %s", e.Code, e.Message)
}

// Transient reports whether the error is expected to clear on retry.
func (e *LedgerError) Transient() bool {
	switch e.Code {
	case CodeSequenceTokenExpired, CodeBlockNotAvailable, CodeNodeBehind:
		return true
	}
	return false
}

// EpochInfo describes where the ledger currently is in epoch time.
type EpochInfo struct {
	// Epoch is the current epoch number
	Epoch types.Epoch `json:"epoch"`
	// SlotIndex is the slot offset within the current epoch
	SlotIndex uint64 `json:"slotIndex"`
	// SlotsInEpoch is the length of the current epoch in slots
	SlotsInEpoch uint64 `json:"slotsInEpoch"`
	// AbsoluteSlot is the current absolute slot
	AbsoluteSlot types.Slot `json:"absoluteSlot"`
}

// EpochSchedule maps epoch numbers to absolute slot ranges.
type EpochSchedule struct {
	SlotsPerEpoch    uint64      `json:"slotsPerEpoch"`
	FirstNormalEpoch types.Epoch `json:"firstNormalEpoch"`
	FirstNormalSlot  types.Slot  `json:"firstNormalSlot"`
}

// FirstSlotInEpoch returns the absolute slot an epoch starts at. Epochs
// before the first normal epoch are not supported by this tool; callers
// always ask about recent epochs.
func (s *EpochSchedule) FirstSlotInEpoch(epoch types.Epoch) types.Slot {
	if epoch < s.FirstNormalEpoch {
		return 0
	}
	return s.FirstNormalSlot + types.Slot(uint64(epoch-s.FirstNormalEpoch)*s.SlotsPerEpoch)
}

// LastSlotInEpoch returns the absolute slot an epoch ends at, inclusive.
func (s *EpochSchedule) LastSlotInEpoch(epoch types.Epoch) types.Slot {
	return s.FirstSlotInEpoch(epoch+1) - 1
}

// VoteAccountEntry is one vote account as reported by getVoteAccounts.
type VoteAccountEntry struct {
	// VotePubkey is the vote account address
	VotePubkey types.Identity `json:"votePubkey"`
	// NodePubkey is the validator identity the vote account belongs to
	NodePubkey types.Identity `json:"nodePubkey"`
	// Commission is the percentage cut the validator takes from rewards
	Commission uint8 `json:"commission"`
	// LastVote is the most recent slot the account voted on
	LastVote types.Slot `json:"lastVote"`
	// RootSlot is the account's current root
	RootSlot types.Slot `json:"rootSlot"`
	// ActivatedStake is the stake delegated to this account, in base units
	ActivatedStake uint64 `json:"activatedStake"`
}

// VoteAccounts is the full getVoteAccounts response, split into accounts the
// node considers live and delinquent.
type VoteAccounts struct {
	Current    []VoteAccountEntry `json:"current"`
	Delinquent []VoteAccountEntry `json:"delinquent"`
}

// ClusterNode is one gossip entry as reported by getClusterNodes.
type ClusterNode struct {
	// Pubkey is the node identity
	Pubkey types.Identity `json:"pubkey"`
	// Version is the software version the node gossips, empty when unknown
	Version string `json:"version"`
	// Gossip is the node's gossip address
	Gossip string `json:"gossip,omitempty"`
}

// Delegation describes where a stake account currently points.
type Delegation struct {
	// VoteAccount is the delegation target
	VoteAccount types.Identity `json:"voteAccount"`
	// Amount is the delegated amount in base units
	Amount uint64 `json:"amount"`
	// Deactivating is true while the delegation is cooling down
	Deactivating bool `json:"deactivating"`
}

// StakeAccountInfo is the state of one stake account.
type StakeAccountInfo struct {
	// Address is the stake account address
	Address types.Identity `json:"address"`
	// Balance is the account balance in base units
	Balance uint64 `json:"balance"`
	// Delegation is nil while the account is undelegated
	Delegation *Delegation `json:"delegation,omitempty"`
}

// PoolValidatorEntry is one validator's slice of a pool account.
type PoolValidatorEntry struct {
	Identity     types.Identity `json:"identity"`
	VoteAccount  types.Identity `json:"voteAccount"`
	ActiveAmount uint64         `json:"activeAmount"`
}

// PoolInfo is the state of a shared pool account: its undelegated reserve
// plus the per-validator slices it manages.
type PoolInfo struct {
	Address        types.Identity       `json:"address"`
	ReserveBalance uint64               `json:"reserveBalance"`
	Validators     []PoolValidatorEntry `json:"validators"`
}

// SequenceToken anchors a submitted operation to a recent ledger state. A
// token expires after a bounded number of slots; expired submissions must be
// re-signed with a fresh token.
type SequenceToken string

// OperationEnvelope is the signed wire form of one submitted operation.
type OperationEnvelope struct {
	// Authority is the signing authority's identity
	Authority types.Identity `json:"authority"`
	// SequenceToken is the recent-state token the envelope was signed over
	SequenceToken SequenceToken `json:"sequenceToken"`
	// Payload is the serialized operation
	Payload []byte `json:"payload"`
	// Signature is the authority's signature over sequenceToken || payload
	Signature []byte `json:"signature"`
}

// OperationStatus is the confirmation state of one submitted operation.
type OperationStatus struct {
	// Signature identifies the submitted operation
	Signature string `json:"signature"`
	// Confirmed is true once the operation landed in a confirmed block
	Confirmed bool `json:"confirmed"`
	// Err is non-empty when the ledger rejected the operation
	Err string `json:"err,omitempty"`
}

// RegistryRecord is one on-chain participant registration record.
type RegistryRecord struct {
	// Address is the record's account address
	Address types.Identity `json:"address"`
	// State is one of "pending", "approved" or "rejected"
	State string `json:"state"`
	// MainnetIdentity is the participant's mainnet validator identity
	MainnetIdentity types.Identity `json:"mainnetIdentity"`
	// TestnetIdentity is the participant's testnet validator identity
	TestnetIdentity types.Identity `json:"testnetIdentity"`
}
