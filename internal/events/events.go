// Package events decodes raw EVM logs into the deposit events the ledger
// applies (spec §4.C). Decoding is deliberately narrow: only the two
// supported signatures are recognised, and anything else is a tagged
// decode error for the caller to log and drop.
package events

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chain-fusion/harmonize/internal/rpcmulti"
	"github.com/chain-fusion/harmonize/internal/types"
)

// Kind tags which deposit variant an Event carries.
type Kind int

const (
	DepositNative Kind = iota
	DepositErc20
)

// Event is the decoded form of a deposit log.
type Event struct {
	Kind     Kind
	Sender   common.Address
	User     types.UserID
	Token    types.TokenAddress // zero value for DepositNative
	Amount   types.Amount
}

var (
	topicDepositNative = crypto.Keccak256Hash([]byte("DepositNative(address,bytes32,uint256)"))
	topicDepositErc20  = crypto.Keccak256Hash([]byte("DepositErc20(address,bytes32,address,uint256)"))
)

// userIDPrefixLen is the width of the authority-tag prefix the on-chain
// contract packs into the leading bytes of the bytes32 user topic; the
// trailing bytes are the UserId payload (spec §4.C, §9).
const userIDPrefixLen = 3

// ErrUnknownSignature is returned when a log's topic0 matches neither
// supported event.
type ErrUnknownSignature struct {
	Topic common.Hash
}

func (e *ErrUnknownSignature) Error() string {
	return fmt.Sprintf("events: unrecognised signature topic %s", e.Topic.Hex())
}

// ErrMalformedLog is returned when a log matches a known signature but
// has the wrong topic/data shape.
type ErrMalformedLog struct {
	Reason string
}

func (e *ErrMalformedLog) Error() string {
	return fmt.Sprintf("events: malformed log: %s", e.Reason)
}

// Decode parses entry into a typed Event. Errors are always one of
// *ErrUnknownSignature or *ErrMalformedLog, both of which are treated by
// the caller (the scraper/engine) as: log and drop, cursor still
// advances (spec §7 "Event decode error").
func Decode(entry rpcmulti.LogEntry) (Event, error) {
	if len(entry.Topics) == 0 {
		return Event{}, &ErrMalformedLog{Reason: "no topics"}
	}

	switch entry.Topics[0] {
	case topicDepositNative:
		return decodeDepositNative(entry)
	case topicDepositErc20:
		return decodeDepositErc20(entry)
	default:
		return Event{}, &ErrUnknownSignature{Topic: entry.Topics[0]}
	}
}

func decodeDepositNative(entry rpcmulti.LogEntry) (Event, error) {
	if len(entry.Topics) != 3 {
		return Event{}, &ErrMalformedLog{Reason: "DepositNative requires 3 topics (sig, sender, user)"}
	}
	sender, err := addressFromTopic(entry.Topics[1])
	if err != nil {
		return Event{}, err
	}
	user, err := userIDFromTopic(entry.Topics[2])
	if err != nil {
		return Event{}, err
	}
	amount, err := amountFromData(entry.Data)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: DepositNative, Sender: sender, User: user, Amount: amount}, nil
}

func decodeDepositErc20(entry rpcmulti.LogEntry) (Event, error) {
	if len(entry.Topics) != 4 {
		return Event{}, &ErrMalformedLog{Reason: "DepositErc20 requires 4 topics (sig, sender, user, token)"}
	}
	sender, err := addressFromTopic(entry.Topics[1])
	if err != nil {
		return Event{}, err
	}
	user, err := userIDFromTopic(entry.Topics[2])
	if err != nil {
		return Event{}, err
	}
	token, err := addressFromTopic(entry.Topics[3])
	if err != nil {
		return Event{}, err
	}
	amount, err := amountFromData(entry.Data)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: DepositErc20, Sender: sender, User: user, Token: token, Amount: amount}, nil
}

func addressFromTopic(topic common.Hash) (common.Address, error) {
	for _, b := range topic[:12] {
		if b != 0 {
			return common.Address{}, &ErrMalformedLog{Reason: "address topic has non-zero left padding"}
		}
	}
	return common.BytesToAddress(topic[12:]), nil
}

// userIDFromTopic extracts the UserId payload from a bytes32 topic,
// dropping the leading authority-tag prefix per spec §4.C / §9.
func userIDFromTopic(topic common.Hash) (types.UserID, error) {
	payload := topic[userIDPrefixLen:]
	return types.UserID(common.Bytes2Hex(payload)), nil
}

func amountFromData(data []byte) (types.Amount, error) {
	if len(data) != 32 {
		return types.Amount{}, &ErrMalformedLog{Reason: fmt.Sprintf("amount data must be 32 bytes, got %d", len(data))}
	}
	return types.AmountFromBigEndian(data), nil
}
