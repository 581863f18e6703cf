package event

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Position is the ledger order of an event: block height, then log index.
type Position struct {
	Block    uint64
	LogIndex uint64
}

func (p Position) Compare(o Position) int {
	switch {
	case p.Block < o.Block:
		return -1
	case p.Block > o.Block:
		return 1
	case p.LogIndex < o.LogIndex:
		return -1
	case p.LogIndex > o.LogIndex:
		return 1
	default:
		return 0
	}
}

func (p Position) Less(o Position) bool {
	return p.Compare(o) < 0
}

func (p Position) IsZero() bool {
	return p.Block == 0 && p.LogIndex == 0
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Block, p.LogIndex)
}

// Key uniquely identifies an event in the log.
type Key struct {
	TxHash   common.Hash
	LogIndex uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.TxHash.Hex(), k.LogIndex)
}

// Input is one named argument of an emitted event. Value keeps the raw JSON
// so numbers encoded as strings and arrays survive untouched until decoding.
type Input struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// Event is an immutable record fetched from the ledger gateway.
type Event struct {
	TxHash          common.Hash
	From            common.Address
	LogIndex        uint64
	BlockNumber     uint64
	TriggeredAt     time.Time
	ContractAddress common.Address
	Name            string
	Inputs          []Input
}

func (e Event) Key() Key {
	return Key{TxHash: e.TxHash, LogIndex: e.LogIndex}
}

func (e Event) Position() Position {
	return Position{Block: e.BlockNumber, LogIndex: e.LogIndex}
}

func (e Event) input(name string) (json.RawMessage, bool) {
	for _, in := range e.Inputs {
		if in.Name == name {
			return in.Value, true
		}
	}
	return nil, false
}

// WithInput returns a copy of the event with the named input set, replacing
// an existing input of the same name.
func (e Event) WithInput(name string, value json.RawMessage) Event {
	inputs := make([]Input, 0, len(e.Inputs)+1)
	replaced := false
	for _, in := range e.Inputs {
		if in.Name == name {
			inputs = append(inputs, Input{Name: name, Value: value})
			replaced = true
			continue
		}
		inputs = append(inputs, in)
	}
	if !replaced {
		inputs = append(inputs, Input{Name: name, Value: value})
	}
	e.Inputs = inputs
	return e
}

// Fingerprint hashes the fields that must never change for a given Key.
// Inputs attached by enrichment are left out, since they are read from
// contract state rather than from the log itself.
func (e Event) Fingerprint() string {
	inputs := make([]string, 0, len(e.Inputs))
	for _, in := range e.Inputs {
		if e.Name == NameTransfer && (in.Name == InputMerchantTypeID || in.Name == InputExpirationTime) {
			continue
		}
		inputs = append(inputs, fmt.Sprintf("%s=%s", in.Name, compact(in.Value)))
	}
	sort.Strings(inputs)

	parts := []string{
		e.TxHash.Hex(),
		fmt.Sprintf("%d", e.LogIndex),
		fmt.Sprintf("%d", e.BlockNumber),
		strings.ToLower(e.ContractAddress.Hex()),
		e.Name,
		strings.Join(inputs, ","),
	}
	return hex.EncodeToString(crypto.Keccak256([]byte(strings.Join(parts, "|"))))
}

// Category groups events for display.
func (e Event) Category() string {
	switch e.Name {
	case NameTransfer, NameCertificationRevoked:
		return "certification"
	case NameVoucherTypeDefined, NameVoucherMinted, NameVoucherUsed, NameClaimPoolOpened, NameVoucherClaimed:
		return "voucher"
	default:
		return "other"
	}
}

func compact(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(b)
}

// SortByPosition orders events in ascending ledger order.
func SortByPosition(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Position().Less(events[j].Position())
	})
}

// SortByTriggeredAtDesc orders events newest first. Display only.
func SortByTriggeredAtDesc(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TriggeredAt.After(events[j].TriggeredAt)
	})
}
