// Package classify assigns a TransactionKind to raw transactions and
// derives the amounts and value estimate used for notifications.
package classify

import (
	"strings"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

// Classify returns the kind of tx. It is deterministic and makes no
// network calls. Without a receipt (pending) the result comes from the
// call data alone and may change once the transaction is confirmed.
func Classify(tx domain.RawTransaction) domain.TransactionKind {
	if tx.Receipt != nil && hasMintLog(tx.Receipt.Logs) {
		return domain.KindMint
	}
	if tx.To != "" && domain.IsZeroAddress(tx.To) {
		return domain.KindBurn
	}
	if isEmptyInput(tx.Input) {
		return domain.KindTransfer
	}
	if kind, ok := selectorKinds[Selector(tx.Input)]; ok {
		return kind
	}
	return domain.KindContractInteraction
}

func isEmptyInput(input string) bool {
	input = strings.TrimSpace(input)
	return input == "" || input == "0x" || input == "0X"
}

func hasMintLog(logs []domain.Log) bool {
	for _, l := range logs {
		if len(l.Topics) == 0 {
			continue
		}
		topic := strings.ToLower(l.Topics[0])
		if _, ok := mintTopics[topic]; ok {
			return true
		}
		if from, ok := transferFrom(l); ok && domain.IsZeroAddress(from) {
			return true
		}
	}
	return false
}

// transferFrom returns the sender of a Transfer or TransferSingle log.
func transferFrom(l domain.Log) (string, bool) {
	if len(l.Topics) == 0 {
		return "", false
	}
	switch strings.ToLower(l.Topics[0]) {
	case domain.TransferTopic:
		if len(l.Topics) < 3 {
			return "", false
		}
		return domain.TopicAddress(l.Topics[1]), true
	case TransferSingleTopic:
		if len(l.Topics) < 4 {
			return "", false
		}
		return domain.TopicAddress(l.Topics[2]), true
	}
	return "", false
}

// transferTo returns the recipient of a Transfer or TransferSingle log.
func transferTo(l domain.Log) (string, bool) {
	if len(l.Topics) == 0 {
		return "", false
	}
	switch strings.ToLower(l.Topics[0]) {
	case domain.TransferTopic:
		if len(l.Topics) < 3 {
			return "", false
		}
		return domain.TopicAddress(l.Topics[2]), true
	case TransferSingleTopic:
		if len(l.Topics) < 4 {
			return "", false
		}
		return domain.TopicAddress(l.Topics[3]), true
	}
	return "", false
}
