package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func buildChain(n int) []*MomoTransactionEvent {
	events := make([]*MomoTransactionEvent, 0, n)
	prev := genesisHash
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		e := &MomoTransactionEvent{
			TransactionId: 11,
			Sequence:      i,
			EventType:     TransactionEventStatusChanged,
			Source:        EventSourceWebhook,
			Note:          fmt.Sprintf("step %d", i),
			ActorName:     "System",
			Timestamp:     base.Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano),
			PreviousHash:  prev,
		}
		e.Hash = e.computeHash()
		prev = e.Hash
		events = append(events, e)
	}
	return events
}

func TestVerifyEventChainIntact(t *testing.T) {
	assert.Equal(t, 0, VerifyEventChain(buildChain(5)))
	assert.Equal(t, 0, VerifyEventChain(nil))
}

func TestVerifyEventChainDetectsTampering(t *testing.T) {
	events := buildChain(4)
	events[2].Note = "edited"
	assert.Equal(t, 3, VerifyEventChain(events))

	events = buildChain(4)
	events = append(events[:1], events[2:]...)
	assert.Equal(t, 3, VerifyEventChain(events))

	events = buildChain(3)
	events[0].PreviousHash = events[1].Hash
	events[0].Hash = events[0].computeHash()
	assert.Equal(t, 1, VerifyEventChain(events))
}

func TestEventHashCoversStatusFields(t *testing.T) {
	a := &MomoTransactionEvent{TransactionId: 1, Sequence: 1, FromStatus: TransactionStatusPending, ToStatus: TransactionStatusProcessing, PreviousHash: genesisHash}
	b := *a
	b.ToStatus = TransactionStatusCompleted
	assert.NotEqual(t, a.computeHash(), b.computeHash())
}
