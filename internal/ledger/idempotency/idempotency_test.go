package idempotency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyGeneratorsAreDeterministic(t *testing.T) {
	require.Equal(t, "JE:students:StudentFee:123:create", JournalEntryKey("students", "StudentFee", "123", "create"))
	require.Equal(t, "SM:42:out:po-9:receive", StockMovementKey("42", "out", "po-9", "receive"))

	// Same inputs, same key: callers rely on this to replay rather than
	// double-execute.
	require.Equal(t,
		JournalEntryKey("students", "StudentFee", "123", "create"),
		JournalEntryKey("students", "StudentFee", "123", "create"))

	// Different events under the same record must not collide.
	require.NotEqual(t,
		JournalEntryKey("students", "StudentFee", "123", "create"),
		JournalEntryKey("students", "StudentFee", "123", "update"))
}

func TestTokenCarriesRecordID(t *testing.T) {
	tok := NewToken("create_journal_entry", "JE:a:b:1:create", 99)
	require.Equal(t, int64(99), tok.RecordID())
	require.Equal(t, "create_journal_entry", tok.OperationType)
	require.Equal(t, "JE:a:b:1:create", tok.Key)
}

func TestProbeOnUninitialisedStoreFails(t *testing.T) {
	var s *Store
	_, err := s.Probe(context.Background(), "create_journal_entry", "k")
	require.Error(t, err)

	_, err = s.Begin(context.Background(), "create_journal_entry", "k", nil, 0)
	require.Error(t, err)
}
