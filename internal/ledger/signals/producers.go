package signals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgergate/ledgergate/internal/ledger/gateway"
	"github.com/ledgergate/ledgergate/internal/ledger/idempotency"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
)

// EntryPoster is the slice of gateway.Service the journal-entry producer
// drives.
type EntryPoster interface {
	CreateJournalEntry(ctx context.Context, in gateway.CreateEntryInput) (gateway.JournalEntry, error)
}

// JournalEntryProducer builds the governed handler that turns a domain save
// event into a journal entry through the accounting gateway. The event's
// payload carries the posting details:
//
//	{"amount": "1000.00", "debit_account": "10301", "credit_account": "41020",
//	 "description": "...", "actor_id": 1, "date": "2026-01-15"}
//
// The idempotency key derives deterministically from the event, so a
// re-delivered event replays instead of double-posting.
func JournalEntryProducer(module, model string, poster EntryPoster) Handler {
	return func(ctx context.Context, e Event) error {
		amount, err := payloadDecimal(e.Payload, "amount")
		if err != nil {
			return err
		}
		debitAccount, _ := e.Payload["debit_account"].(string)
		creditAccount, _ := e.Payload["credit_account"].(string)
		if debitAccount == "" || creditAccount == "" {
			return errors.New("signals: payload requires debit_account and credit_account")
		}
		sourceID, err := uuid.Parse(e.ObjectID)
		if err != nil {
			return fmt.Errorf("signals: object_id must be a uuid: %w", err)
		}
		date := time.Now()
		if raw, ok := e.Payload["date"].(string); ok && raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				return fmt.Errorf("signals: invalid date: %w", err)
			}
			date = parsed
		}
		actorID := int64(0)
		if raw, ok := e.Payload["actor_id"].(float64); ok {
			actorID = int64(raw)
		}
		description, _ := e.Payload["description"].(string)

		_, err = poster.CreateJournalEntry(ctx, gateway.CreateEntryInput{
			Source:         ledgershared.Triple{Module: module, Model: model, ID: sourceID},
			IdempotencyKey: idempotency.JournalEntryKey(module, model, e.ObjectID, e.Operation),
			Actor:          ledgershared.UserRef{ID: actorID},
			EntryType:      gateway.EntryTypeAutomatic,
			Description:    description,
			Date:           date,
			Lines: []gateway.LineInput{
				{AccountCode: debitAccount, Debit: amount, Description: description},
				{AccountCode: creditAccount, Credit: amount, Description: description},
			},
		})
		return err
	}
}

func payloadDecimal(payload map[string]any, key string) (decimal.Decimal, error) {
	switch v := payload[key].(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Zero, fmt.Errorf("signals: payload requires %s", key)
	}
}
