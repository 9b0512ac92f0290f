package movement

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgergate/ledgergate/internal/ledger/audit"
	"github.com/ledgergate/ledgergate/internal/ledger/gateway"
	"github.com/ledgergate/ledgergate/internal/ledger/idempotency"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/shopspring/decimal"
)

// movementWorkflow is the switchboard workflow every ProcessMovement call is
// gated on.
const movementWorkflow = "inventory.process_movement"

// IdempotencyCoordinator is the subset of idempotency.Store the movement
// service drives directly. Unlike the gateway, the movement service
// completes idempotency outside its own posting transaction (its repository
// has no IdempotencyComplete step), so Complete is part of this interface.
type IdempotencyCoordinator interface {
	Probe(ctx context.Context, operationType, key string) (idempotency.Outcome, error)
	Begin(ctx context.Context, operationType, key string, context_ map[string]any, ttl time.Duration) (idempotency.Token, error)
	Retry(ctx context.Context, operationType, key string) (idempotency.Token, error)
	Complete(ctx context.Context, tok idempotency.Token, result map[string]any) error
	Fail(ctx context.Context, tok idempotency.Token, errCode string) error
}

// WorkflowGate is the subset of switchboard.Board the movement service
// consults before applying a stock change.
type WorkflowGate interface {
	IsWorkflowEnabled(name string) bool
	EmergencyCovering(workflow string) string
	RecordViolation(ctx context.Context, violationType string, details map[string]any)
}

// ProcessInput groups the parameters of process_movement.
type ProcessInput struct {
	ProductID       int64
	QuantityChange  decimal.Decimal
	MovementType    Type
	SourceReference string
	IdempotencyKey  string
	UnitCost        decimal.Decimal
	DocumentNumber  string
	Notes           string
	Actor           ledgershared.Principal

	// PairedEntry, when non-nil, is posted through the accounting gateway in
	// the same call, after the movement has committed, using a key derived
	// from the movement's id unless the entry carries its own key. The two
	// writes are not atomic: if the posting fails, the movement stays
	// recorded and the posting error is returned.
	PairedEntry *gateway.CreateEntryInput
}

func (in ProcessInput) validate() error {
	if in.IdempotencyKey == "" {
		return ErrIdempotencyKeyRequired
	}
	if in.ProductID == 0 {
		return ErrInvalidQuantity
	}
	if in.QuantityChange.IsZero() {
		return ErrInvalidQuantity
	}
	if in.UnitCost.IsNegative() {
		return ErrInvalidUnitCost
	}
	return nil
}

// Service implements the Movement Service, the inventory
// counterpart to gateway.Service.
type Service struct {
	repo     Repository
	idem     IdempotencyCoordinator
	trail    audit.Trail
	board    WorkflowGate
	products ProductLookup
	entries  *gateway.Service
	policy   ledgershared.RetryPolicy
	now      func() time.Time
}

// NewService wires the movement service's collaborators. entries may be nil
// when no component posts paired journal entries through it in a given
// deployment. The default retry policy applies until WithRetryPolicy
// overrides it.
func NewService(repo Repository, idem IdempotencyCoordinator, trail audit.Trail, board WorkflowGate, products ProductLookup, entries *gateway.Service) *Service {
	return &Service{repo: repo, idem: idem, trail: trail, board: board, products: products, entries: entries, policy: ledgershared.DefaultRetryPolicy(), now: time.Now}
}

// WithRetryPolicy replaces the service's retry/backoff policy and returns
// the service for chaining at wiring time.
func (s *Service) WithRetryPolicy(p ledgershared.RetryPolicy) *Service {
	s.policy = p
	return s
}

// GetBalance returns a product's current balance.
func (s *Service) GetBalance(ctx context.Context, productID int64) (Balance, error) {
	return s.repo.GetBalance(ctx, productID)
}

// ListMovements returns every movement recorded against a product, most
// recent first.
func (s *Service) ListMovements(ctx context.Context, productID int64) ([]StockMovement, error) {
	return s.repo.ListMovements(ctx, productID)
}

// ProcessMovement applies a signed quantity change to a product's stock
// balance:
//
//  1. switchboard gate.
//  2. resolve the product; reject service-typed (non-stockable) products.
//  3. idempotency probe/begin.
//  4. lock the product's balance row, apply the change under moving-average
//     costing, reject if it would drive stock negative unless the movement
//     type is an authorised adjustment.
//  5. persist the movement and updated balance, complete idempotency, audit,
//     and - when the caller supplied one - post a paired journal entry
//     through the accounting gateway using a derived idempotency key.
func (s *Service) ProcessMovement(ctx context.Context, in ProcessInput) (StockMovement, error) {
	if err := in.validate(); err != nil {
		return StockMovement{}, err
	}

	// Only a contended idempotency key retries: the holder's outcome
	// becomes observable on the next attempt. Domain refusals return
	// immediately.
	var movement StockMovement
	err := s.policy.Execute(ctx, func() error {
		var err error
		movement, err = s.processOnce(ctx, in)
		return err
	}, func(err error) bool {
		return err == ErrOperationInProgress
	})
	if err != nil {
		return StockMovement{}, err
	}
	return movement, nil
}

// processOnce is a single pass through the movement pipeline;
// ProcessMovement drives it under the retry policy.
func (s *Service) processOnce(ctx context.Context, in ProcessInput) (StockMovement, error) {
	if !s.board.IsWorkflowEnabled(movementWorkflow) {
		s.board.RecordViolation(ctx, "workflow_disabled", map[string]any{"workflow": movementWorkflow, "product_id": in.ProductID})
		return StockMovement{}, gateway.ErrWorkflowDisabled
	}
	if covering := s.board.EmergencyCovering(movementWorkflow); covering != "" {
		s.board.RecordViolation(ctx, "emergency_disabled", map[string]any{"workflow": movementWorkflow, "emergency": covering})
		return StockMovement{}, gateway.ErrEmergencyDisabled
	}

	if s.products != nil {
		product, err := s.products.Lookup(ctx, in.ProductID)
		if err != nil {
			return StockMovement{}, err
		}
		if product.IsService || !product.Stockable {
			return StockMovement{}, ErrServiceProduct
		}
	}

	outcome, err := s.idem.Probe(ctx, "process_movement", in.IdempotencyKey)
	if err != nil {
		return StockMovement{}, err
	}
	var tok idempotency.Token
	if outcome.Present {
		switch outcome.Record.Status {
		case idempotency.StatusCompleted:
			movementID, _ := outcome.Record.ResultData["movement_id"].(float64)
			return s.getByID(ctx, in.ProductID, int64(movementID))
		case idempotency.StatusFailed:
			// A recorded failure replays deterministically unless the
			// policy permits re-execution under the re-armed record.
			if !s.policy.RetryFailedOutcomes {
				return StockMovement{}, fmt.Errorf("movement: prior attempt failed: %s", outcome.Record.ErrorCode)
			}
			tok, err = s.idem.Retry(ctx, "process_movement", in.IdempotencyKey)
			if err != nil {
				if err == idempotency.ErrAlreadyStarted {
					return StockMovement{}, ErrOperationInProgress
				}
				return StockMovement{}, err
			}
		default:
			return StockMovement{}, ErrOperationInProgress
		}
	} else {
		tok, err = s.idem.Begin(ctx, "process_movement", in.IdempotencyKey, map[string]any{
			"product_id": in.ProductID, "movement_type": string(in.MovementType),
		}, 24*time.Hour)
		if err != nil {
			if err == idempotency.ErrAlreadyStarted {
				return StockMovement{}, ErrOperationInProgress
			}
			return StockMovement{}, err
		}
	}

	movement, err := s.applyWithin(ctx, in, tok)
	if err != nil {
		_ = s.idem.Fail(ctx, tok, err.Error())
		if s.trail != nil {
			actorID := int64(0)
			if in.Actor != nil {
				actorID = in.Actor.GetID()
			}
			_ = s.trail.Record(ctx, audit.Entry{
				ModelName: "stock_movement",
				ObjectID:  in.IdempotencyKey,
				Operation: "movement.process_failed",
				ActorID:   actorID,
				AfterData: map[string]any{"error": err.Error(), "product_id": in.ProductID},
				At:        s.now(),
			})
		}
		return StockMovement{}, err
	}

	if in.PairedEntry != nil && s.entries != nil {
		pairedIn := *in.PairedEntry
		if pairedIn.IdempotencyKey == "" {
			pairedIn.IdempotencyKey = idempotency.JournalEntryKey("inventory", "stock_movement", fmt.Sprintf("%d", movement.ID), "paired")
		}
		if _, err := s.entries.CreateJournalEntry(ctx, pairedIn); err != nil {
			return StockMovement{}, err
		}
	}

	return movement, nil
}

func (s *Service) applyWithin(ctx context.Context, in ProcessInput, tok idempotency.Token) (StockMovement, error) {
	var result StockMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.GetBalanceForUpdate(ctx, in.ProductID)
		if err != nil {
			return err
		}

		newQty := balance.Qty.Add(in.QuantityChange)
		if newQty.IsNegative() && !in.MovementType.authorisedNegative() {
			return ErrNegativeStock
		}

		var unitCost, newAvg decimal.Decimal
		if in.QuantityChange.IsPositive() {
			unitCost = in.UnitCost
			totalCost := balance.Qty.Mul(balance.AvgCost).Add(in.QuantityChange.Mul(unitCost))
			if !newQty.IsZero() {
				newAvg = ledgershared.RoundMoney(totalCost.Div(newQty))
			}
		} else {
			unitCost = balance.AvgCost
			if newQty.LessThanOrEqual(decimal.Zero) {
				// Stock exhausted (or driven negative by an authorised
				// adjustment): the moving average restarts with the next
				// receipt.
				newAvg = decimal.Zero
			} else {
				newAvg = balance.AvgCost
			}
		}

		now := s.now()
		actorID := int64(0)
		if in.Actor != nil {
			actorID = in.Actor.GetID()
		}
		movement := StockMovement{
			ProductID:       in.ProductID,
			QuantityChange:  in.QuantityChange,
			MovementType:    in.MovementType,
			SourceReference: in.SourceReference,
			IdempotencyKey:  in.IdempotencyKey,
			UnitCost:        unitCost,
			DocumentNumber:  in.DocumentNumber,
			Notes:           in.Notes,
			Timestamp:       now,
			CreatedBy:       actorID,
			BalanceAfter:    newQty,
			AvgCostAfter:    newAvg,
		}
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id

		if err := tx.UpsertBalance(ctx, Balance{ProductID: in.ProductID, Qty: newQty, AvgCost: newAvg, UpdatedAt: now}); err != nil {
			return err
		}

		result = movement
		return nil
	})
	if err != nil {
		return StockMovement{}, err
	}

	if err := s.idem.Complete(ctx, tok, map[string]any{"movement_id": result.ID}); err != nil {
		return StockMovement{}, err
	}
	if s.trail != nil {
		actorID := int64(0)
		if in.Actor != nil {
			actorID = in.Actor.GetID()
		}
		_ = s.trail.Record(ctx, audit.Entry{
			ModelName: "stock_movement",
			ObjectID:  fmt.Sprintf("%d", result.ID),
			Operation: "movement.process_movement",
			ActorID:   actorID,
			AfterData: map[string]any{"product_id": in.ProductID, "balance_after": result.BalanceAfter.String()},
			At:        s.now(),
		})
	}
	return result, nil
}

func (s *Service) getByID(ctx context.Context, productID, movementID int64) (StockMovement, error) {
	movements, err := s.repo.ListMovements(ctx, productID)
	if err != nil {
		return StockMovement{}, err
	}
	for _, m := range movements {
		if m.ID == movementID {
			return m, nil
		}
	}
	return StockMovement{}, fmt.Errorf("movement: movement %d not found", movementID)
}
