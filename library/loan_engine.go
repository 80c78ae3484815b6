package library

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// LoanStore is the persistence the loan engine depends on.
type LoanStore interface {
	GetLoan(ctx context.Context, subscriberID int64, catalogCode string) (*Loan, error)
	InsertLoan(ctx context.Context, l *Loan) (bool, error)
	RenewLoan(ctx context.Context, subscriberID int64, catalogCode string, prev, next Date) (bool, error)
	GetLoansBySubscriber(ctx context.Context, subscriberID int64) ([]*LoanDetail, error)
	GetLoansByCatalogCode(ctx context.Context, catalogCode string) ([]*Loan, error)
	HasWaitlistRequest(ctx context.Context, catalogCode string, asOf Date) (bool, error)
}

// CreateLoanOutcome tags the result of CreateLoan.
type CreateLoanOutcome int

const (
	LoanCreated CreateLoanOutcome = iota
	LoanAlreadyExists
)

func (o CreateLoanOutcome) String() string {
	switch o {
	case LoanCreated:
		return "created"
	case LoanAlreadyExists:
		return "already-exists"
	default:
		return "unknown"
	}
}

// CreateLoanResult is the business outcome of CreateLoan. Loan is the new row
// on success and the existing row on conflict.
type CreateLoanResult struct {
	Outcome CreateLoanOutcome
	Loan    *Loan
}

// OK reports whether a loan was created.
func (r CreateLoanResult) OK() bool { return r.Outcome == LoanCreated }

// RenewalOutcome tags the result of RenewLoan.
type RenewalOutcome int

const (
	LoanRenewed RenewalOutcome = iota
	RenewalBlocked
	RenewalNotFound
)

func (o RenewalOutcome) String() string {
	switch o {
	case LoanRenewed:
		return "renewed"
	case RenewalBlocked:
		return "blocked"
	case RenewalNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// RenewalResult is the business outcome of RenewLoan. Loan holds the row as it
// stands after the call; it is nil when no loan exists.
type RenewalResult struct {
	Outcome RenewalOutcome
	Loan    *Loan
}

// OK reports whether the loan was renewed.
func (r RenewalResult) OK() bool { return r.Outcome == LoanRenewed }

// LoanEngine creates and renews loans. Duplicate, blocked and missing loans are
// reported through the result; only store failures are returned as errors.
type LoanEngine struct {
	store LoanStore
	cfg   engineConfig
}

// NewLoanEngine returns an engine backed by store.
func NewLoanEngine(store LoanStore, opts ...EngineOption) *LoanEngine {
	return &LoanEngine{store: store, cfg: newEngineConfig(opts)}
}

// CreateLoan lends catalogCode to the subscriber from today for LoanPeriodDays.
// At most one loan row may exist per (subscriber, catalog code); a second
// request yields LoanAlreadyExists. Copy availability is not checked.
func (e *LoanEngine) CreateLoan(ctx context.Context, subscriberID int64, catalogCode string) (CreateLoanResult, error) {
	log := e.cfg.log.With(zap.Int64("subscriber_id", subscriberID), zap.String("catalog_code", catalogCode))

	existing, err := e.store.GetLoan(ctx, subscriberID, catalogCode)
	switch {
	case err == nil:
		e.cfg.metrics.loanConflict()
		log.Info("loan already exists")
		return CreateLoanResult{Outcome: LoanAlreadyExists, Loan: existing}, nil
	case !errors.Is(err, ErrNotFound):
		return CreateLoanResult{}, err
	}

	today := e.cfg.today()
	loan := &Loan{
		SubscriberID: subscriberID,
		CatalogCode:  catalogCode,
		LoanDate:     today,
		ReturnDate:   today.AddDays(LoanPeriodDays),
	}
	inserted, err := e.store.InsertLoan(ctx, loan)
	if err != nil {
		return CreateLoanResult{}, err
	}
	if !inserted {
		// Another writer got there between the check and the insert.
		e.cfg.metrics.loanConflict()
		log.Info("loan already exists")
		existing, err := e.store.GetLoan(ctx, subscriberID, catalogCode)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return CreateLoanResult{}, err
		}
		return CreateLoanResult{Outcome: LoanAlreadyExists, Loan: existing}, nil
	}

	e.cfg.metrics.loanCreated()
	log.Info("loan created", zap.Stringer("return_date", loan.ReturnDate))
	return CreateLoanResult{Outcome: LoanCreated, Loan: loan}, nil
}

// RenewLoan pushes the return date LoanPeriodDays past its previous value and
// marks the loan renewed. Renewal is blocked while any waitlist entry for the
// catalog code was requested on or before the current return date. Both fields
// change in one write, or neither does.
func (e *LoanEngine) RenewLoan(ctx context.Context, subscriberID int64, catalogCode string) (RenewalResult, error) {
	log := e.cfg.log.With(zap.Int64("subscriber_id", subscriberID), zap.String("catalog_code", catalogCode))

	for attempt := 0; attempt < maxAttempts; attempt++ {
		loan, err := e.store.GetLoan(ctx, subscriberID, catalogCode)
		if errors.Is(err, ErrNotFound) {
			e.cfg.metrics.renewal(RenewalNotFound)
			log.Info("renewal refused: no loan")
			return RenewalResult{Outcome: RenewalNotFound}, nil
		}
		if err != nil {
			return RenewalResult{}, err
		}

		blocked, err := e.store.HasWaitlistRequest(ctx, catalogCode, loan.ReturnDate)
		if err != nil {
			return RenewalResult{}, err
		}
		if blocked {
			e.cfg.metrics.renewal(RenewalBlocked)
			log.Info("renewal blocked by waitlist", zap.Stringer("return_date", loan.ReturnDate))
			return RenewalResult{Outcome: RenewalBlocked, Loan: loan}, nil
		}

		next := loan.ReturnDate.AddDays(LoanPeriodDays)
		renewed, err := e.store.RenewLoan(ctx, subscriberID, catalogCode, loan.ReturnDate, next)
		if err != nil {
			return RenewalResult{}, err
		}
		if renewed {
			loan.ReturnDate = next
			loan.IsRenewed = true
			e.cfg.metrics.renewal(LoanRenewed)
			log.Info("loan renewed", zap.Stringer("return_date", next))
			return RenewalResult{Outcome: LoanRenewed, Loan: loan}, nil
		}
		log.Debug("loan changed during renewal, re-reading", zap.Int("attempt", attempt+1))
	}

	return RenewalResult{}, fmt.Errorf("renew loan for subscriber %d on %q: %w", subscriberID, catalogCode, ErrConflict)
}

// LoansBySubscriber returns the subscriber's loans with book and user details.
func (e *LoanEngine) LoansBySubscriber(ctx context.Context, subscriberID int64) ([]*LoanDetail, error) {
	return e.store.GetLoansBySubscriber(ctx, subscriberID)
}

// SubscribersByBook returns every loan row for the catalog code.
func (e *LoanEngine) SubscribersByBook(ctx context.Context, catalogCode string) ([]*Loan, error) {
	return e.store.GetLoansByCatalogCode(ctx, catalogCode)
}
