package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// LibraryManager is a thin façade over the Database and the circulation
// engines, keeping CLI code simple.
type LibraryManager struct {
	db       *Database
	loans    *LoanEngine
	waitlist *WaitlistEngine
	metrics  *CirculationMetrics
	payments PaymentProcessor
	log      *zap.Logger

	now        func() time.Time
	bcryptCost int
}

// ManagerOption configures a LibraryManager.
type ManagerOption func(*LibraryManager)

// WithManagerLogger sets the logger shared by the store and engines.
func WithManagerLogger(log *zap.Logger) ManagerOption {
	return func(lm *LibraryManager) {
		if log != nil {
			lm.log = log
		}
	}
}

// WithManagerClock replaces time.Now for every date the manager computes.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(lm *LibraryManager) {
		if now != nil {
			lm.now = now
		}
	}
}

// WithManagerMetrics records circulation activity on m.
func WithManagerMetrics(m *CirculationMetrics) ManagerOption {
	return func(lm *LibraryManager) { lm.metrics = m }
}

// WithBcryptCost sets the cost used to hash new passwords.
func WithBcryptCost(cost int) ManagerOption {
	return func(lm *LibraryManager) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			lm.bcryptCost = cost
		}
	}
}

// WithPaymentProcessor replaces the simulated payment processor.
func WithPaymentProcessor(p PaymentProcessor) ManagerOption {
	return func(lm *LibraryManager) {
		if p != nil {
			lm.payments = p
		}
	}
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ...ManagerOption) (*LibraryManager, error) {
	lm := &LibraryManager{
		log:        zap.NewNop(),
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
		payments:   SimulatedPayments{},
	}
	for _, opt := range opts {
		opt(lm)
	}
	if lm.metrics == nil {
		lm.metrics = NewCirculationMetrics(nil)
	}

	db, err := NewDatabase(dbPath, WithLogger(lm.log.Named("store")))
	if err != nil {
		return nil, err
	}
	lm.db = db

	engineOpts := []EngineOption{WithClock(lm.now), WithMetrics(lm.metrics)}
	lm.loans = NewLoanEngine(db, append(engineOpts, WithEngineLogger(lm.log.Named("loans")))...)
	lm.waitlist = NewWaitlistEngine(db, append(engineOpts, WithEngineLogger(lm.log.Named("waitlist")))...)
	return lm, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// Metrics returns the circulation counters.
func (lm *LibraryManager) Metrics() *CirculationMetrics { return lm.metrics }

// ------------------ Catalog ------------------

// AddBook validates and stores a catalog entry.
func (lm *LibraryManager) AddBook(ctx context.Context, e *CatalogEntry) (int64, error) {
	e.CatalogCode = strings.TrimSpace(e.CatalogCode)
	e.Title = strings.TrimSpace(e.Title)
	e.Author = strings.TrimSpace(e.Author)
	if err := validateStruct(e); err != nil {
		return 0, err
	}
	id, err := lm.db.AddBook(ctx, e)
	if err != nil {
		return 0, err
	}
	lm.log.Info("book added", zap.Int64("book_id", id), zap.String("catalog_code", e.CatalogCode))
	return id, nil
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*CatalogEntry, error) {
	return lm.db.GetBook(ctx, id)
}

func (lm *LibraryManager) GetBookByCode(ctx context.Context, code string) (*CatalogEntry, error) {
	return lm.db.GetBookByCode(ctx, code)
}

func (lm *LibraryManager) ListBooks(ctx context.Context) ([]*CatalogEntry, error) {
	return lm.db.GetAllBooks(ctx)
}

// SearchBooks searches the catalog on behalf of username, who must hold a
// current subscription.
func (lm *LibraryManager) SearchBooks(ctx context.Context, username, term string) ([]*CatalogEntry, error) {
	user, err := lm.db.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := lm.requireSubscription(ctx, user); err != nil {
		return nil, err
	}
	return lm.db.SearchBooks(ctx, strings.TrimSpace(term))
}

// UpdateBook applies the non-nil fields of u.
func (lm *LibraryManager) UpdateBook(ctx context.Context, id int64, u BookUpdate) error {
	if u.Quantity != nil && *u.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}
	for _, s := range []*string{u.Title, u.Author, u.CallNumber} {
		if s != nil && strings.TrimSpace(*s) == "" {
			return fmt.Errorf("%w: title, author and call number cannot be empty", ErrInvalidInput)
		}
	}
	return lm.db.UpdateBook(ctx, id, u)
}

func (lm *LibraryManager) DeleteBook(ctx context.Context, id int64) error {
	if err := lm.db.DeleteBook(ctx, id); err != nil {
		return err
	}
	lm.log.Info("book deleted", zap.Int64("book_id", id))
	return nil
}

// ------------------ Circulation ------------------

// Borrow lends the book with the given id to username. Only administrators
// and users with a current subscription may borrow.
func (lm *LibraryManager) Borrow(ctx context.Context, username string, bookID int64) (CreateLoanResult, error) {
	user, book, err := lm.resolve(ctx, username, bookID)
	if err != nil {
		return CreateLoanResult{}, err
	}
	return lm.loans.CreateLoan(ctx, user.ID, book.CatalogCode)
}

// Reserve puts username on the waitlist for the book with the given id. It is
// gated like Borrow.
func (lm *LibraryManager) Reserve(ctx context.Context, username string, bookID int64) (*WaitlistEntry, error) {
	user, book, err := lm.resolve(ctx, username, bookID)
	if err != nil {
		return nil, err
	}
	return lm.waitlist.AddRequest(ctx, user.ID, book.CatalogCode)
}

func (lm *LibraryManager) resolve(ctx context.Context, username string, bookID int64) (*User, *CatalogEntry, error) {
	user, err := lm.db.GetUser(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	if err := lm.requireSubscription(ctx, user); err != nil {
		return nil, nil, err
	}
	book, err := lm.db.GetBook(ctx, bookID)
	if err != nil {
		return nil, nil, err
	}
	return user, book, nil
}

func (lm *LibraryManager) requireSubscription(ctx context.Context, user *User) error {
	if user.IsAdmin {
		return nil
	}
	_, err := lm.db.GetCurrentSubscription(ctx, user.Username, lm.now())
	if errors.Is(err, ErrNotFound) {
		lm.log.Info("subscriber-only action refused", zap.String("username", user.Username))
		return fmt.Errorf("%s: %w", user.Username, ErrNoSubscription)
	}
	return err
}

func (lm *LibraryManager) CreateLoan(ctx context.Context, subscriberID int64, catalogCode string) (CreateLoanResult, error) {
	return lm.loans.CreateLoan(ctx, subscriberID, catalogCode)
}

func (lm *LibraryManager) RenewLoan(ctx context.Context, subscriberID int64, catalogCode string) (RenewalResult, error) {
	return lm.loans.RenewLoan(ctx, subscriberID, catalogCode)
}

func (lm *LibraryManager) LoansBySubscriber(ctx context.Context, subscriberID int64) ([]*LoanDetail, error) {
	return lm.loans.LoansBySubscriber(ctx, subscriberID)
}

func (lm *LibraryManager) SubscribersByBook(ctx context.Context, catalogCode string) ([]*Loan, error) {
	return lm.loans.SubscribersByBook(ctx, catalogCode)
}

// ------------------ Waitlist ------------------

func (lm *LibraryManager) AddWaitlistRequest(ctx context.Context, subscriberID int64, catalogCode string) (*WaitlistEntry, error) {
	return lm.waitlist.AddRequest(ctx, subscriberID, catalogCode)
}

func (lm *LibraryManager) Waitlist(ctx context.Context, catalogCode string) ([]*WaitlistEntry, error) {
	return lm.waitlist.Waitlist(ctx, catalogCode)
}

func (lm *LibraryManager) WaitlistBySubscriber(ctx context.Context, subscriberID int64) ([]*WaitlistEntry, error) {
	return lm.waitlist.RequestsBySubscriber(ctx, subscriberID)
}

func (lm *LibraryManager) RemoveWaitlistRequest(ctx context.Context, subscriberID int64, catalogCode string) (int64, error) {
	return lm.waitlist.RemoveRequest(ctx, subscriberID, catalogCode)
}

func (lm *LibraryManager) AssignPriority(ctx context.Context, catalogCode string) (int64, bool, error) {
	return lm.waitlist.AssignPriority(ctx, catalogCode)
}

func (lm *LibraryManager) ClearPriority(ctx context.Context, catalogCode string) error {
	return lm.waitlist.ClearPriority(ctx, catalogCode)
}

// ------------------ Utilities ------------------

// PrettyBook formats a catalog entry for lists.
func PrettyBook(b *CatalogEntry) string {
	return fmt.Sprintf("%-5d %-12s %-30s %-25s %-4d", b.ID, truncate(b.CatalogCode, 12), truncate(b.Title, 30), truncate(b.Author, 25), b.Quantity)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
