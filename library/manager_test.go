package library

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newManager(t *testing.T, opts ...ManagerOption) (*LibraryManager, *fakeClock) {
	t.Helper()
	clock := newFakeClock(2024, time.January, 1)
	opts = append([]ManagerOption{WithBcryptCost(bcrypt.MinCost), WithManagerClock(clock.Now)}, opts...)
	mgr, err := NewLibraryManager(filepath.Join(t.TempDir(), "lib.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr, clock
}

func register(t *testing.T, mgr *LibraryManager, name string) *User {
	t.Helper()
	u, err := mgr.Register(context.Background(), Registration{
		Username: name,
		Email:    name + "@example.com",
		Password: "secret1",
	})
	require.NoError(t, err)
	return u
}

func validCard() CardDetails {
	return CardDetails{
		Method: PaymentVisa,
		Holder: "Alice Reader",
		Number: "4111111111111111",
		Expiry: "12/30",
		CVV:    "123",
	}
}

func TestRegisterGrantsBasicPlan(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	u := register(t, mgr, "alice")
	assert.NotZero(t, u.ID)
	assert.False(t, u.IsAdmin)

	sub, err := mgr.CurrentSubscription(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Basic Plan", sub.PlanName)
	assert.Equal(t, PaymentStatusActive, sub.PaymentStatus)
	assert.Equal(t, time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC), sub.EndDate.UTC())
	assert.Equal(t, 1.0, testutil.ToFloat64(mgr.Metrics().subscriptions.WithLabelValues("Basic Plan")))
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	register(t, mgr, "alice")

	_, err := mgr.Register(ctx, Registration{Username: "alice", Email: "other@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = mgr.Register(ctx, Registration{Username: "alice2", Email: "alice@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrConflict)

	bad := []Registration{
		{Username: "al", Email: "al@example.com", Password: "secret1"},
		{Username: "bad name", Email: "bad@example.com", Password: "secret1"},
		{Username: "carol", Email: "not-an-email", Password: "secret1"},
		{Username: "dave", Email: "dave@example.com", Password: "123"},
	}
	for _, r := range bad {
		_, err := mgr.Register(ctx, r)
		assert.ErrorIs(t, err, ErrInvalidInput, "%+v", r)
	}

	users, err := mgr.GetAllUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestLogin(t *testing.T) {
	mgr, clock := newManager(t)
	ctx := context.Background()
	register(t, mgr, "alice")

	_, err := mgr.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = mgr.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	u, err := mgr.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	require.NotNil(t, u.LastLogin)

	stored, err := mgr.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, stored.LastLogin)
	assert.True(t, stored.LastLogin.Equal(clock.Now()))
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.EnsureAdmin(ctx, "admin", "admin@library.com", "admin123"))
	require.NoError(t, mgr.EnsureAdmin(ctx, "admin", "admin@library.com", "changed"))

	admin, err := mgr.Login(ctx, "admin", "admin123")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)

	users, err := mgr.GetAllUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = mgr.CurrentSubscription(ctx, "admin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscribeWhileActiveIsRefused(t *testing.T) {
	mgr, _ := newManager(t)
	register(t, mgr, "alice")

	_, err := mgr.Subscribe(context.Background(), "alice", "Standard Plan", validCard())
	assert.ErrorIs(t, err, ErrActiveSubscription)
}

func TestSubscribeAfterExpiry(t *testing.T) {
	mgr, clock := newManager(t)
	ctx := context.Background()
	register(t, mgr, "alice")

	clock.Set(2024, time.February, 1)
	_, err := mgr.CurrentSubscription(ctx, "alice")
	require.ErrorIs(t, err, ErrNotFound)

	sub, err := mgr.Subscribe(ctx, "alice", "Standard Plan", validCard())
	require.NoError(t, err)
	assert.Equal(t, "Standard Plan", sub.PlanName)
	assert.Equal(t, clock.Now().Add(90*24*time.Hour), sub.EndDate)
	_, err = uuid.Parse(sub.PaymentReference)
	assert.NoError(t, err)

	current, err := mgr.CurrentSubscription(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, current.ID)
	assert.Equal(t, sub.PaymentReference, current.PaymentReference)

	history, err := mgr.SubscriptionHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Standard Plan", history[0].PlanName)
	assert.Equal(t, "Basic Plan", history[1].PlanName)
}

func TestSubscribeValidatesCardAndPlan(t *testing.T) {
	mgr, clock := newManager(t)
	ctx := context.Background()
	register(t, mgr, "alice")
	clock.Set(2024, time.March, 1)

	_, err := mgr.Subscribe(ctx, "alice", "Gold Plan", validCard())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mgr.Subscribe(ctx, "nobody", "Basic Plan", validCard())
	assert.ErrorIs(t, err, ErrNotFound)

	cases := map[string]func(*CardDetails){
		"method": func(c *CardDetails) { c.Method = "Cash" },
		"holder": func(c *CardDetails) { c.Holder = "" },
		"number": func(c *CardDetails) { c.Number = "4111-1111" },
		"expiry": func(c *CardDetails) { c.Expiry = "13/30" },
		"cvv":    func(c *CardDetails) { c.CVV = "12" },
	}
	for name, mutate := range cases {
		card := validCard()
		mutate(&card)
		_, err := mgr.Subscribe(ctx, "alice", "Basic Plan", card)
		assert.ErrorIs(t, err, ErrInvalidInput, name)
	}

	card := validCard()
	card.Method = PaymentDahabia
	_, err = mgr.Subscribe(ctx, "alice", "Premium Plan", card)
	assert.NoError(t, err)
}

type decliningProcessor struct{ calls int }

func (p *decliningProcessor) Charge(context.Context, CardDetails, float64) (string, error) {
	p.calls++
	return "", ErrPaymentDeclined
}

func TestSubscribeDeclinedPaymentStoresNothing(t *testing.T) {
	payments := &decliningProcessor{}
	mgr, clock := newManager(t, WithPaymentProcessor(payments))
	ctx := context.Background()
	register(t, mgr, "alice")
	clock.Set(2024, time.March, 1)

	_, err := mgr.Subscribe(ctx, "alice", "Basic Plan", validCard())
	assert.ErrorIs(t, err, ErrPaymentDeclined)
	assert.Equal(t, 1, payments.calls)

	history, err := mgr.SubscriptionHistory(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSimulatedPaymentsDeclinesFreeCharge(t *testing.T) {
	_, err := SimulatedPayments{}.Charge(context.Background(), validCard(), 0)
	assert.ErrorIs(t, err, ErrPaymentDeclined)
}

func TestAddBookValidation(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	good := func() *CatalogEntry {
		return &CatalogEntry{
			CatalogCode:     " BK-001 ",
			CallNumber:      "823.9",
			AcquisitionDate: NewDate(2023, time.June, 1),
			Title:           "The Hobbit",
			Author:          "Tolkien",
			Publisher:       "Allen & Unwin",
			Quantity:        1,
		}
	}

	id, err := mgr.AddBook(ctx, good())
	require.NoError(t, err)
	b, err := mgr.GetBookByCode(ctx, "BK-001")
	require.NoError(t, err)
	assert.Equal(t, id, b.ID)

	broken := map[string]func(*CatalogEntry){
		"title":    func(e *CatalogEntry) { e.Title = "  " },
		"code":     func(e *CatalogEntry) { e.CatalogCode = "" },
		"acquired": func(e *CatalogEntry) { e.AcquisitionDate = Date{} },
		"quantity": func(e *CatalogEntry) { e.Quantity = 0 },
	}
	for name, mutate := range broken {
		e := good()
		mutate(e)
		_, err := mgr.AddBook(ctx, e)
		assert.ErrorIs(t, err, ErrInvalidInput, name)
	}

	zero := 0
	assert.ErrorIs(t, mgr.UpdateBook(ctx, id, BookUpdate{Quantity: &zero}), ErrInvalidInput)
	blank := " "
	assert.ErrorIs(t, mgr.UpdateBook(ctx, id, BookUpdate{Author: &blank}), ErrInvalidInput)

	require.NoError(t, mgr.DeleteBook(ctx, id))
	_, err = mgr.GetBook(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBorrowAndReserve(t *testing.T) {
	mgr, clock := newManager(t)
	ctx := context.Background()
	alice := register(t, mgr, "alice")
	bob := register(t, mgr, "bob")
	bookID, err := mgr.AddBook(ctx, &CatalogEntry{
		CatalogCode:     "BK-001",
		CallNumber:      "823.9",
		AcquisitionDate: NewDate(2023, time.June, 1),
		Title:           "The Hobbit",
		Author:          "Tolkien",
		Publisher:       "Allen & Unwin",
		Quantity:        1,
	})
	require.NoError(t, err)

	res, err := mgr.Borrow(ctx, "alice", bookID)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, alice.ID, res.Loan.SubscriberID)
	assert.Equal(t, "BK-001", res.Loan.CatalogCode)

	res, err = mgr.Borrow(ctx, "alice", bookID)
	require.NoError(t, err)
	assert.Equal(t, LoanAlreadyExists, res.Outcome)

	// One copy, but the second borrower still gets a loan.
	res, err = mgr.Borrow(ctx, "bob", bookID)
	require.NoError(t, err)
	assert.True(t, res.OK())

	_, err = mgr.Borrow(ctx, "alice", 999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = mgr.Borrow(ctx, "nobody", bookID)
	assert.ErrorIs(t, err, ErrNotFound)

	clock.Set(2024, time.January, 5)
	entry, err := mgr.Reserve(ctx, "bob", bookID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, entry.SubscriberID)

	renewal, err := mgr.RenewLoan(ctx, alice.ID, "BK-001")
	require.NoError(t, err)
	assert.Equal(t, RenewalBlocked, renewal.Outcome)

	got, ok, err := mgr.AssignPriority(ctx, "BK-001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bob.ID, got)

	loans, err := mgr.LoansBySubscriber(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "The Hobbit", loans[0].Title)

	book, err := mgr.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 1, book.Quantity)
}

func TestBorrowRequiresCurrentSubscription(t *testing.T) {
	mgr, clock := newManager(t)
	ctx := context.Background()
	register(t, mgr, "alice")
	require.NoError(t, mgr.EnsureAdmin(ctx, "admin", "admin@library.com", "admin123"))
	bookID, err := mgr.AddBook(ctx, &CatalogEntry{
		CatalogCode:     "BK-001",
		CallNumber:      "823.9",
		AcquisitionDate: NewDate(2023, time.June, 1),
		Title:           "The Hobbit",
		Author:          "Tolkien",
		Publisher:       "Allen & Unwin",
		Quantity:        1,
	})
	require.NoError(t, err)

	// The Basic Plan granted on 2024-01-01 ended on 2024-01-31.
	clock.Set(2024, time.March, 1)
	_, err = mgr.CurrentSubscription(ctx, "alice")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = mgr.Borrow(ctx, "alice", bookID)
	assert.ErrorIs(t, err, ErrNoSubscription)
	_, err = mgr.Reserve(ctx, "alice", bookID)
	assert.ErrorIs(t, err, ErrNoSubscription)
	_, err = mgr.SearchBooks(ctx, "alice", "hobbit")
	assert.ErrorIs(t, err, ErrNoSubscription)

	loans, err := mgr.SubscribersByBook(ctx, "BK-001")
	require.NoError(t, err)
	assert.Empty(t, loans)
	queue, err := mgr.Waitlist(ctx, "BK-001")
	require.NoError(t, err)
	assert.Empty(t, queue)

	// Administrators are not subscribers and are never gated.
	res, err := mgr.Borrow(ctx, "admin", bookID)
	require.NoError(t, err)
	assert.True(t, res.OK())

	// Renewing the subscription restores access.
	_, err = mgr.Subscribe(ctx, "alice", "Basic Plan", validCard())
	require.NoError(t, err)
	res, err = mgr.Borrow(ctx, "alice", bookID)
	require.NoError(t, err)
	assert.True(t, res.OK())
	books, err := mgr.SearchBooks(ctx, "alice", "hobbit")
	require.NoError(t, err)
	assert.Len(t, books, 1)

	_, err = mgr.SearchBooks(ctx, "nobody", "hobbit")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImportCatalogReportsBadRows(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	csv := strings.Join([]string{
		"catalog_code,call_number,acquisition_date,title,author,publisher,quantity,keywords",
		"BK-001,823.9,2023-06-01,The Hobbit,Tolkien,Allen & Unwin,2,fantasy",
		"BK-002,823.9,01/06/2023,Emma,Austen,Murray,1,",
		"BK-003,823.9,2023-06-01,Dune,Herbert,Chilton,none,",
		"BK-004,823.9,2023-06-01,,Anonymous,Nobody,1,",
		`BK-005,891.7,2023-06-02,"War and Peace",Tolstoy,"The Russian Messenger",3,"history, war"`,
	}, "\n")

	report, err := mgr.ImportCatalog(ctx, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Len(t, report.Imported, 2)
	require.Len(t, report.Failed, 3)
	assert.Equal(t, []int{3, 4, 5}, []int{report.Failed[0].Line, report.Failed[1].Line, report.Failed[2].Line})
	for _, f := range report.Failed {
		assert.True(t, errors.Is(f.Err, ErrInvalidInput), "line %d: %v", f.Line, f.Err)
	}

	register(t, mgr, "reader")
	books, err := mgr.SearchBooks(ctx, "reader", "war")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "history, war", books[0].Keywords)
}

func TestImportCatalogMissingColumn(t *testing.T) {
	mgr, _ := newManager(t)

	_, err := mgr.ImportCatalog(context.Background(), strings.NewReader("catalog_code,title\nBK-001,Dune\n"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestImportCatalogFile(t *testing.T) {
	mgr, _ := newManager(t)

	report, err := mgr.ImportCatalogFile(context.Background(), filepath.Join("..", "testdata", "catalog.csv"))
	require.NoError(t, err)
	assert.Len(t, report.Imported, 6)
	assert.Empty(t, report.Failed)

	_, err = mgr.ImportCatalogFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestPrettyBook(t *testing.T) {
	line := PrettyBook(&CatalogEntry{
		ID:          7,
		CatalogCode: "BK-007",
		Title:       "A Very Long Title That Will Certainly Be Truncated",
		Author:      "Someone",
		Quantity:    2,
	})
	assert.True(t, strings.HasPrefix(line, "7     BK-007"))
	assert.Contains(t, line, "...")
	assert.NotContains(t, line, "Truncated")
}
