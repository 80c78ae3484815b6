package library

import "time"

// User is a registered library account. Subscribers are users; their numeric ID is
// the subscriber id used by loans and waitlist entries.
type User struct {
	ID           int64      `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password" json:"-"` // Don't serialize password hash
	Email        string     `db:"email" json:"email"`
	IsAdmin      bool       `db:"is_admin" json:"is_admin"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
}

// SubscriptionPlan is seeded reference data.
type SubscriptionPlan struct {
	ID             int64   `db:"id" json:"id"`
	Name           string  `db:"name" json:"name"`
	Price          float64 `db:"price" json:"price"`
	DurationMonths int     `db:"duration_months" json:"duration_months"`
	Description    string  `db:"description" json:"description"`
}

// Subscription binds a user to a plan for [StartDate, EndDate).
type Subscription struct {
	ID               int64     `db:"id" json:"id"`
	Username         string    `db:"username" json:"username"`
	PlanID           int64     `db:"plan_id" json:"plan_id"`
	PlanName         string    `db:"plan_name" json:"plan_name"`
	StartDate        time.Time `db:"start_date" json:"start_date"`
	EndDate          time.Time `db:"end_date" json:"end_date"`
	PaymentStatus    string    `db:"payment_status" json:"payment_status"`
	PaymentReference string    `db:"payment_reference" json:"payment_reference,omitempty"`
}

// PaymentStatusActive marks a paid, usable subscription.
const PaymentStatusActive = "active"

// CatalogEntry is a book title in the catalog. Quantity is the number of copies owned;
// loans never change it.
type CatalogEntry struct {
	ID              int64  `db:"id" json:"id"`
	CatalogCode     string `db:"catalog_code" json:"catalog_code" validate:"required,max=64"`
	CallNumber      string `db:"call_number" json:"call_number" validate:"required,max=64"`
	AcquisitionDate Date   `db:"acquisition_date" json:"acquisition_date" validate:"required"`
	Keywords        string `db:"keywords" json:"keywords"`
	EditorID        string `db:"editor_id" json:"editor_id"`
	ThemeID         string `db:"theme_id" json:"theme_id"`
	Title           string `db:"title" json:"title" validate:"required"`
	Author          string `db:"author" json:"author" validate:"required"`
	Publisher       string `db:"publisher" json:"publisher" validate:"required"`
	Quantity        int    `db:"quantity" json:"quantity" validate:"min=1"`
}

// BookUpdate holds the editable catalog fields. Nil fields are left untouched.
type BookUpdate struct {
	Title      *string
	Author     *string
	Keywords   *string
	Quantity   *int
	CallNumber *string
}

// Loan links a subscriber to a catalog code. ReturnDate moves forward on renewal.
type Loan struct {
	ID           int64  `db:"id" json:"id"`
	SubscriberID int64  `db:"subscriber_id" json:"subscriber_id"`
	CatalogCode  string `db:"catalog_code" json:"catalog_code"`
	LoanDate     Date   `db:"loan_date" json:"loan_date"`
	ReturnDate   Date   `db:"return_date" json:"return_date"`
	IsRenewed    bool   `db:"is_renewed" json:"is_renewed"`
}

// LoanDetail is a loan joined with its book and borrower.
type LoanDetail struct {
	LoanDate   Date   `db:"loan_date" json:"loan_date"`
	ReturnDate Date   `db:"return_date" json:"return_date"`
	Title      string `db:"title" json:"title"`
	Author     string `db:"author" json:"author"`
	Username   string `db:"username" json:"username"`
	UserID     int64  `db:"user_id" json:"user_id"`
}

// WaitlistEntry is one reservation request. PriorityDate is set while the entry
// is the promoted head of the queue.
type WaitlistEntry struct {
	ID           int64  `db:"id" json:"id"`
	SubscriberID int64  `db:"subscriber_id" json:"subscriber_id"`
	CatalogCode  string `db:"catalog_code" json:"catalog_code"`
	RequestDate  Date   `db:"request_date" json:"request_date"`
	PriorityDate *Date  `db:"priority_date" json:"priority_date,omitempty"`
}

// Promoted reports whether the entry currently holds priority.
func (w *WaitlistEntry) Promoted() bool { return w.PriorityDate != nil }
