package library

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a user, book, plan or loan does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned for duplicate usernames, emails and loans.
	ErrConflict = errors.New("record already exists")

	// ErrInvalidCredentials is returned by Login on a bad username or password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrActiveSubscription is returned when subscribing while a subscription is current.
	ErrActiveSubscription = errors.New("user already has an active subscription")

	// ErrNoSubscription is returned when a non-admin user without a current
	// subscription tries to borrow, reserve or search.
	ErrNoSubscription = errors.New("no current subscription")

	// ErrPaymentDeclined is returned when the payment processor refuses a charge.
	ErrPaymentDeclined = errors.New("payment declined")

	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("invalid input")
)

// StoreError reports an unexpected storage failure. It is never used for
// not-found or conflict outcomes.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err is (or wraps) a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
