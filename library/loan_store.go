package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const loanColumns = `id,subscriber_id,catalog_code,loan_date,return_date,is_renewed`

// GetLoan fetches the loan for a (subscriber, catalog code) pair.
func (d *Database) GetLoan(ctx context.Context, subscriberID int64, catalogCode string) (*Loan, error) {
	var l Loan
	err := d.db.GetContext(ctx, &l, `SELECT `+loanColumns+` FROM loans WHERE subscriber_id=? AND catalog_code=? ORDER BY id LIMIT 1`,
		subscriberID, catalogCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loan for subscriber %d on %q: %w", subscriberID, catalogCode, ErrNotFound)
	}
	if err != nil {
		return nil, d.fail("get loan", err, zap.Int64("subscriber_id", subscriberID), zap.String("catalog_code", catalogCode))
	}
	return &l, nil
}

// InsertLoan inserts l unless a loan for the same pair already exists. The
// existence check and the insert are one statement. It reports whether a row
// was written.
func (d *Database) InsertLoan(ctx context.Context, l *Loan) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
        INSERT INTO loans(subscriber_id,catalog_code,loan_date,return_date,is_renewed)
        SELECT ?,?,?,?,?
        WHERE NOT EXISTS (SELECT 1 FROM loans WHERE subscriber_id=? AND catalog_code=?)`,
		l.SubscriberID, l.CatalogCode, l.LoanDate, l.ReturnDate, l.IsRenewed,
		l.SubscriberID, l.CatalogCode)
	if err != nil {
		return false, d.fail("insert loan", err, zap.Int64("subscriber_id", l.SubscriberID), zap.String("catalog_code", l.CatalogCode))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, d.fail("insert loan", err)
	}
	if n == 0 {
		return false, nil
	}
	if l.ID, err = res.LastInsertId(); err != nil {
		return false, d.fail("insert loan", err)
	}
	return true, nil
}

// RenewLoan moves the loan's return date from prev to next and marks it
// renewed, in a single statement. The update only applies while the stored
// return date still equals prev and no waitlist entry for the catalog code was
// requested on or before prev. It reports whether the row changed.
func (d *Database) RenewLoan(ctx context.Context, subscriberID int64, catalogCode string, prev, next Date) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
        UPDATE loans SET return_date=?, is_renewed=1
        WHERE subscriber_id=? AND catalog_code=? AND return_date=?
          AND NOT EXISTS (SELECT 1 FROM waitlist WHERE catalog_code=? AND request_date<=?)`,
		next, subscriberID, catalogCode, prev, catalogCode, prev)
	if err != nil {
		return false, d.fail("renew loan", err, zap.Int64("subscriber_id", subscriberID), zap.String("catalog_code", catalogCode))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, d.fail("renew loan", err)
	}
	return n > 0, nil
}

// GetLoansBySubscriber returns the subscriber's loans joined with book and user.
func (d *Database) GetLoansBySubscriber(ctx context.Context, subscriberID int64) ([]*LoanDetail, error) {
	loans := []*LoanDetail{}
	err := d.db.SelectContext(ctx, &loans, `
        SELECT lo.loan_date, lo.return_date, c.title, c.author, u.username, u.id AS user_id
        FROM loans lo
        JOIN catalog c ON lo.catalog_code = c.catalog_code
        JOIN users u ON lo.subscriber_id = u.id
        WHERE lo.subscriber_id = ?
        ORDER BY lo.id`, subscriberID)
	if err != nil {
		return nil, d.fail("loans by subscriber", err, zap.Int64("subscriber_id", subscriberID))
	}
	return loans, nil
}

// GetLoansByCatalogCode returns every loan row for a catalog code.
func (d *Database) GetLoansByCatalogCode(ctx context.Context, catalogCode string) ([]*Loan, error) {
	loans := []*Loan{}
	if err := d.db.SelectContext(ctx, &loans, `SELECT `+loanColumns+` FROM loans WHERE catalog_code=? ORDER BY id`, catalogCode); err != nil {
		return nil, d.fail("loans by catalog code", err, zap.String("catalog_code", catalogCode))
	}
	return loans, nil
}

// ---------------------------------------------------------------------------
// Waitlist
// ---------------------------------------------------------------------------

const waitlistColumns = `id,subscriber_id,catalog_code,request_date,priority_date`

// AddWaitlistEntry enqueues e. Duplicate requests are allowed.
func (d *Database) AddWaitlistEntry(ctx context.Context, e *WaitlistEntry) (int64, error) {
	res, err := d.addWaitlistStmt.ExecContext(ctx, e.SubscriberID, e.CatalogCode, e.RequestDate)
	if err != nil {
		return 0, d.fail("add waitlist entry", err, zap.Int64("subscriber_id", e.SubscriberID), zap.String("catalog_code", e.CatalogCode))
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return 0, d.fail("add waitlist entry", err)
	}
	return e.ID, nil
}

// GetWaitlistByCatalogCode returns the queue for a catalog code, earliest
// request first. Requests made on the same day keep insertion order.
func (d *Database) GetWaitlistByCatalogCode(ctx context.Context, catalogCode string) ([]*WaitlistEntry, error) {
	entries := []*WaitlistEntry{}
	err := d.db.SelectContext(ctx, &entries, `SELECT `+waitlistColumns+` FROM waitlist
        WHERE catalog_code=? ORDER BY request_date ASC, id ASC`, catalogCode)
	if err != nil {
		return nil, d.fail("waitlist by catalog code", err, zap.String("catalog_code", catalogCode))
	}
	return entries, nil
}

// GetWaitlistBySubscriber returns the subscriber's pending requests.
func (d *Database) GetWaitlistBySubscriber(ctx context.Context, subscriberID int64) ([]*WaitlistEntry, error) {
	entries := []*WaitlistEntry{}
	err := d.db.SelectContext(ctx, &entries, `SELECT `+waitlistColumns+` FROM waitlist
        WHERE subscriber_id=? ORDER BY request_date ASC, id ASC`, subscriberID)
	if err != nil {
		return nil, d.fail("waitlist by subscriber", err, zap.Int64("subscriber_id", subscriberID))
	}
	return entries, nil
}

// RemoveWaitlistEntries deletes every request of the subscriber for the code
// and returns how many were removed.
func (d *Database) RemoveWaitlistEntries(ctx context.Context, subscriberID int64, catalogCode string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM waitlist WHERE subscriber_id=? AND catalog_code=?`, subscriberID, catalogCode)
	if err != nil {
		return 0, d.fail("remove waitlist entries", err, zap.Int64("subscriber_id", subscriberID), zap.String("catalog_code", catalogCode))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, d.fail("remove waitlist entries", err)
	}
	return n, nil
}

// SetWaitlistPriority stamps the priority date of a single entry. It reports
// false when the entry no longer exists.
func (d *Database) SetWaitlistPriority(ctx context.Context, entryID int64, at Date) (bool, error) {
	res, err := d.db.ExecContext(ctx, `UPDATE waitlist SET priority_date=? WHERE id=?`, at, entryID)
	if err != nil {
		return false, d.fail("set waitlist priority", err, zap.Int64("entry_id", entryID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, d.fail("set waitlist priority", err)
	}
	return n > 0, nil
}

// ClearWaitlistPriority unsets the priority date of every entry for the code.
func (d *Database) ClearWaitlistPriority(ctx context.Context, catalogCode string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `UPDATE waitlist SET priority_date=NULL WHERE catalog_code=?`, catalogCode)
	if err != nil {
		return 0, d.fail("clear waitlist priority", err, zap.String("catalog_code", catalogCode))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, d.fail("clear waitlist priority", err)
	}
	return n, nil
}

// HasWaitlistRequest reports whether any entry for the code was requested on
// or before asOf.
func (d *Database) HasWaitlistRequest(ctx context.Context, catalogCode string, asOf Date) (bool, error) {
	var exists bool
	err := d.db.QueryRowxContext(ctx, `SELECT EXISTS(SELECT 1 FROM waitlist WHERE catalog_code=? AND request_date<=?)`,
		catalogCode, asOf).Scan(&exists)
	if err != nil {
		return false, d.fail("has waitlist request", err, zap.String("catalog_code", catalogCode))
	}
	return exists, nil
}
