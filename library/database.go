package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Database provides high-level helpers around a SQLite connection. It is the
// persistence store behind every engine and service in this package.
type Database struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
	log     *zap.Logger

	addUserStmt        *sqlx.Stmt
	addWaitlistStmt    *sqlx.Stmt
	touchLastLoginStmt *sqlx.Stmt
}

// DatabaseOption configures a Database.
type DatabaseOption func(*Database)

// WithLogger sets the logger used to report store failures.
func WithLogger(log *zap.Logger) DatabaseOption {
	return func(d *Database) {
		if log != nil {
			d.log = log
		}
	}
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string, opts ...DatabaseOption) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Enable busy_timeout and foreign keys.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{
		db:      db,
		dialect: goqu.Dialect("sqlite3"),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(database)
	}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	for _, stmt := range []*sqlx.Stmt{d.addUserStmt, d.addWaitlistStmt, d.touchLastLoginStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

var defaultPlans = []SubscriptionPlan{
	{Name: "Basic Plan", Price: 9.99, DurationMonths: 1, Description: "Monthly access to library resources"},
	{Name: "Standard Plan", Price: 19.99, DurationMonths: 3, Description: "Quarterly access with additional benefits"},
	{Name: "Premium Plan", Price: 29.99, DurationMonths: 12, Description: "Full year access with all features"},
}

func applyMigrations(db *sqlx.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT UNIQUE NOT NULL,
            password TEXT NOT NULL,
            email TEXT UNIQUE NOT NULL,
            is_admin BOOLEAN NOT NULL DEFAULT 0,
            created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            last_login TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS subscription_plans (
            id INTEGER PRIMARY KEY,
            name TEXT UNIQUE NOT NULL,
            price REAL NOT NULL,
            duration_months INTEGER NOT NULL,
            description TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS user_subscriptions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL REFERENCES users(username),
            plan_id INTEGER NOT NULL REFERENCES subscription_plans(id),
            start_date DATETIME NOT NULL,
            end_date DATETIME NOT NULL,
            payment_status TEXT NOT NULL,
            payment_reference TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS catalog (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            catalog_code TEXT NOT NULL,
            call_number TEXT NOT NULL,
            acquisition_date DATE NOT NULL,
            keywords TEXT NOT NULL DEFAULT '',
            editor_id TEXT NOT NULL DEFAULT '',
            theme_id TEXT NOT NULL DEFAULT '',
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            publisher TEXT NOT NULL,
            quantity INTEGER NOT NULL DEFAULT 1
        );`,
		// catalog_code is not unique, so loans and waitlist carry no FK to it.
		`CREATE TABLE IF NOT EXISTS loans (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            subscriber_id INTEGER NOT NULL REFERENCES users(id),
            catalog_code TEXT NOT NULL,
            loan_date DATE NOT NULL,
            return_date DATE NOT NULL,
            is_renewed BOOLEAN NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS waitlist (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            subscriber_id INTEGER NOT NULL REFERENCES users(id),
            catalog_code TEXT NOT NULL,
            request_date DATE NOT NULL,
            priority_date DATE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_code ON catalog(catalog_code);`,
		`CREATE INDEX IF NOT EXISTS idx_loans_subscriber_code ON loans(subscriber_id, catalog_code);`,
		`CREATE INDEX IF NOT EXISTS idx_loans_code ON loans(catalog_code);`,
		`CREATE INDEX IF NOT EXISTS idx_waitlist_code_request ON waitlist(catalog_code, request_date, id);`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_end ON user_subscriptions(username, end_date);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	for _, p := range defaultPlans {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO subscription_plans(name,price,duration_months,description) VALUES(?,?,?,?)`,
			p.Name, p.Price, p.DurationMonths, p.Description); err != nil {
			return fmt.Errorf("seed plans: %w", err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.addUserStmt, err = d.db.Preparex(`INSERT INTO users(username,password,email,is_admin) VALUES(?,?,?,?)`); err != nil {
		return err
	}
	if d.addWaitlistStmt, err = d.db.Preparex(`INSERT INTO waitlist(subscriber_id,catalog_code,request_date) VALUES(?,?,?)`); err != nil {
		return err
	}
	if d.touchLastLoginStmt, err = d.db.Preparex(`UPDATE users SET last_login=? WHERE username=?`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Error helpers
// ---------------------------------------------------------------------------

// fail logs an unexpected storage error and wraps it in a StoreError.
func (d *Database) fail(op string, err error, fields ...zap.Field) error {
	d.log.Error("store operation failed", append([]zap.Field{zap.String("op", op), zap.Error(err)}, fields...)...)
	return storeErr(op, err)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

const userColumns = `id,username,password,email,is_admin,created_at,last_login`

// AddUser inserts a user. Duplicate usernames or emails yield ErrConflict.
func (d *Database) AddUser(ctx context.Context, u *User) (int64, error) {
	res, err := d.addUserStmt.ExecContext(ctx, u.Username, u.PasswordHash, u.Email, u.IsAdmin)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("user %s or email %s: %w", u.Username, u.Email, ErrConflict)
		}
		return 0, d.fail("add user", err, zap.String("username", u.Username))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, d.fail("add user", err)
	}
	u.ID = id
	return id, nil
}

// RegisterUser inserts a user and their first subscription in one transaction.
func (d *Database) RegisterUser(ctx context.Context, u *User, sub *Subscription) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return d.fail("register user", err)
	}
	defer tx.Rollback()

	res, err := tx.StmtxContext(ctx, d.addUserStmt).ExecContext(ctx, u.Username, u.PasswordHash, u.Email, u.IsAdmin)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s or email %s: %w", u.Username, u.Email, ErrConflict)
		}
		return d.fail("register user", err, zap.String("username", u.Username))
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return d.fail("register user", err)
	}

	if sub != nil {
		sub.Username = u.Username
		if sub.ID, err = insertSubscription(ctx, tx, sub); err != nil {
			return d.fail("register user", err, zap.String("username", u.Username))
		}
	}

	if err := tx.Commit(); err != nil {
		return d.fail("register user", err)
	}
	return nil
}

// GetUser fetches a user by username.
func (d *Database) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	err := d.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE username=?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, d.fail("get user", err, zap.String("username", username))
	}
	return &u, nil
}

// GetUserByID fetches a user by numeric id.
func (d *Database) GetUserByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := d.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, d.fail("get user by id", err, zap.Int64("user_id", id))
	}
	return &u, nil
}

// GetAllUsers returns all users ordered by id.
func (d *Database) GetAllUsers(ctx context.Context) ([]*User, error) {
	var users []*User
	if err := d.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, d.fail("list users", err)
	}
	return users, nil
}

// UpdateLastLogin stamps the user's last login time.
func (d *Database) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	res, err := d.touchLastLoginStmt.ExecContext(ctx, at.UTC().Truncate(time.Second), username)
	if err != nil {
		return d.fail("update last login", err, zap.String("username", username))
	}
	if n, err := res.RowsAffected(); err != nil {
		return d.fail("update last login", err)
	} else if n == 0 {
		return fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Plans and subscriptions
// ---------------------------------------------------------------------------

// GetSubscriptionPlans returns all plans ordered by id.
func (d *Database) GetSubscriptionPlans(ctx context.Context) ([]*SubscriptionPlan, error) {
	var plans []*SubscriptionPlan
	if err := d.db.SelectContext(ctx, &plans, `SELECT id,name,price,duration_months,description FROM subscription_plans ORDER BY id`); err != nil {
		return nil, d.fail("list plans", err)
	}
	return plans, nil
}

// GetPlanByName fetches a plan by its unique name.
func (d *Database) GetPlanByName(ctx context.Context, name string) (*SubscriptionPlan, error) {
	var p SubscriptionPlan
	err := d.db.GetContext(ctx, &p, `SELECT id,name,price,duration_months,description FROM subscription_plans WHERE name=?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, d.fail("get plan", err, zap.String("plan", name))
	}
	return &p, nil
}

func insertSubscription(ctx context.Context, ex sqlx.ExecerContext, s *Subscription) (int64, error) {
	res, err := ex.ExecContext(ctx,
		`INSERT INTO user_subscriptions(username,plan_id,start_date,end_date,payment_status,payment_reference) VALUES(?,?,?,?,?,?)`,
		s.Username, s.PlanID, s.StartDate.UTC().Truncate(time.Second), s.EndDate.UTC().Truncate(time.Second),
		s.PaymentStatus, s.PaymentReference)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AddSubscription records a subscription.
func (d *Database) AddSubscription(ctx context.Context, s *Subscription) (int64, error) {
	id, err := insertSubscription(ctx, d.db, s)
	if err != nil {
		return 0, d.fail("add subscription", err, zap.String("username", s.Username))
	}
	s.ID = id
	return id, nil
}

const subscriptionSelect = `SELECT us.id, us.username, us.plan_id, sp.name AS plan_name, us.start_date, us.end_date,
        us.payment_status, us.payment_reference
    FROM user_subscriptions us
    JOIN subscription_plans sp ON us.plan_id = sp.id`

// GetCurrentSubscription returns the active subscription with the latest end
// date still after now, or ErrNotFound.
func (d *Database) GetCurrentSubscription(ctx context.Context, username string, now time.Time) (*Subscription, error) {
	var s Subscription
	err := d.db.GetContext(ctx, &s, subscriptionSelect+`
        WHERE us.username = ? AND us.end_date > ? AND us.payment_status = ?
        ORDER BY us.end_date DESC
        LIMIT 1`, username, now.UTC().Truncate(time.Second), PaymentStatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("current subscription for %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, d.fail("get current subscription", err, zap.String("username", username))
	}
	return &s, nil
}

// GetSubscriptions returns a user's subscription history, newest first.
func (d *Database) GetSubscriptions(ctx context.Context, username string) ([]*Subscription, error) {
	var subs []*Subscription
	if err := d.db.SelectContext(ctx, &subs, subscriptionSelect+` WHERE us.username = ? ORDER BY us.end_date DESC, us.id DESC`, username); err != nil {
		return nil, d.fail("list subscriptions", err, zap.String("username", username))
	}
	return subs, nil
}
