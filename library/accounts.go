package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// initialSubscriptionDays is the length of the Basic Plan granted on registration.
const initialSubscriptionDays = 30

// Register creates a user and starts them on the first (Basic) plan for
// initialSubscriptionDays. Duplicate usernames or emails yield ErrConflict.
func (lm *LibraryManager) Register(ctx context.Context, r Registration) (*User, error) {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	if err := validateStruct(r); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), lm.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	plans, err := lm.db.GetSubscriptionPlans(ctx)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("no subscription plans: %w", ErrNotFound)
	}
	basic := plans[0]

	start := lm.now()
	user := &User{Username: r.Username, Email: r.Email, PasswordHash: string(hash)}
	sub := &Subscription{
		PlanID:        basic.ID,
		PlanName:      basic.Name,
		StartDate:     start,
		EndDate:       start.AddDate(0, 0, initialSubscriptionDays),
		PaymentStatus: PaymentStatusActive,
	}
	if err := lm.db.RegisterUser(ctx, user, sub); err != nil {
		return nil, err
	}

	lm.metrics.subscriptionStarted(basic.Name)
	lm.log.Info("user registered", zap.String("username", user.Username), zap.Int64("user_id", user.ID))
	return user, nil
}

// Login checks the password and stamps the last login time.
func (lm *LibraryManager) Login(ctx context.Context, username, password string) (*User, error) {
	user, err := lm.db.GetUser(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		lm.log.Info("login rejected", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}

	now := lm.now()
	if err := lm.db.UpdateLastLogin(ctx, username, now); err != nil {
		return nil, err
	}
	user.LastLogin = &now
	return user, nil
}

// EnsureAdmin creates the administrative account if no user has that name.
func (lm *LibraryManager) EnsureAdmin(ctx context.Context, username, email, password string) error {
	_, err := lm.db.GetUser(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), lm.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := lm.db.AddUser(ctx, &User{Username: username, Email: email, PasswordHash: string(hash), IsAdmin: true}); err != nil {
		return err
	}
	lm.log.Info("admin account created", zap.String("username", username))
	return nil
}

func (lm *LibraryManager) GetUser(ctx context.Context, username string) (*User, error) {
	return lm.db.GetUser(ctx, username)
}

func (lm *LibraryManager) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return lm.db.GetUserByID(ctx, id)
}

func (lm *LibraryManager) GetAllUsers(ctx context.Context) ([]*User, error) {
	return lm.db.GetAllUsers(ctx)
}
