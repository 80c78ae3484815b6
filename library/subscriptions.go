package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// daysPerMonth converts plan durations into subscription lengths.
const daysPerMonth = 30

// PaymentProcessor charges a card and returns a payment reference.
type PaymentProcessor interface {
	Charge(ctx context.Context, card CardDetails, amount float64) (string, error)
}

// SimulatedPayments accepts every well-formed card.
type SimulatedPayments struct{}

// Charge returns a fresh reference. Non-positive amounts are declined.
func (SimulatedPayments) Charge(_ context.Context, _ CardDetails, amount float64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: amount %.2f", ErrPaymentDeclined, amount)
	}
	return uuid.NewString(), nil
}

func (lm *LibraryManager) Plans(ctx context.Context) ([]*SubscriptionPlan, error) {
	return lm.db.GetSubscriptionPlans(ctx)
}

func (lm *LibraryManager) PlanByName(ctx context.Context, name string) (*SubscriptionPlan, error) {
	return lm.db.GetPlanByName(ctx, name)
}

// CurrentSubscription returns the user's latest active subscription that has
// not yet ended, or ErrNotFound.
func (lm *LibraryManager) CurrentSubscription(ctx context.Context, username string) (*Subscription, error) {
	return lm.db.GetCurrentSubscription(ctx, username, lm.now())
}

// SubscriptionHistory returns every subscription of the user, newest first.
func (lm *LibraryManager) SubscriptionHistory(ctx context.Context, username string) ([]*Subscription, error) {
	return lm.db.GetSubscriptions(ctx, username)
}

// Subscribe charges the card for the named plan and starts a subscription
// lasting DurationMonths*30 days from now.
func (lm *LibraryManager) Subscribe(ctx context.Context, username, planName string, card CardDetails) (*Subscription, error) {
	if _, err := lm.db.GetUser(ctx, username); err != nil {
		return nil, err
	}

	_, err := lm.db.GetCurrentSubscription(ctx, username, lm.now())
	switch {
	case err == nil:
		return nil, ErrActiveSubscription
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	plan, err := lm.db.GetPlanByName(ctx, planName)
	if err != nil {
		return nil, err
	}
	if err := validateStruct(card); err != nil {
		return nil, err
	}

	ref, err := lm.payments.Charge(ctx, card, plan.Price)
	if err != nil {
		lm.log.Warn("payment failed", zap.String("username", username), zap.String("plan", plan.Name), zap.Error(err))
		return nil, err
	}

	start := lm.now()
	sub := &Subscription{
		Username:         username,
		PlanID:           plan.ID,
		PlanName:         plan.Name,
		StartDate:        start,
		EndDate:          start.Add(time.Duration(plan.DurationMonths*daysPerMonth) * 24 * time.Hour),
		PaymentStatus:    PaymentStatusActive,
		PaymentReference: ref,
	}
	if _, err := lm.db.AddSubscription(ctx, sub); err != nil {
		return nil, err
	}

	lm.metrics.subscriptionStarted(plan.Name)
	lm.log.Info("subscription started",
		zap.String("username", username),
		zap.String("plan", plan.Name),
		zap.Time("end_date", sub.EndDate),
		zap.String("payment_reference", ref))
	return sub, nil
}
