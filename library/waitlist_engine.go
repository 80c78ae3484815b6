package library

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// WaitlistStore is the persistence the waitlist engine depends on.
type WaitlistStore interface {
	AddWaitlistEntry(ctx context.Context, e *WaitlistEntry) (int64, error)
	GetWaitlistByCatalogCode(ctx context.Context, catalogCode string) ([]*WaitlistEntry, error)
	GetWaitlistBySubscriber(ctx context.Context, subscriberID int64) ([]*WaitlistEntry, error)
	RemoveWaitlistEntries(ctx context.Context, subscriberID int64, catalogCode string) (int64, error)
	SetWaitlistPriority(ctx context.Context, entryID int64, at Date) (bool, error)
	ClearWaitlistPriority(ctx context.Context, catalogCode string) (int64, error)
	HasWaitlistRequest(ctx context.Context, catalogCode string, asOf Date) (bool, error)
}

// WaitlistEngine queues reservation requests per catalog code and promotes the
// longest-waiting request to priority.
//
// An entry moves enqueued -> promoted (priority date set) -> removed. Clearing
// priority returns promoted entries to enqueued.
type WaitlistEngine struct {
	store WaitlistStore
	cfg   engineConfig
}

// NewWaitlistEngine returns an engine backed by store.
func NewWaitlistEngine(store WaitlistStore, opts ...EngineOption) *WaitlistEngine {
	return &WaitlistEngine{store: store, cfg: newEngineConfig(opts)}
}

// AddRequest enqueues a request dated today. A subscriber may queue more than
// once for the same code.
func (w *WaitlistEngine) AddRequest(ctx context.Context, subscriberID int64, catalogCode string) (*WaitlistEntry, error) {
	entry := &WaitlistEntry{
		SubscriberID: subscriberID,
		CatalogCode:  catalogCode,
		RequestDate:  w.cfg.today(),
	}
	if _, err := w.store.AddWaitlistEntry(ctx, entry); err != nil {
		return nil, err
	}
	w.cfg.metrics.waitlistRequest()
	w.cfg.log.Info("waitlist request added",
		zap.Int64("subscriber_id", subscriberID),
		zap.String("catalog_code", catalogCode),
		zap.Stringer("request_date", entry.RequestDate))
	return entry, nil
}

// Waitlist returns the queue for a code, earliest request first.
func (w *WaitlistEngine) Waitlist(ctx context.Context, catalogCode string) ([]*WaitlistEntry, error) {
	return w.store.GetWaitlistByCatalogCode(ctx, catalogCode)
}

// RequestsBySubscriber returns the subscriber's pending requests.
func (w *WaitlistEngine) RequestsBySubscriber(ctx context.Context, subscriberID int64) ([]*WaitlistEntry, error) {
	return w.store.GetWaitlistBySubscriber(ctx, subscriberID)
}

// RemoveRequest deletes the subscriber's requests for the code and returns the
// number removed. Removing nothing is not an error.
func (w *WaitlistEngine) RemoveRequest(ctx context.Context, subscriberID int64, catalogCode string) (int64, error) {
	n, err := w.store.RemoveWaitlistEntries(ctx, subscriberID, catalogCode)
	if err != nil {
		return 0, err
	}
	w.cfg.log.Info("waitlist request removed",
		zap.Int64("subscriber_id", subscriberID),
		zap.String("catalog_code", catalogCode),
		zap.Int64("removed", n))
	return n, nil
}

// AssignPriority stamps today's date as the priority date of the earliest
// request for the code and returns its subscriber. ok is false when the queue
// is empty. The entry stays queued, so repeated calls pick it again until it
// is removed.
func (w *WaitlistEngine) AssignPriority(ctx context.Context, catalogCode string) (subscriberID int64, ok bool, err error) {
	today := w.cfg.today()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		entries, err := w.store.GetWaitlistByCatalogCode(ctx, catalogCode)
		if err != nil {
			return 0, false, err
		}
		if len(entries) == 0 {
			w.cfg.log.Debug("waitlist empty, nothing to promote", zap.String("catalog_code", catalogCode))
			return 0, false, nil
		}

		head := entries[0]
		updated, err := w.store.SetWaitlistPriority(ctx, head.ID, today)
		if err != nil {
			return 0, false, err
		}
		if updated {
			w.cfg.metrics.promotion()
			w.cfg.log.Info("waitlist priority assigned",
				zap.String("catalog_code", catalogCode),
				zap.Int64("subscriber_id", head.SubscriberID),
				zap.Int64("entry_id", head.ID))
			return head.SubscriberID, true, nil
		}
		// The head was removed after we read it; look again.
	}
	return 0, false, fmt.Errorf("assign priority on %q: %w", catalogCode, ErrConflict)
}

// ClearPriority unsets the priority date of every entry for the code.
func (w *WaitlistEngine) ClearPriority(ctx context.Context, catalogCode string) error {
	n, err := w.store.ClearWaitlistPriority(ctx, catalogCode)
	if err != nil {
		return err
	}
	w.cfg.log.Info("waitlist priority cleared", zap.String("catalog_code", catalogCode), zap.Int64("entries", n))
	return nil
}

// HasRequest reports whether any request for the code was made on or before asOf.
func (w *WaitlistEngine) HasRequest(ctx context.Context, catalogCode string, asOf Date) (bool, error) {
	return w.store.HasWaitlistRequest(ctx, catalogCode, asOf)
}
