package notifier

import (
	"context"
	"fmt"
)

// ResolveRecipients returns explicit unchanged when it is non-nil (an empty slice
// means "nobody"). A nil slice resolves every subscriber of (tenant, name) in the
// order the store returns them.
func ResolveRecipients(ctx context.Context, store SubscriptionStore, n Notification, explicit []Recipient) ([]Recipient, error) {
	if explicit != nil {
		return explicit, nil
	}
	if store == nil {
		return nil, fmt.Errorf("%w: no subscription store", ErrResolution)
	}
	subs, err := store.GetSubscriptions(ctx, n.TenantID, n.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolution, err)
	}
	out := make([]Recipient, 0, len(subs))
	for _, s := range subs {
		out = append(out, Recipient{ID: s.UserID, DisplayName: s.UserName})
	}
	return out, nil
}
