package push

import (
	"context"
	"fmt"

	"github.com/alumnihub/alumnihub/internal/model"
)

// ActiveSubscriptionLister returns subscriptions that are not revoked.
type ActiveSubscriptionLister interface {
	ListActive(ctx context.Context) ([]model.PushSubscription, error)
}

// OptOutLister returns members who disabled a topic on a channel.
type OptOutLister interface {
	OptedOutMemberIDs(ctx context.Context, channel, topic string) ([]int64, error)
}

// Eligibility resolves which subscriptions should receive a topic on the
// web push channel. The full active set is loaded on every call.
type Eligibility struct {
	subs  ActiveSubscriptionLister
	prefs OptOutLister
}

func NewEligibility(subs ActiveSubscriptionLister, prefs OptOutLister) *Eligibility {
	return &Eligibility{subs: subs, prefs: prefs}
}

// OptedOutMemberIDs returns the members who turned topic off.
func (e *Eligibility) OptedOutMemberIDs(ctx context.Context, topic string) (map[int64]struct{}, error) {
	ids, err := e.prefs.OptedOutMemberIDs(ctx, model.ChannelWebPush, topic)
	if err != nil {
		return nil, fmt.Errorf("opted-out members: %w", err)
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// EligibleSubscriptions returns active subscriptions minus those owned by
// opted-out members. Anonymous subscriptions are always included.
func (e *Eligibility) EligibleSubscriptions(ctx context.Context, topic string) ([]model.PushSubscription, error) {
	optedOut, err := e.OptedOutMemberIDs(ctx, topic)
	if err != nil {
		return nil, err
	}

	active, err := e.subs.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("active subscriptions: %w", err)
	}

	eligible := make([]model.PushSubscription, 0, len(active))
	for _, sub := range active {
		if sub.MemberID != nil {
			if _, out := optedOut[*sub.MemberID]; out {
				continue
			}
		}
		eligible = append(eligible, sub)
	}
	return eligible, nil
}
