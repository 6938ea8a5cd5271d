package push

import (
	"context"
	"testing"

	"github.com/alumnihub/alumnihub/internal/model"
	"github.com/alumnihub/alumnihub/internal/vault"
)

func TestEligibleSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.member(t, "alice@example.com")
	bob := env.member(t, "bob@example.com")
	carol := env.member(t, "carol@example.com")

	aliceEP := env.subscribe(t, "alice", &alice)
	bobEP := env.subscribe(t, "bob", &bob)
	anonEP := env.subscribe(t, "anon", nil)
	carolEP := env.subscribe(t, "carol", &carol)

	// Bob opts out of event reminders, carol only of another topic.
	if err := env.prefs.SetPreference(ctx, bob, model.ChannelWebPush, model.TopicEvent, false); err != nil {
		t.Fatalf("set preference: %v", err)
	}
	env.prefs.SetPreference(ctx, carol, model.ChannelWebPush, "newsletter", false)
	// Alice revoked her subscription.
	env.registry.Unsubscribe(ctx, aliceEP)

	subs, err := NewEligibility(env.subs, env.prefs).EligibleSubscriptions(ctx, model.TopicEvent)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}

	got := map[string]bool{}
	for _, s := range subs {
		got[s.EndpointHash] = true
	}
	if got[vault.HashEndpoint(aliceEP)] {
		t.Error("revoked subscription should be excluded")
	}
	if got[vault.HashEndpoint(bobEP)] {
		t.Error("opted-out member should be excluded")
	}
	if !got[vault.HashEndpoint(anonEP)] {
		t.Error("anonymous subscription should be included")
	}
	if !got[vault.HashEndpoint(carolEP)] {
		t.Error("member opted out of another topic should be included")
	}
	if len(subs) != 2 {
		t.Errorf("eligible = %d, want 2", len(subs))
	}
}

func TestOptedOutMemberIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.member(t, "m@example.com")

	e := NewEligibility(env.subs, env.prefs)
	out, err := e.OptedOutMemberIDs(ctx, model.TopicEvent)
	if err != nil {
		t.Fatalf("opted out: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("opted out = %v, want none by default", out)
	}

	env.prefs.SetPreference(ctx, m, model.ChannelWebPush, model.TopicEvent, false)
	out, _ = e.OptedOutMemberIDs(ctx, model.TopicEvent)
	if _, ok := out[m]; !ok {
		t.Error("member should be opted out")
	}

	env.prefs.SetPreference(ctx, m, model.ChannelWebPush, model.TopicEvent, true)
	out, _ = e.OptedOutMemberIDs(ctx, model.TopicEvent)
	if len(out) != 0 {
		t.Error("re-enabling should remove the opt-out")
	}
}
