// policy/pipeline_test.go
package policy

import (
	"context"
	"testing"
	"time"

	"relay-warden/config"
	"relay-warden/list"
	"relay-warden/testutils"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

// panickingFilter simulates an unexpected internal fault while deciding.
type panickingFilter struct{}

func (panickingFilter) Name() string { return "PanickingFilter" }
func (panickingFilter) Check(ctx context.Context, ev *nostr.Event, remoteIP string) *Result {
	panic("boom")
}

func buildTestPipeline(t *testing.T, lists *list.Cache, cfg *config.Config) *Pipeline {
	t.Helper()
	stages := []Filter{
		NewDenyListFilter(lists, &cfg.Lists.Deny),
		NewAllowListFilter(lists, &cfg.Lists.Allow),
		NewRateLimiterFilter(&cfg.RateLimit),
		NewContentFilter(lists, &cfg.Content),
	}
	return NewPipeline(cfg, stages, nil)
}

func TestPipeline_DenyOverridesAllow(t *testing.T) {
	now := time.Now()
	user := "abc0bf246fb1265edf35a80e2be592025e8d812fc38e0e9cf5c63091a4639d85"

	lists := list.NewCache()
	lists.Replace(list.Allow, list.NewSnapshot([]string{user}, "test", now))
	lists.Replace(list.Deny, list.NewSnapshot([]string{user}, "test", now))

	cfg := &config.Config{}
	cfg.Lists.Allow.Enabled = true
	cfg.Lists.Deny.Action = config.ActionReject

	p := buildTestPipeline(t, lists, cfg)
	ev := testutils.MakeTextNote(user, "hello", now)

	res := p.ProcessEvent(context.Background(), ev, "", false)
	require.Equal(t, ActionReject, res.Action)
	require.Contains(t, res.Msg, "blacklisted")
}

func TestPipeline_AllowGatingBeforeRateAndContent(t *testing.T) {
	now := time.Now()
	member := "aaa0bf246fb1265edf35a80e2be592025e8d812fc38e0e9cf5c63091a4639d85"

	lists := list.NewCache()
	lists.Replace(list.Allow, list.NewSnapshot([]string{member}, "test", now))
	lists.Replace(list.Words, list.NewSnapshot([]string{"spam"}, "test", now))

	cfg := &config.Config{}
	cfg.Lists.Allow.Enabled = true
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, Capacity: 5, Window: time.Minute, Cooldown: time.Minute}
	cfg.Content = config.ContentConfig{Enabled: true, MaxLinks: 3, Action: config.ActionReject}

	p := buildTestPipeline(t, lists, cfg)

	// An outsider is rejected by the allow-list stage; the rejection reason
	// must be whitelisting, not the spam content it also carries.
	outsider := testutils.MakeTextNote("bbb0bf246fb1265edf35a80e2be592025e8d812fc38e0e9cf5c63091a4639d85", "spam spam spam", now)
	res := p.ProcessEvent(context.Background(), outsider, "", false)
	require.Equal(t, ActionReject, res.Action)
	require.Contains(t, res.Msg, "whitelisted")

	// The member passes identity gating and is then caught by content.
	insider := testutils.MakeTextNote(member, "spam spam spam", now)
	res = p.ProcessEvent(context.Background(), insider, "", false)
	require.Equal(t, ActionReject, res.Action)
	require.Contains(t, res.Msg, "banned word")
}

func TestPipeline_MissingPubkeyFailsClosed(t *testing.T) {
	now := time.Now()
	lists := list.NewCache()
	lists.Replace(list.Allow, list.NewSnapshot([]string{testutils.TestPubKey}, "test", now))

	cfg := &config.Config{}
	cfg.Lists.Allow.Enabled = true

	p := buildTestPipeline(t, lists, cfg)
	ev := testutils.MakeEvent(nostr.KindTextNote, "hello", "", now)

	res := p.ProcessEvent(context.Background(), ev, "", false)
	require.Equal(t, ActionReject, res.Action)
}

func TestPipeline_CleanEventAccepted(t *testing.T) {
	now := time.Now()
	lists := list.NewCache()

	cfg := &config.Config{}
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, Capacity: 5, Window: time.Minute, Cooldown: time.Minute}
	cfg.Content = config.ContentConfig{Enabled: true, MaxLinks: 3, Action: config.ActionReject}

	p := buildTestPipeline(t, lists, cfg)
	ev := testutils.MakeTextNote(testutils.TestPubKey, "gm", now)

	res := p.ProcessEvent(context.Background(), ev, "", false)
	require.Equal(t, ActionAccept, res.Action)
	require.Empty(t, res.Msg)
	require.Equal(t, ev.ID, res.ID)
}

func TestPipeline_PanicFailsClosed(t *testing.T) {
	cfg := &config.Config{}
	p := NewPipeline(cfg, []Filter{panickingFilter{}}, nil)
	ev := testutils.MakeTextNote(testutils.TestPubKey, "hello", time.Now())

	res := p.ProcessEvent(context.Background(), ev, "", false)
	require.Equal(t, ActionReject, res.Action)
	require.Contains(t, res.Msg, "internal")
}

func TestPipeline_DryRunAcceptsButLogs(t *testing.T) {
	now := time.Now()
	lists := list.NewCache()
	lists.Replace(list.Deny, list.NewSnapshot([]string{testutils.TestPubKey}, "test", now))

	cfg := &config.Config{}
	cfg.Lists.Deny.Action = config.ActionReject

	p := buildTestPipeline(t, lists, cfg)
	ev := testutils.MakeTextNote(testutils.TestPubKey, "hello", now)

	res := p.ProcessEvent(context.Background(), ev, "", true)
	require.Equal(t, ActionAccept, res.Action)
	require.Empty(t, res.Msg)
}
