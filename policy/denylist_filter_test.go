// policy/denylist_filter_test.go
package policy

import (
	"context"
	"testing"
	"time"

	"relay-warden/config"
	"relay-warden/list"
	"relay-warden/testutils"

	"github.com/stretchr/testify/require"
)

func TestDenyListFilter(t *testing.T) {
	now := time.Now()
	banned := "bad0bf246fb1265edf35a80e2be592025e8d812fc38e0e9cf5c63091a4639d85"
	bannedIP := "203.0.113.7"

	testCases := []struct {
		name     string
		entries  []string
		action   string
		pubkey   string
		remoteIP string
		expected string
	}{
		{
			name:     "Empty deny list accepts",
			entries:  nil,
			action:   config.ActionReject,
			pubkey:   banned,
			expected: ActionAccept,
		},
		{
			name:     "Denied pubkey is rejected",
			entries:  []string{banned},
			action:   config.ActionReject,
			pubkey:   banned,
			expected: ActionReject,
		},
		{
			name:     "Denied pubkey matches case-insensitively",
			entries:  []string{banned},
			action:   config.ActionReject,
			pubkey:   "BAD0BF246FB1265EDF35A80E2BE592025E8D812FC38E0E9CF5C63091A4639D85",
			expected: ActionReject,
		},
		{
			name:     "Denied source address is rejected",
			entries:  []string{bannedIP},
			action:   config.ActionReject,
			pubkey:   testutils.TestPubKey,
			remoteIP: bannedIP,
			expected: ActionReject,
		},
		{
			name:     "Denied source address matches case-insensitively",
			entries:  []string{"2001:db8::bad:cafe"},
			action:   config.ActionReject,
			pubkey:   testutils.TestPubKey,
			remoteIP: "2001:DB8::BAD:CAFE",
			expected: ActionReject,
		},
		{
			name:     "Delete action under moderation policy",
			entries:  []string{banned},
			action:   config.ActionDelete,
			pubkey:   banned,
			expected: ActionDelete,
		},
		{
			name:     "Unlisted pubkey passes",
			entries:  []string{banned},
			action:   config.ActionReject,
			pubkey:   testutils.TestPubKey,
			remoteIP: "198.51.100.1",
			expected: ActionAccept,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			lists := list.NewCache()
			lists.Replace(list.Deny, list.NewSnapshot(tc.entries, "test", now))

			filter := NewDenyListFilter(lists, &config.DenyListConfig{Action: tc.action})
			ev := testutils.MakeTextNote(tc.pubkey, "hello", now)

			res := filter.Check(context.Background(), ev, tc.remoteIP)
			require.Equal(t, tc.expected, res.Action)
		})
	}
}
