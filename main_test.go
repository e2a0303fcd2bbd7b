package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"relay-warden/config"
	"relay-warden/list"
	"relay-warden/policy"
	"relay-warden/testutils"

	"github.com/stretchr/testify/require"
)

func installPipeline(t *testing.T, p *policy.Pipeline, onlyWrites bool) {
	t.Helper()
	pipelineMutex.Lock()
	currentPipeline = p
	writesOnly = onlyWrites
	pipelineMutex.Unlock()
}

func decodeResponses(t *testing.T, out *bytes.Buffer) []policy.PolicyResponse {
	t.Helper()
	var responses []policy.PolicyResponse
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var res policy.PolicyResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &res))
		responses = append(responses, res)
	}
	return responses
}

func inputLine(t *testing.T, reqType, id, pubkey, content string) string {
	t.Helper()
	line, err := json.Marshal(map[string]any{
		"type": reqType,
		"event": map[string]any{
			"id":         id,
			"pubkey":     pubkey,
			"content":    content,
			"created_at": time.Now().Unix(),
			"kind":       1,
			"tags":       [][]string{},
		},
	})
	require.NoError(t, err)
	return string(line)
}

func TestProcessEventsOneResponsePerParsedLine(t *testing.T) {
	denied := "bad0bf246fb1265edf35a80e2be592025e8d812fc38e0e9cf5c63091a4639d85"

	lists := list.NewCache()
	lists.Replace(list.Deny, list.NewSnapshot([]string{denied}, "test", time.Now()))

	cfg := &config.Config{}
	cfg.Lists.Deny.Action = config.ActionReject
	installPipeline(t, buildPipeline(cfg, lists, nil), true)

	input := strings.Join([]string{
		inputLine(t, "new", "ev1", testutils.TestPubKey, "hello"),
		"{{{ this line is not json",
		inputLine(t, "new", "ev2", denied, "hello"),
		inputLine(t, "req", "ev3", denied, ""),
		"",
	}, "\n")

	var out bytes.Buffer
	err := processEvents(context.Background(), strings.NewReader(input), &out, false)
	require.NoError(t, err)

	responses := decodeResponses(t, &out)
	// The unparseable line produces no output at all; every parsed line
	// produces exactly one, in order.
	require.Len(t, responses, 3)

	require.Equal(t, "ev1", responses[0].ID)
	require.Equal(t, policy.ActionAccept, responses[0].Action)
	require.Empty(t, responses[0].Msg)

	require.Equal(t, "ev2", responses[1].ID)
	require.Equal(t, policy.ActionReject, responses[1].Action)
	require.NotEmpty(t, responses[1].Msg)

	// Read traffic passes through untouched when writes_only is set, even
	// for a denied author.
	require.Equal(t, "ev3", responses[2].ID)
	require.Equal(t, policy.ActionAccept, responses[2].Action)
}

func TestProcessEventsDryRun(t *testing.T) {
	denied := "bad0bf246fb1265edf35a80e2be592025e8d812fc38e0e9cf5c63091a4639d85"

	lists := list.NewCache()
	lists.Replace(list.Deny, list.NewSnapshot([]string{denied}, "test", time.Now()))

	cfg := &config.Config{}
	cfg.Lists.Deny.Action = config.ActionReject
	installPipeline(t, buildPipeline(cfg, lists, nil), true)

	var out bytes.Buffer
	input := inputLine(t, "new", "ev1", denied, "hello") + "\n"
	err := processEvents(context.Background(), strings.NewReader(input), &out, true)
	require.NoError(t, err)

	responses := decodeResponses(t, &out)
	require.Len(t, responses, 1)
	require.Equal(t, policy.ActionAccept, responses[0].Action)
}

func TestProcessEventsShutdownExitsClean(t *testing.T) {
	cfg := &config.Config{}
	installPipeline(t, buildPipeline(cfg, list.NewCache(), nil), true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A reader that never delivers a line, like an idle relay: shutdown must
	// come from the cancelled context and must not be reported as an error.
	pr, pw := io.Pipe()
	defer pw.Close()

	var out bytes.Buffer
	require.NoError(t, processEvents(ctx, pr, &out, false))
	require.Zero(t, out.Len())
}

func TestBuildRefresherRejectsBadSource(t *testing.T) {
	cfg := &config.Config{}
	cfg.Lists.Allow.Source = "https://example.com/.well-known/nostr.json"
	cfg.Lists.Allow.Format = "csv"

	_, err := buildRefresher(cfg, list.NewCache(), nil, nil)
	require.Error(t, err)
}

func TestBuildRefresherWiresConfiguredLists(t *testing.T) {
	cfg := &config.Config{}
	cfg.Lists.Allow.Source = "https://example.com/.well-known/nostr.json"
	cfg.Lists.Allow.Format = "nip05"
	cfg.Lists.Deny.Source = "file:///tmp/blocked.txt"
	cfg.Lists.Deny.Format = "lines"

	_, err := buildRefresher(cfg, list.NewCache(), nil, nil)
	require.NoError(t, err)
}
