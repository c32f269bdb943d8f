package timeline

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irkit/collectors"
	"irkit/collectors/demo"
	"irkit/collectors/system"
	"irkit/evidence"
)

var now = time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)

func demoBundle(t *testing.T, fs afero.Fs, dir string) {
	t.Helper()
	rc := collectors.RunContext{SessionID: "s1", Mode: collectors.ModeDemo, Now: func() time.Time { return now }}
	var recs []collectors.Record
	for _, c := range demo.Collectors() {
		recs = append(recs, collectors.Run(context.Background(), c, rc, collectors.RunOptions{}))
	}
	m, err := evidence.Seal(evidence.SealInput{SessionID: "s1", Mode: collectors.ModeDemo, Host: system.Demo(), GeneratedAt: now.Add(time.Second), Records: recs})
	require.NoError(t, err)
	for i, rec := range recs {
		b, err := evidence.EncodeArtifact(rec)
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, m.Records[i].File), b, 0o600))
	}
	mb, err := m.Encode()
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, evidence.ManifestFile), mb, 0o600))
}

func count(events []Event, typ string) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestBuild(t *testing.T) {
	fs := afero.NewMemMapFs()
	demoBundle(t, fs, "/b")

	events, err := Build(context.Background(), fs, "/b")
	require.NoError(t, err)

	assert.Equal(t, 5, count(events, TypeArtifactCollected))
	assert.Equal(t, demo.ProcessCount, count(events, TypeProcessStarted))
	assert.Equal(t, demo.RecentFileCount, count(events, TypeFileModified))
	assert.Equal(t, 1, count(events, TypeSessionSealed))

	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].at.Before(events[i-1].at), "events out of order at %d", i)
	}
	assert.Equal(t, TypeSessionSealed, events[len(events)-1].Type)
}

func TestBuildMissingManifest(t *testing.T) {
	_, err := Build(context.Background(), afero.NewMemMapFs(), "/nothing")
	assert.Error(t, err)
}

func TestWriteJSONL(t *testing.T) {
	var buf bytes.Buffer
	events := []Event{
		newEvent("2024-01-15T10:00:00Z", TypeProcessStarted, Event{Subject: "sshd"}),
		newEvent("2024-01-15T10:05:00Z", TypeFileModified, Event{Subject: "/tmp/a&b"}),
	}
	require.NoError(t, WriteJSONL(&buf, events))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var e map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &e))
	assert.Equal(t, "/tmp/a&b", e["subject"])
	assert.Contains(t, lines[1], "a&b")
}
