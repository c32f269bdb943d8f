// Package timeline orders the timestamps found in a written bundle into one
// event stream.
package timeline

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"

	"irkit/evidence"
)

const (
	TypeArtifactCollected = "artifact_collected"
	TypeProcessStarted    = "process_started"
	TypeFileModified      = "file_modified"
	TypeSessionSealed     = "session_sealed"
)

type Event struct {
	Time      string            `json:"time"`
	Type      string            `json:"type"`
	Collector string            `json:"collector,omitempty"`
	Artifact  string            `json:"artifact,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	at time.Time
}

// Build reads the bundle in dir and returns its events in time order. Events
// with equal times keep bundle order.
func Build(ctx context.Context, fs afero.Fs, dir string) ([]Event, error) {
	mb, err := afero.ReadFile(fs, filepath.Join(dir, evidence.ManifestFile))
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	if !gjson.ValidBytes(mb) {
		return nil, errors.Errorf("%s: invalid JSON", evidence.ManifestFile)
	}
	manifest := gjson.ParseBytes(mb)

	var events []Event
	for _, entry := range manifest.Get("records").Array() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file := entry.Get("file").String()
		b, err := afero.ReadFile(fs, filepath.Join(dir, file))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", file)
		}
		events = append(events, artifactEvents(file, gjson.ParseBytes(b))...)
	}

	events = append(events, newEvent(manifest.Get("generated_at").String(), TypeSessionSealed, Event{
		Metadata: map[string]string{
			"session_id":    manifest.Get("session_id").String(),
			"bundle_digest": manifest.Get("bundle_digest").String(),
		},
	}))

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].at.Before(events[j].at)
	})
	return events, nil
}

func artifactEvents(file string, rec gjson.Result) []Event {
	collector := rec.Get("collector_id").String()
	events := []Event{newEvent(rec.Get("collected_at").String(), TypeArtifactCollected, Event{
		Collector: collector,
		Artifact:  file,
		Metadata: map[string]string{
			"status": rec.Get("status").String(),
			"rows":   rec.Get("payload.#").String(),
		},
	})}

	rec.Get("payload").ForEach(func(_, row gjson.Result) bool {
		if start := row.Get("start_time").String(); start != "" {
			events = append(events, newEvent(start, TypeProcessStarted, Event{
				Collector: collector,
				Artifact:  file,
				Subject:   row.Get("name").String(),
				Metadata: map[string]string{
					"pid":          row.Get("pid").String(),
					"command_line": row.Get("command_line").String(),
				},
			}))
		}
		if row.Get("kind").String() == "recent_file" && row.Get("mod_time").String() != "" {
			events = append(events, newEvent(row.Get("mod_time").String(), TypeFileModified, Event{
				Collector: collector,
				Artifact:  file,
				Subject:   row.Get("path").String(),
				Metadata:  map[string]string{"size_bytes": row.Get("size_bytes").String()},
			}))
		}
		return true
	})
	return events
}

func newEvent(ts, typ string, e Event) Event {
	e.Time = ts
	e.Type = typ
	e.at, _ = time.Parse(time.RFC3339Nano, ts)
	return e
}

// WriteJSONL writes one JSON object per event.
func WriteJSONL(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
