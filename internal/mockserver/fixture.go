// Fixture recording/replay for integration-style tests against a real
// upstream, backed by go-vcr (spec §6: FIXTURE_RECORD=1). This wires
// gopkg.in/dnaeon/go-vcr.v4 — a dependency the teacher's go.mod carries
// but never imports — into an actual role in this project: cassette
// recording for the provider dialects' wire format tests.
package mockserver

import (
	"bytes"
	"io"
	"net/http"
	"os"

	"gopkg.in/dnaeon/go-vcr.v4/pkg/cassette"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"
)

// NewFixtureClient returns an *http.Client backed by a cassette at
// testdata/fixtures/<name>. With FIXTURE_RECORD=1 set, real HTTP calls
// are made and recorded into the cassette; otherwise the cassette is
// replayed and no network call ever leaves the process. The returned
// stop func must be called (typically via defer) to flush/close the
// cassette.
func NewFixtureClient(name string) (*http.Client, func() error, error) {
	mode := recorder.ModeReplayOnly
	if os.Getenv("FIXTURE_RECORD") == "1" {
		mode = recorder.ModeRecordOnly
	}

	rec, err := recorder.New("testdata/fixtures/"+name, recorder.WithMode(mode))
	if err != nil {
		return nil, nil, err
	}

	// Requests are matched on method + URL + body so that two distinct
	// prompts against the same endpoint don't collide on replay.
	rec.SetMatcher(func(r *http.Request, i cassette.Request) bool {
		if r.Method != i.Method || r.URL.String() != i.URL {
			return false
		}
		if r.Body == nil {
			return i.Body == ""
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return false
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		return string(body) == i.Body
	})

	return &http.Client{Transport: rec}, rec.Stop, nil
}
