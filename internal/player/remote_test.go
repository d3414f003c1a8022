package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dovewarden/jukebox/internal/song"
)

// TestRemotePlaySuccess verifies the play command sent to the daemon
func TestRemotePlaySuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/play" {
			t.Errorf("expected path /play, got %s", r.URL.Path)
		}

		user, pass, ok := r.BasicAuth()
		if !ok || user != "jukebox" || pass != "testpass" {
			t.Errorf("unexpected credentials: %s:%s", user, pass)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type: %s", r.Header.Get("Content-Type"))
		}

		var payload [][]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode request: %v", err)
			return
		}
		if len(payload) != 1 || len(payload[0]) != 3 {
			t.Errorf("unexpected payload shape: %v", payload)
			return
		}
		var s song.Song
		if err := json.Unmarshal(payload[0][1], &s); err != nil {
			t.Errorf("failed to decode song: %v", err)
		}
		if s.Title != "Heroes" || s.DurationSeconds != 371 {
			t.Errorf("unexpected song %+v", s)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `[["ok",{"played_ms":371000},"jukebox-play"]]`)
	}))
	defer server.Close()

	p := NewRemotePlayer(server.URL, "testpass", testLogger())
	if err := p.Play(context.Background(), song.Song{Title: "Heroes", Artist: "David Bowie", DurationSeconds: 371}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRemotePlayErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusInternalServerError, "boom", "status 500"},
		{"error entry", http.StatusOK, `[["error",{"type":"unknownTrack","code":404},"jukebox-play"]]`, "unknownTrack"},
		{"error without payload", http.StatusOK, `[["error",null,"jukebox-play"]]`, "unknown reason"},
		{"malformed", http.StatusOK, `{"not":"an array"}`, "failed to parse response"},
		{"short entry", http.StatusOK, `[["ok"]]`, "failed to parse response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			p := NewRemotePlayer(server.URL, "", testLogger())
			err := p.Play(context.Background(), song.Song{Title: "x"})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestRemotePlayIgnoresSuccessPayload verifies only the status of a successful
// entry matters, whatever the daemon puts in its payload.
func TestRemotePlayIgnoresSuccessPayload(t *testing.T) {
	for _, body := range []string{
		`[["ok",{"played_ms":1000},"jukebox-play"]]`,
		`[["ok","finished","jukebox-play"]]`,
		`[["ok",null,"jukebox-play"]]`,
		`[]`,
	} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprint(w, body)
		}))

		p := NewRemotePlayer(server.URL, "", testLogger())
		err := p.Play(context.Background(), song.Song{Title: "x"})
		server.Close()
		if err != nil {
			t.Fatalf("body %s: unexpected error: %v", body, err)
		}
	}
}

// TestRemotePlayCancel verifies a skip aborts the in-flight play command.
func TestRemotePlayCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	p := NewRemotePlayer(server.URL, "", testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Play(ctx, song.Song{Title: "endless"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}
