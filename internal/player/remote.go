package player

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dovewarden/jukebox/internal/song"
)

const remoteTag = "jukebox-play"

// RemotePlayer hands songs to an external playback daemon over HTTP. The daemon
// answers a play command once the song has finished; cancelling ctx aborts the
// request, which the daemon treats as a stop.
type RemotePlayer struct {
	baseURL  string
	password string
	client   *http.Client
	logger   *slog.Logger
}

// NewRemotePlayer creates a player for the daemon at baseURL.
func NewRemotePlayer(baseURL, password string, logger *slog.Logger) *RemotePlayer {
	return &RemotePlayer{
		baseURL:  baseURL,
		password: password,
		client:   &http.Client{},
		logger:   logger,
	}
}

// RemoteError is an error entry returned by the daemon
// [ [ "error", {"type":"unknownTrack","code":404}, "jukebox-play" ] ]
type RemoteError struct {
	Type string `json:"type"`
	Code int    `json:"code"`
}

// remoteEntry models a single daemon response array.
type remoteEntry struct {
	Status string
	Error  *RemoteError
	Tag    string
}

func (r *remoteEntry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 3 {
		return fmt.Errorf("unexpected response format: %s", string(data))
	}

	if err := json.Unmarshal(raw[0], &r.Status); err != nil {
		return fmt.Errorf("failed to parse status: %w", err)
	}

	// The payload of a successful entry carries nothing the player needs
	if r.Status == "error" && string(raw[1]) != "null" {
		var errPayload RemoteError
		if err := json.Unmarshal(raw[1], &errPayload); err != nil {
			return fmt.Errorf("failed to parse error payload: %w", err)
		}
		r.Error = &errPayload
	}

	if err := json.Unmarshal(raw[2], &r.Tag); err != nil {
		return fmt.Errorf("failed to parse tag: %w", err)
	}
	return nil
}

// Play sends a play command and blocks until the daemon reports the song done.
func (p *RemotePlayer) Play(ctx context.Context, s song.Song) error {
	// [["play",{"id":"...","title":"...","artist":"...","duration_seconds":180},"jukebox-play"]]
	payload := []any{
		[]any{"play", s, remoteTag},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/play", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.password != "" {
		req.SetBasicAuth("jukebox", p.password)
	}

	p.logger.Info("Now playing", "song", s.String(), "backend", p.baseURL)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("play failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	// Failures come back with HTTP 200 and an error entry in the body
	var entries []remoteEntry
	if err := json.Unmarshal(respBody, &entries); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	for _, entry := range entries {
		if entry.Status == "error" {
			if entry.Error != nil {
				return fmt.Errorf("play error (tag %s): %s (code %d)", entry.Tag, entry.Error.Type, entry.Error.Code)
			}
			return fmt.Errorf("play error (tag %s): unknown reason", entry.Tag)
		}
	}
	return nil
}
