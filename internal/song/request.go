package song

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrEmptyRequester   = errors.New("requested_by field is empty")
	ErrNoSongs          = errors.New("request contains no songs")
	ErrEmptyTitle       = errors.New("song title is empty")
	ErrNegativeDuration = errors.New("song duration is negative")
	ErrTooManySongs     = errors.New("request contains too many songs")
)

// MaxSongsPerRequest caps multi-song requests.
const MaxSongsPerRequest = 50

// Validate checks that the request can be queued.
func (r Request) Validate() error {
	if strings.TrimSpace(r.RequestedBy) == "" {
		return ErrEmptyRequester
	}
	if len(r.Songs) == 0 {
		return ErrNoSongs
	}
	if len(r.Songs) > MaxSongsPerRequest {
		return ErrTooManySongs
	}
	for _, s := range r.Songs {
		if strings.TrimSpace(s.Title) == "" {
			return ErrEmptyTitle
		}
		if s.DurationSeconds < 0 {
			return ErrNegativeDuration
		}
	}
	return nil
}

// Decode parses and validates a JSON request body.
// Returns the request if it is acceptable, or an error if it isn't.
func Decode(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}

	req.RequestedBy = strings.TrimSpace(req.RequestedBy)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}
