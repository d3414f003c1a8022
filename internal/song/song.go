package song

import (
	"fmt"
	"time"
)

// Song is a single playable track as returned by a catalog provider.
type Song struct {
	ID              string `json:"id,omitempty"`
	Title           string `json:"title"`
	Artist          string `json:"artist,omitempty"`
	Album           string `json:"album,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// Duration returns the track length, zero when unknown.
func (s Song) Duration() time.Duration {
	return time.Duration(s.DurationSeconds) * time.Second
}

func (s Song) String() string {
	if s.Artist == "" {
		return s.Title
	}
	return s.Artist + " - " + s.Title
}

// Request is what participants put in the queue: either a single song or an
// ordered run of songs (an album side, a playlist) played back to back.
type Request struct {
	RequestedBy string `json:"requested_by"`
	Songs       []Song `json:"songs"`
}

// Single wraps one song into a request.
func Single(requestedBy string, s Song) Request {
	return Request{RequestedBy: requestedBy, Songs: []Song{s}}
}

// Title summarizes the request for logs and listings.
func (r Request) Title() string {
	switch len(r.Songs) {
	case 0:
		return ""
	case 1:
		return r.Songs[0].String()
	default:
		return fmt.Sprintf("%s (+%d more)", r.Songs[0], len(r.Songs)-1)
	}
}

// Duration is the summed length of all songs.
func (r Request) Duration() time.Duration {
	var d time.Duration
	for _, s := range r.Songs {
		d += s.Duration()
	}
	return d
}
