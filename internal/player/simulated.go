package player

import (
	"context"
	"log/slog"
	"time"

	"github.com/dovewarden/jukebox/internal/song"
)

// DefaultSongLength is used for songs that carry no duration.
const DefaultSongLength = 3 * time.Minute

// SimulatedPlayer stands in for an audio backend: it "plays" a song by waiting
// for its duration multiplied by Scale.
type SimulatedPlayer struct {
	Scale  float64
	logger *slog.Logger
}

// NewSimulatedPlayer creates a player. A non-positive scale is treated as 1.
func NewSimulatedPlayer(scale float64, logger *slog.Logger) *SimulatedPlayer {
	if scale <= 0 {
		scale = 1
	}
	return &SimulatedPlayer{Scale: scale, logger: logger}
}

// Play waits for the scaled song length or until ctx is done.
func (p *SimulatedPlayer) Play(ctx context.Context, s song.Song) error {
	length := s.Duration()
	if length <= 0 {
		length = DefaultSongLength
	}
	length = time.Duration(float64(length) * p.Scale)

	p.logger.Info("Now playing", "song", s.String(), "length", length)

	timer := time.NewTimer(length)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
