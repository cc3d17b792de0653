// Package runs groups consecutive same-author messages for UI decoration.
// A run is a maximal sequence of messages by one author where each gap to
// the immediate neighbor stays within the window; only the run's last
// message carries footer, avatar and tick decoration.
package runs

import (
	"time"

	"chat-mirror-service/internal/models"
)

// Window is the maximum gap between time-adjacent same-author messages that
// still counts as one run.
const Window = 300 * time.Second

// EndOfRun reports, for an ascending-time message list, which messages close
// a run. A message is end-of-run iff it is last overall, the next message
// has a different author, or the gap to the next exceeds the window. The
// rule compares only immediate neighbors, never distance from the run start.
func EndOfRun(msgs []models.Message) []bool {
	out := make([]bool, len(msgs))
	for i := range msgs {
		if i == len(msgs)-1 {
			out[i] = true
			continue
		}
		next := msgs[i+1]
		if next.AuthorID != msgs[i].AuthorID {
			out[i] = true
			continue
		}
		if next.CreatedAt.Sub(msgs[i].CreatedAt) > Window {
			out[i] = true
		}
	}
	return out
}

// Continues reports whether a new message at created extends the run ended
// by prev. Used on send to decide whether the previous message needs a
// footer-clearing update.
func Continues(prev models.Message, created time.Time) bool {
	gap := created.Sub(prev.CreatedAt)
	if gap < 0 {
		gap = -gap
	}
	return gap <= Window
}
