package profile

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"playsync/internal/models"
)

const reportTimeout = 10 * time.Second

// ProgressReporter delivers listen-threshold reports to the profile service
// without ever blocking playback accounting. Reports are sent on their own
// goroutine with a bounded timeout, and a rate limiter absorbs pathological
// bursts from misbehaving surfaces.
type ProgressReporter struct {
	client  *Client
	limiter *rate.Limiter
}

func NewProgressReporter(client *Client) *ProgressReporter {
	return &ProgressReporter{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Report implements listen.Reporter.
func (r *ProgressReporter) Report(ctx context.Context, trackID string, report models.ListenReport) {
	if !r.limiter.Allow() {
		log.Printf("profile: suppressing burst progress report for track %s", trackID)
		return
	}
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
		defer cancel()
		if err := r.client.TrackProgress(sendCtx, trackID, report); err != nil {
			log.Printf("profile: track progress report for %s: %v", trackID, err)
		}
	}()
}
