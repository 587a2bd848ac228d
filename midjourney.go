// Package midjourney provides a Go client for the Midjourney web service.
//
// It covers three pieces: the job model (decoding job records, deriving the
// images of a grid, CDN URLs and command parsing), a REST [Client] for the
// listing, like and submit endpoints, and a WebSocket [Session] that streams
// job creation and progress events.
//
// # Thread Safety
//
// [Client] and [Session] are safe for concurrent use by multiple goroutines.
// [Listener] callbacks run on the session's receive goroutine and must not
// block; use [Stream] to consume events from another goroutine.
//
// # Basic Usage
//
//	ctx := context.Background()
//
//	client := midjourney.NewClient(cookie)
//	user, err := client.ResolveUserInfo(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	page, err := client.ListUserJobs(ctx, user.UserID, "", 50)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, job := range page.Jobs {
//	    for _, img := range job.Images() {
//	        fmt.Println(img.ID, img.ThumbnailURL(midjourney.SizeLarge))
//	    }
//	}
//
// # Live Updates
//
// Live updates need an [AlphaSession]:
//
//	alpha, err := client.ResolveAlphaSession(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	stream := midjourney.NewStream(100)
//	session := alpha.NewSession(stream)
//	if err := session.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Disconnect()
//
//	for ev, err := range stream.Events(ctx) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if ev.Progress != nil {
//	        fmt.Println(ev.Progress.ID, ev.Progress.PercentageComplete)
//	    }
//	}
//
// # Errors
//
// A 401 from any endpoint matches [ErrUnauthorized] (see [IsUnauthorized]);
// callers should treat it as a signal to re-authenticate. Malformed
// responses produce a [*DecodeError] naming the offending field.
package midjourney
