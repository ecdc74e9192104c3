// Package calendar proxies a session's Google Calendar calls.
//
// Each call builds a calendar/v3 service bound to the session's access token.
// Requests that fail with 429 or a 5xx status are retried a bounded number of
// times with linear backoff; everything else is returned immediately.
//
// Example usage:
//
//	proxy := calendar.NewProxy(calendar.Config{})
//	list, err := proxy.PrimaryCalendars(ctx, accessToken)
//	if err != nil {
//	    return err
//	}
package calendar
