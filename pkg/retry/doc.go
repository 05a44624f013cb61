// Package retry provides simple exponential backoff retry logic for transient failures.
//
// # Overview
//
//   - Do: execute a function with retry and exponential backoff
//   - NonRetryable: mark an error so Do returns it immediately
//
// The delay starts at InitialDelay, is multiplied by Multiplier after every
// failed attempt and is capped at MaxDelay. Jitter is either proportional
// (AddJitter, up to 25% of the current delay) or absolute (MaxJitter).
//
// # Usage
//
//	cfg := retry.DefaultConfig()
//	cfg.MaxAttempts = 9
//	cfg.InitialDelay = 250 * time.Millisecond
//	cfg.MaxDelay = 8 * time.Second
//	err := retry.Do(ctx, cfg, func() error {
//	    resp, err := post(ctx, body)
//	    if err != nil {
//	        return err
//	    }
//	    if resp.StatusCode == http.StatusBadRequest {
//	        return retry.NonRetryable(fmt.Errorf("HTTP %d", resp.StatusCode))
//	    }
//	    return nil
//	})
//
// # Context Cancellation
//
// Retry stops as soon as the context is cancelled, either between attempts or
// during a backoff sleep.
package retry
