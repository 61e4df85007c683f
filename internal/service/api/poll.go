package api

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// PollPolicy bounds a poll loop. Multiplier 1 keeps a fixed interval; larger
// values back off up to MaxInterval. MaxAttempts counts requests, 0 means no
// limit.
type PollPolicy struct {
	Interval    time.Duration
	Multiplier  float64
	MaxInterval time.Duration
	MaxAttempts int
}

// DefaultPollPolicy polls every second for up to five minutes.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    time.Second,
		Multiplier:  1,
		MaxInterval: time.Second,
		MaxAttempts: 300,
	}
}

// next returns the wait that follows d.
func (p PollPolicy) next(d time.Duration) time.Duration {
	if p.Multiplier <= 1 {
		return d
	}
	n := time.Duration(float64(d) * p.Multiplier)
	if p.MaxInterval > 0 && n > p.MaxInterval {
		n = p.MaxInterval
	}
	return n
}

// poll calls check until it reports done, waiting between attempts per policy.
func (c *Client) poll(ctx context.Context, check func() (bool, error)) error {
	interval := c.policy.Interval
	if interval <= 0 {
		interval = DefaultPollPolicy().Interval
	}

	for attempt := 1; ; attempt++ {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if c.policy.MaxAttempts > 0 && attempt >= c.policy.MaxAttempts {
			return fmt.Errorf("%w after %d attempts", ErrPollTimeout, attempt)
		}
		if err := c.sleep(ctx, interval); err != nil {
			return err
		}
		interval = c.policy.next(interval)
	}
}

// PollResponse waits for the result of a submitted message. The completed
// response is returned unchanged; a backend failure is a *ResponseError.
func (c *Client) PollResponse(ctx context.Context, messageID string) (string, error) {
	var result string
	err := c.poll(ctx, func() (bool, error) {
		var out pollResponse
		if err := c.getJSON(ctx, "/response", url.Values{"message_id": {messageID}}, &out); err != nil {
			return false, fmt.Errorf("poll response: %w", err)
		}
		switch out.Status {
		case StatusCompleted:
			result = out.Response
			return true, nil
		case StatusFailed:
			msg := out.Response
			if msg == "" {
				msg = "An error occurred"
			}
			return false, &ResponseError{MessageID: messageID, Message: msg}
		default:
			return false, nil
		}
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// WaitProcessed polls the session file list until fileID is processed.
func (c *Client) WaitProcessed(ctx context.Context, sessionID, fileID string) (UploadedFile, error) {
	var found UploadedFile
	err := c.poll(ctx, func() (bool, error) {
		files, err := c.GetFiles(ctx, sessionID)
		if err != nil {
			return false, err
		}
		for _, f := range files {
			if f.ID == fileID && f.Processed {
				found = f
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return UploadedFile{}, err
	}
	return found, nil
}
