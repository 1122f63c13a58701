package submit

import (
	"context"
	"errors"
	"fmt"

	"github.com/gabrielmiguelok/easyforms/pkg/retry"
)

var (
	ErrChallengeNotLoaded = errors.New("challenge provider not loaded")
	ErrChallengeRejected  = errors.New("challenge execution rejected")
)

// Challenger produces anti-bot tokens, reCAPTCHA v3 style.
type Challenger interface {
	// Ready reports whether the provider script has loaded.
	Ready() bool
	// Execute returns a token for siteKey and action.
	Execute(ctx context.Context, siteKey, action string) (string, error)
}

// ChallengerFunc adapts a function that is always ready.
type ChallengerFunc func(ctx context.Context, siteKey, action string) (string, error)

func (f ChallengerFunc) Ready() bool { return true }

func (f ChallengerFunc) Execute(ctx context.Context, siteKey, action string) (string, error) {
	return f(ctx, siteKey, action)
}

// acquireToken waits for the challenger to load, then executes it.
func (c *Controller) acquireToken(ctx context.Context) (string, error) {
	if c.challenger == nil {
		return "", ErrChallengeNotLoaded
	}

	err := retry.Poll(ctx, c.cfg.ChallengeInterval, c.cfg.ChallengeTimeout, c.sleep, c.challenger.Ready)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrChallengeNotLoaded, err)
	}

	token, err := c.challenger.Execute(ctx, c.cfg.SiteKey, c.cfg.ChallengeAction)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrChallengeRejected, err)
	}
	if token == "" {
		return "", ErrChallengeRejected
	}
	return token, nil
}
