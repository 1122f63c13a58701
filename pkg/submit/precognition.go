package submit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabrielmiguelok/easyforms/pkg/events"
	"github.com/gabrielmiguelok/easyforms/pkg/logging"
)

// Precognition request headers.
const (
	HeaderPrecognition             = "Precognition"
	HeaderPrecognitionValidateOnly = "Precognition-Validate-Only"
)

// ValidateField schedules a precognition request for key after the
// validation debounce. Each key has its own timer.
func (c *Controller) ValidateField(key string) {
	if !c.cfg.Precognition {
		return
	}
	c.publish(events.ValidateField, key)
	c.validators.Trigger(key, func() {
		if _, err := c.ValidateOnly(c.ctx, []string{key}); err != nil && c.ctx.Err() == nil {
			c.logger.Warn("field validation failed", logging.Key(key), logging.Err(err))
		}
	})
}

// ValidationPending reports whether key has a debounced validation waiting.
func (c *Controller) ValidationPending(key string) bool {
	return c.validators.Pending(key)
}

// Validating reports whether a precognition request is in flight.
func (c *Controller) Validating() bool {
	return c.inFlight.Load() > 0
}

// ValidateOnly asks the CMS to validate keys now and merges the answer into
// the error map. It reports whether none of keys has an error. With
// precognition disabled every key is considered valid.
func (c *Controller) ValidateOnly(ctx context.Context, keys []string) (bool, error) {
	if !c.cfg.Precognition || len(keys) == 0 {
		return true, nil
	}

	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	headers := http.Header{}
	headers.Set(HeaderPrecognition, "true")
	headers.Set(HeaderPrecognitionValidateOnly, strings.Join(keys, ","))

	extra := [][2]string{{c.cfg.CSRFField, c.cfg.CSRFToken}}
	resp, err := c.post(ctx, c.snapshot(), extra, headers)
	if err != nil {
		return false, fmt.Errorf("precognition: %w", err)
	}
	defer resp.Body.Close()

	var found map[string][]string
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusUnprocessableEntity:
		found, err = decodeErrors(resp.Body)
		if err != nil {
			return false, fmt.Errorf("precognition: %w", err)
		}
	default:
		return false, fmt.Errorf("precognition: %w: status %d", errUnexpectedResponse, resp.StatusCode)
	}

	c.mu.Lock()
	for _, k := range keys {
		delete(c.errors, k)
	}
	for k, msgs := range found {
		c.errors[k] = msgs
	}
	valid := true
	for _, k := range keys {
		if len(c.errors[k]) > 0 {
			valid = false
			break
		}
	}
	all := copyErrors(c.errors)
	c.mu.Unlock()

	c.publish(events.FieldErrors, events.Validated{Keys: keys, Errors: all})
	return valid, nil
}

// ReindexErrors follows a grid row removal: errors of the removed row are
// dropped and errors of later rows move down one index.
func (c *Controller) ReindexErrors(r events.RowRemoved) {
	prefix := r.Handle + "."

	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string][]string, len(c.errors))
	for key, msgs := range c.errors {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			next[key] = msgs
			continue
		}
		idx, nested, ok := strings.Cut(rest, ".")
		row, err := strconv.Atoi(idx)
		if !ok || err != nil {
			next[key] = msgs
			continue
		}
		switch {
		case row < r.RemovedIndex:
			next[key] = msgs
		case row > r.RemovedIndex:
			next[prefix+strconv.Itoa(row-1)+"."+nested] = msgs
		}
	}
	c.errors = next
}

// Close cancels pending field validations and aborts the ones in flight.
func (c *Controller) Close() {
	c.validators.Stop()
	c.cancel()
}
