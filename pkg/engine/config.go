package engine

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gabrielmiguelok/easyforms/pkg/forms"
	"github.com/gabrielmiguelok/easyforms/pkg/submit"
	"github.com/gabrielmiguelok/easyforms/pkg/tracking"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvRecaptchaSiteKey = "EASY_FORMS_RECAPTCHA_SITE_KEY"
	EnvTrackParams      = "EASY_FORMS_TRACK_PARAMS"
	EnvTrackPrefix      = "EASY_FORMS_TRACK_PREFIX"
	EnvPrecognition     = "EASY_FORMS_PRECOGNITION"
)

// Config configures one form instance.
type Config struct {
	Submit   submit.Config
	Tracking tracking.Config

	// ChangeDebounce is the fields-changed quiet period.
	ChangeDebounce time.Duration

	// TrackingHandle is the hidden field that receives tracked parameters.
	TrackingHandle string

	// HiddenHandles are left out of the renderable field list.
	HiddenHandles []string
}

// DefaultConfig returns the default configuration. Submit.Action still has
// to be set.
func DefaultConfig() Config {
	return Config{
		Submit:         submit.DefaultConfig(),
		Tracking:       tracking.DefaultConfig(),
		ChangeDebounce: forms.DefaultChangeDebounce,
		TrackingHandle: forms.TrackingHandle,
	}
}

// ConfigFromEnv returns DefaultConfig overlaid with the EASY_FORMS_*
// environment.
func ConfigFromEnv() Config {
	return DefaultConfig().WithEnv(os.LookupEnv)
}

// WithEnv overlays the EASY_FORMS_* variables found by lookup. Malformed
// booleans are ignored.
func (c Config) WithEnv(lookup func(string) (string, bool)) Config {
	if v, ok := lookup(EnvRecaptchaSiteKey); ok {
		c.Submit.SiteKey = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvTrackParams); ok {
		c.Tracking.Params = tracking.ParseParams(v)
	}
	if v, ok := lookup(EnvTrackPrefix); ok && strings.TrimSpace(v) != "" {
		c.Tracking.Prefix = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPrecognition); ok {
		if on, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Submit.Precognition = on
		}
	}
	return c
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if err := c.Submit.Validate(); err != nil {
		return err
	}
	if c.ChangeDebounce < 0 {
		return ErrInvalidDebounce
	}
	if c.Tracking.Prefix == "" {
		return ErrTrackingPrefixRequired
	}
	return nil
}

// Configuration errors.
var (
	ErrInvalidDebounce        = configError("change debounce must not be negative")
	ErrTrackingPrefixRequired = configError("tracking cookie prefix is required")
)

type configError string

func (e configError) Error() string { return string(e) }
