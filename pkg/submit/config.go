package submit

import "time"

// Config configures a Controller.
type Config struct {
	// Action is the URL the form posts to.
	Action string

	// CSRFToken is sent under CSRFField with every request.
	CSRFToken string
	CSRFField string

	// SiteKey enables the spam challenge when set. The acquired token is sent
	// under ChallengeField.
	SiteKey         string
	ChallengeField  string
	ChallengeAction string

	// ChallengeTimeout bounds how long Submit waits for the challenge
	// provider to load, polling every ChallengeInterval.
	ChallengeTimeout  time.Duration
	ChallengeInterval time.Duration

	// Precognition enables per-field validation requests.
	Precognition bool

	// ValidationDebounce is the per-field quiet period before a validation request.
	ValidationDebounce time.Duration

	// SessionExpiredStatus is the status the CMS answers with when the
	// session or CSRF token expired.
	SessionExpiredStatus int

	RequestTimeout time.Duration
}

// DefaultConfig returns the defaults used by the CMS templates.
func DefaultConfig() Config {
	return Config{
		CSRFField:            "_token",
		ChallengeField:       "g-recaptcha-response",
		ChallengeAction:      "submit",
		ChallengeTimeout:     10 * time.Second,
		ChallengeInterval:    100 * time.Millisecond,
		ValidationDebounce:   300 * time.Millisecond,
		SessionExpiredStatus: 419,
		RequestTimeout:       30 * time.Second,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Action == "" {
		return ErrActionRequired
	}
	if c.CSRFField == "" {
		return ErrCSRFFieldRequired
	}
	if c.SiteKey != "" && c.ChallengeField == "" {
		return ErrChallengeFieldRequired
	}
	if c.ChallengeInterval <= 0 || c.ChallengeTimeout < c.ChallengeInterval {
		return ErrInvalidChallengeTiming
	}
	if c.ValidationDebounce < 0 || c.RequestTimeout < 0 {
		return ErrNegativeDuration
	}
	return nil
}

// Configuration errors.
var (
	ErrActionRequired         = configError("submit action URL is required")
	ErrCSRFFieldRequired      = configError("CSRF field name is required")
	ErrChallengeFieldRequired = configError("challenge field name is required when a site key is set")
	ErrInvalidChallengeTiming = configError("challenge interval must be positive and not exceed the timeout")
	ErrNegativeDuration       = configError("durations must not be negative")
)

type configError string

func (e configError) Error() string { return string(e) }
