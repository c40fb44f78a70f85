// Package gateway issues time-limited upload and download grants for the
// media bucket and registers publish jobs at the moment a grant is issued.
package gateway

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fpang/media-publisher/internal/jobs"
	"github.com/fpang/media-publisher/internal/s3util"
	"github.com/fpang/media-publisher/internal/store"
	"github.com/fpang/media-publisher/internal/vault"
	"github.com/fpang/media-publisher/internal/workflow"
)

// Grant lifetime bounds, in seconds.
const (
	MinTTL     = 60
	MaxTTL     = 3600
	DefaultTTL = 900
)

var (
	// ErrMissingToken is returned when a job-creating request carries no
	// platform credential.
	ErrMissingToken = errors.New("missing platform token")
	// ErrBucketNotAllowed is returned for download grants outside the
	// upload and output buckets.
	ErrBucketNotAllowed = errors.New("bucket not allowed")
)

// ValidationError reports the first invalid request field.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%s)", e.Field, e.Rule)
}

// Config holds bucket routing and defaults.
type Config struct {
	InBucket   string
	OutBucket  string
	InPrefix   string
	OutPrefix  string
	DefaultTTL int
	// GetTTL is the default lifetime of download grants.
	GetTTL int
}

// Gateway issues grants and creates jobs.
type Gateway struct {
	presigner s3util.Presigner
	ledger    store.Ledger
	cipher    vault.Cipher
	starter   workflow.Starter
	cfg       Config
	validate  *validator.Validate
	newID     func() string
	now       func() time.Time
}

// New builds a Gateway. starter may be nil when X submission is not
// served by this process.
func New(cfg Config, presigner s3util.Presigner, ledger store.Ledger, cipher vault.Cipher, starter workflow.Starter) *Gateway {
	if cfg.OutBucket == "" {
		cfg.OutBucket = cfg.InBucket
	}
	if cfg.InPrefix == "" {
		cfg.InPrefix = "in/"
	}
	if cfg.OutPrefix == "" {
		cfg.OutPrefix = "converted/"
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.GetTTL == 0 {
		cfg.GetTTL = MaxTTL
	}
	return &Gateway{
		presigner: presigner,
		ledger:    ledger,
		cipher:    cipher,
		starter:   starter,
		cfg:       cfg,
		validate:  newValidator(),
		newID:     jobs.NewID,
		now:       time.Now,
	}
}

// ClampTTL bounds a requested lifetime to [MinTTL, MaxTTL], substituting
// def for zero or negative requests.
func ClampTTL(requested, def int) int {
	if requested <= 0 {
		requested = def
	}
	return min(max(requested, MinTTL), MaxTTL)
}

func grantTTL(requested, def int) (int, time.Duration) {
	s := ClampTTL(requested, def)
	return s, time.Duration(s) * time.Second
}

func (g *Gateway) check(req any) error {
	err := g.validate.Struct(req)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return &ValidationError{Field: ve[0].Field(), Rule: ve[0].Tag()}
	}
	return err
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("site", func(fl validator.FieldLevel) bool {
		return jobs.ValidSiteURL(fl.Field().String())
	})
	return v
}
