package app

import (
	"fmt"
	"time"

	"locatr/pkg/log"

	"github.com/spf13/pflag"
)

// Options holds the tracker command line.
type Options struct {
	Code       string
	Generate   bool
	Interval   time.Duration
	FixTimeout time.Duration
	LogOptions *log.Options
}

func NewOptions() *Options {
	return &Options{
		LogOptions: log.NewOptions(),
	}
}

// Validate checks flag combinations that cobra cannot express.
func (o *Options) Validate() []error {
	errs := o.LogOptions.Validate()
	if o.Code == "" && !o.Generate {
		errs = append(errs, fmt.Errorf("one of --code or --generate is required"))
	}
	if o.Code != "" && o.Generate {
		errs = append(errs, fmt.Errorf("--code and --generate are mutually exclusive"))
	}
	if o.Interval < 0 || o.FixTimeout < 0 {
		errs = append(errs, fmt.Errorf("durations must not be negative"))
	}
	return errs
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Code, "code", o.Code, "The 6-character device code to report under.")
	fs.BoolVar(&o.Generate, "generate", o.Generate, "Generate a fresh device code.")
	fs.DurationVar(&o.Interval, "interval", o.Interval, "Sampling interval. Overrides TRACKING_INTERVAL.")
	fs.DurationVar(&o.FixTimeout, "fix-timeout", o.FixTimeout, "Per-fix timeout. Overrides TRACKING_FIX_TIMEOUT.")
	o.LogOptions.AddFlags(fs)
}
