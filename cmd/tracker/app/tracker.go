package app

import (
	"context"
	"errors"

	"locatr/internal/capability"
	"locatr/internal/config"
	"locatr/internal/domain"
	"locatr/internal/repository"
	"locatr/internal/tracker"
	"locatr/internal/viewer"
	"locatr/pkg/log"

	"github.com/spf13/cobra"
)

func NewTrackerCommand(ctx context.Context) *cobra.Command {
	opts := NewOptions()
	cmd := &cobra.Command{
		Use:          "locatr-tracker",
		Short:        "Report this device's location under a device code",
		Long:         "locatr-tracker samples the device location on a fixed interval and writes each fix to the location store, where viewers holding the same device code can follow it live.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if errs := opts.Validate(); len(errs) > 0 {
				return errors.Join(errs...)
			}

			log.Init(opts.LogOptions)
			defer log.Sync()

			cfg, err := config.Load()
			if err != nil {
				log.Error(err, "failed to load configuration")
				return err
			}
			if opts.Interval > 0 {
				cfg.Tracking.Interval = opts.Interval
			}
			if opts.FixTimeout > 0 {
				cfg.Tracking.FixTimeout = opts.FixTimeout
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			code := opts.Code
			if opts.Generate {
				if code, err = domain.GenerateCode(); err != nil {
					return err
				}
			}

			return run(ctx, cfg, code)
		},
	}

	opts.AddFlags(cmd.Flags())

	return cmd
}

func run(ctx context.Context, cfg *config.Config, code string) error {
	store, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		log.Error(err, "failed to open store")
		return err
	}

	logger := log.Std()
	var loop *tracker.Loop
	loop = tracker.NewLoop(
		capability.NewSimulated(cfg.Simulator),
		tracker.NewRegistrar(store, logger),
		store,
		tracker.WithInterval(cfg.Tracking.Interval),
		tracker.WithFixTimeout(cfg.Tracking.FixTimeout),
		tracker.WithLogger(logger),
		tracker.WithObserver(tracker.SampleObserverFunc(func(domain.LocationSample) {
			status := viewer.Status(loop.Session())
			log.Info("Location reported",
				"device_code", status.DeviceCode,
				"location", status.Location,
				"accuracy", status.Accuracy,
				"battery", status.Battery,
				"low_battery", status.LowBattery,
			)
		})),
		tracker.WithNoticeFunc(func(n tracker.Notice) {
			if n.Err != nil {
				log.Warn("Tracking notice", "kind", string(n.Kind), "error", n.Err.Error())
				return
			}
			log.Debug("Tracking notice", "kind", string(n.Kind))
		}),
	)

	if err := loop.Start(ctx, code); err != nil {
		log.Error(err, "failed to start tracking", "device_code", code)
		return err
	}
	log.Info("Share this code with viewers", "device_code", code)

	<-ctx.Done()
	loop.Stop()

	return nil
}
