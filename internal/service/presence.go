package service

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// PresenceSweep periodically marks devices that stopped syncing as offline.
// It never evaluates irrigation rules; automation stays driven by device syncs.
type PresenceSweep struct {
	svc          Service
	log          *logrus.Logger
	interval     time.Duration
	offlineAfter time.Duration
	scheduler    gocron.Scheduler
}

// NewPresenceSweep creates the sweep; Start schedules it
func NewPresenceSweep(svc Service, log *logrus.Logger, interval, offlineAfter time.Duration) (*PresenceSweep, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	return &PresenceSweep{
		svc:          svc,
		log:          log,
		interval:     interval,
		offlineAfter: offlineAfter,
		scheduler:    scheduler,
	}, nil
}

// Start registers the job and starts the scheduler
func (p *PresenceSweep) Start(ctx context.Context) error {
	_, err := p.scheduler.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(func() {
			p.RunOnce(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	p.scheduler.Start()
	p.log.WithFields(logrus.Fields{
		"interval":      p.interval,
		"offline_after": p.offlineAfter,
	}).Info("Presence sweep started")
	return nil
}

// RunOnce performs a single sweep
func (p *PresenceSweep) RunOnce(ctx context.Context) {
	count, err := p.svc.MarkStaleDevicesOffline(ctx, p.offlineAfter)
	if err != nil {
		p.log.WithError(err).Error("Presence sweep failed")
		return
	}
	if count > 0 {
		p.log.WithField("devices", count).Info("Marked silent devices offline")
	}
}

// Shutdown stops the scheduler
func (p *PresenceSweep) Shutdown() error {
	return p.scheduler.Shutdown()
}
