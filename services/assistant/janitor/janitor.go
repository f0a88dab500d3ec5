// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package janitor runs the scheduled retention sweeps: closing idle session
// aggregates and flipping connection rows whose heartbeat went silent.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/config"
)

// RetentionStore is the store surface the sweeps run against.
type RetentionStore interface {
	CloseStaleSessions(ctx context.Context, cutoff time.Time) (int64, error)
	MarkStaleConnections(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor owns the cron schedule.
type Janitor struct {
	cfg   config.RetentionConfig
	store RetentionStore
	log   *slog.Logger
	cron  *cron.Cron
}

func New(cfg config.RetentionConfig, store RetentionStore, log *slog.Logger) *Janitor {
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{cfg: cfg, store: store, log: log, cron: cron.New()}
}

// Start registers the sweep on the configured schedule and starts the cron
// loop.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.cfg.Schedule, j.Sweep); err != nil {
		return err
	}
	j.cron.Start()
	j.log.Info("janitor started", "schedule", j.cfg.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep runs both retention passes once. Exported so operators can trigger
// it out of schedule.
func (j *Janitor) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sessionCutoff := time.Now().AddDate(0, 0, -j.cfg.SessionMaxAgeDays)
	if n, err := j.store.CloseStaleSessions(ctx, sessionCutoff); err != nil {
		j.log.Error("session sweep failed", "error", err)
	} else if n > 0 {
		j.log.Info("closed stale sessions", "count", n)
	}

	heartbeatCutoff := time.Now().Add(-time.Duration(j.cfg.HeartbeatTimeoutSeconds) * time.Second)
	if n, err := j.store.MarkStaleConnections(ctx, heartbeatCutoff); err != nil {
		j.log.Error("connection sweep failed", "error", err)
	} else if n > 0 {
		j.log.Info("marked stale connections", "count", n)
	}
}
