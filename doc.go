// Package scitrack forwards the lifecycle events of Go training and tuning
// loops to experiment-tracking backends.
//
// A training loop reports IterationCompleted, TrialCompleted and
// StudyCompleted events to a tracking.Adapter. The adapter flattens each
// event into namespaced records (metrics/, params/, artifacts/, trials/,
// best/) and appends them to one Sink in a single call.
//
// # Quick Start
//
//	package main
//
//	import (
//	    "context"
//	    "log"
//
//	    "github.com/YuminosukeSato/scitrack/config"
//	    "github.com/YuminosukeSato/scitrack/core/event"
//	    "github.com/YuminosukeSato/scitrack/sinks"
//	    "github.com/YuminosukeSato/scitrack/tracking"
//	)
//
//	func main() {
//	    ctx := context.Background()
//	    cfg, err := config.Load("scitrack.yaml")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    sink, err := sinks.Open(ctx, cfg)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    err = tracking.Run(ctx, sink, func(a *tracking.Adapter) error {
//	        for step := int64(0); step < 10; step++ {
//	            loss := 1 / float64(step+1)
//	            if err := a.OnEvent(ctx, event.Iteration(step, map[string]float64{"loss": loss})); err != nil {
//	                return err
//	            }
//	        }
//	        return nil
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Packages
//
//   - tracking: the event adapter, Run and Tee
//   - core/event: event, trial and direction types
//   - sinks: memory, offline (CBOR run files), sqlstore (SQLite or
//     PostgreSQL), mlflow (REST) and prom (Prometheus gauges)
//   - config: Viper configuration with validator rules
//   - integrations/boosting: Train loop and callbacks for gradient boosting
//   - integrations/tuning: Study/Trial search driver and tracking callbacks
//   - pkg/errors, pkg/log, pkg/charts: errors, logging and PNG charts
//   - cmd/scitrack: inspect and sync offline run files
//
// # Offline Runs
//
// The offline sink writes a self-describing run file. Runs recorded without
// network access are uploaded later with:
//
//	scitrack --config scitrack.yaml sync scitrack-runs/*.sct
package scitrack
