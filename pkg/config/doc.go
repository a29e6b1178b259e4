// Package config loads linkrt configuration files.
//
// # Overview
//
// A configuration file is YAML with three sections: telemetry settings,
// the resources to manage and the pipelines fed by them. Durations are
// written as Go duration strings ("250ms", "5s").
//
//	telemetry:
//	  logging:
//	    level: debug
//	resources:
//	  - name: thermo
//	    driver: sim
//	    poll_interval: 1s
//	    options:
//	      latency: 5ms
//	      failure_ratio: "0.05"
//	pipelines:
//	  - name: samples
//	    source: thermo
//	    max_queue_size: 128
//	    max_parallelism: 4
//
// # Loading
//
// Load decodes the file with unknown keys rejected, fills defaults for every
// zero-valued setting, then validates struct constraints and cross
// references (unique names, existing pipeline sources and sinks):
//
//	f, err := config.Load("linkrt.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Hot Reload
//
// Watcher observes the file and hands every successfully reloaded *File to a
// callback. Bursts of writes are collapsed into one reload:
//
//	w := config.NewWatcher("linkrt.yaml", 0, logger, func(f *config.File, err error) {
//	    if err == nil {
//	        sup.Apply(f)
//	    }
//	})
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
package config
