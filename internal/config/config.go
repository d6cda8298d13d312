// Package config parses agent configuration from the JVMTI options
// string passed to Agent_OnLoad (a comma-separated key=value list,
// the standard convention for -agentlib:/-agentpath: arguments) and
// from JPROFILER_*-prefixed environment variables, using
// peterbourgon/ff/v3 to layer options over environment over defaults.
package config

import (
	"flag"
	"strings"

	"github.com/peterbourgon/ff/v3"
)

// Config holds every tunable named in spec §4.H/§4.I/§6: the sampling
// interval jitter range, the control-channel bind address, and the
// log level.
type Config struct {
	MinIntervalNanos uint
	MaxIntervalNanos uint
	ControlAddr      string
	LogLevel         string
	AlarmTickMillis  uint
	ThreadsPerTick   uint
}

// DefaultControlAddr matches spec §6's default control-channel bind
// address.
const DefaultControlAddr = "0.0.0.0:5000"

// Defaults returns a Config with the values spec §4.H and §5 call out
// explicitly: 100ms/500ms jitter bounds, a 10ms alarm-broadcaster
// tick, and 8 threads signalled per tick.
func Defaults() Config {
	return Config{
		MinIntervalNanos: 100_000_000,
		MaxIntervalNanos: 500_000_000,
		ControlAddr:      DefaultControlAddr,
		LogLevel:         "info",
		AlarmTickMillis:  10,
		ThreadsPerTick:   8,
	}
}

// splitOptionsString turns a JVMTI agent options string
// ("min_interval_ms=50,control_addr=127.0.0.1:6000") into "--flag
// value" argv pairs ff.Parse can consume, tolerating an empty string
// (no -agentlib: options given).
func splitOptionsString(options string) []string {
	if options == "" {
		return nil
	}
	pairs := strings.Split(options, ",")
	args := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		args = append(args, "--"+kv[0], kv[1])
	}
	return args
}

// Parse builds a Config from defaults, overridden by JPROFILER_*
// environment variables, overridden by options (the raw Agent_OnLoad
// options string).
func Parse(options string) (Config, error) {
	cfg := Defaults()

	fs := flag.NewFlagSet("jprofiler", flag.ContinueOnError)
	minMs := fs.Uint("min_interval_ms", cfg.MinIntervalNanos/1_000_000, "minimum sampling interval in milliseconds")
	maxMs := fs.Uint("max_interval_ms", cfg.MaxIntervalNanos/1_000_000, "maximum sampling interval in milliseconds")
	controlAddr := fs.String("control_addr", cfg.ControlAddr, "control channel bind address")
	logLevel := fs.String("log_level", cfg.LogLevel, "log level (debug, info, warn, error)")
	alarmTick := fs.Uint("alarm_tick_ms", cfg.AlarmTickMillis, "alarm broadcaster tick interval in milliseconds")
	threadsPerTick := fs.Uint("threads_per_tick", cfg.ThreadsPerTick, "threads signalled per alarm broadcaster tick")

	err := ff.Parse(fs, splitOptionsString(options), ff.WithEnvVarPrefix("JPROFILER"))
	if err != nil {
		return cfg, err
	}

	cfg.MinIntervalNanos = *minMs * 1_000_000
	cfg.MaxIntervalNanos = *maxMs * 1_000_000
	cfg.ControlAddr = *controlAddr
	cfg.LogLevel = *logLevel
	cfg.AlarmTickMillis = *alarmTick
	cfg.ThreadsPerTick = *threadsPerTick
	return cfg, nil
}
