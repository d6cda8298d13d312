package main

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/embervale/jprofiler/internal/config"
	"github.com/embervale/jprofiler/internal/osthread"
	"github.com/embervale/jprofiler/internal/timer"
)

// runBroadcaster is the agent's interval-timer driver loop (spec
// §4.H/§4.I): every AlarmTickMillis it wakes, lists the process's
// threads, and signals up to ThreadsPerTick of them with SIGALRM so
// each gets a chance to take a SIGPROF sample on its own stack. It
// runs on a dedicated locked OS thread for the lifetime of the agent.
func runBroadcaster(cfg config.Config, coord interface{ Running() bool }, log *logrus.Entry) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := timer.InstallHandler(handlerAddr()); err != nil {
		log.WithError(err).Error("failed to install SIGPROF handler, sampling disabled")
		return
	}

	tick := time.Duration(cfg.AlarmTickMillis) * time.Millisecond
	cursor := 0
	for {
		if !coord.Running() {
			time.Sleep(tick)
			continue
		}

		threads, err := osthread.ThreadList()
		if err != nil {
			log.WithError(err).Debug("failed to list threads for this tick")
			time.Sleep(tick)
			continue
		}
		if len(threads) == 0 {
			time.Sleep(tick)
			continue
		}

		batch := nextBatch(threads, cursor, int(cfg.ThreadsPerTick))
		cursor = (cursor + len(batch)) % len(threads)

		tids := make([]uint64, len(batch))
		for i, t := range batch {
			tids[i] = t.TID
		}
		if failed, err := timer.Broadcast(tids, osthread.SendAlarm); err != nil {
			log.WithField("failed", failed).Debug("some threads did not receive the alarm")
		}

		time.Sleep(tick)
	}
}

// nextBatch returns up to n threads from the list starting at cursor,
// wrapping around so every thread gets signalled in rotation rather
// than always favoring the front of the list.
func nextBatch(threads []osthread.Info, cursor, n int) []osthread.Info {
	if n <= 0 || len(threads) == 0 {
		return nil
	}
	if n > len(threads) {
		n = len(threads)
	}
	out := make([]osthread.Info, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, threads[(cursor+i)%len(threads)])
	}
	return out
}
