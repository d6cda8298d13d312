package main

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/embervale/jprofiler/internal/ring"
)

// runConsumer is the agent's single background reader of the sampling
// ring buffer (spec §4.I "the ring's only consumer runs off the signal
// path"): it polls Consume and renders each drained trace through r,
// logging one line per captured stack. A tight poll loop is
// acceptable here since, unlike Capture, this goroutine is never
// invoked from signal context and may block or allocate freely.
func runConsumer(a *agent, r *renderer, log *logrus.Entry) {
	const idleBackoff = 2 * time.Millisecond
	var trace ring.Trace
	for {
		if !a.coord.Consume(&trace) {
			time.Sleep(idleBackoff)
			continue
		}
		log.WithField("thread", trace.JNIEnv).Debug(r.render(&trace))
	}
}

// renderer adapts render.Renderer plus the registry's blob lookup into
// a single full-trace-to-string call, matching the line-oriented
// collapsed-stack output the original source's flame-graph pipeline
// expects from frame_name.rs.
type renderer struct {
	a *agent
}

func newRenderer(a *agent) *renderer { return &renderer{a: a} }

func (rd *renderer) render(trace *ring.Trace) string {
	names := make([]string, 0, trace.NumFrames)
	for i := int32(0); i < trace.NumFrames; i++ {
		frame := trace.Frames[i]
		names = append(names, rd.a.rnd.Name(frame, rd.a.reg.FindBlob))
	}
	out := ""
	for i := len(names) - 1; i >= 0; i-- {
		out += names[i]
		if i > 0 {
			out += ";"
		}
	}
	return out
}
