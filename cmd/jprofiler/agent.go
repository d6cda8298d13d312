// Command jprofiler is the native agent entry point (spec §4.K):
// built with `go build -buildmode=c-shared` into a shared library the
// JVM loads via -agentpath:, exporting Agent_OnLoad and
// Agent_OnUnload. Wiring only lives here; every actual algorithm is
// implemented in internal/.
package main

/*
#include <jvmti.h>
#include <jni.h>
*/
import "C"

import (
	"os"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/embervale/jprofiler/internal/agentlog"
	"github.com/embervale/jprofiler/internal/codecache"
	"github.com/embervale/jprofiler/internal/config"
	"github.com/embervale/jprofiler/internal/control"
	"github.com/embervale/jprofiler/internal/jvmti"
	"github.com/embervale/jprofiler/internal/render"
	"github.com/embervale/jprofiler/internal/ring"
	"github.com/embervale/jprofiler/internal/sampler"
	"github.com/embervale/jprofiler/internal/symparse"
	"github.com/embervale/jprofiler/internal/timer"
	"github.com/embervale/jprofiler/internal/vmstruct"
	"github.com/embervale/jprofiler/internal/walker"
)

// agent bundles every long-lived component for the process's single
// agent instance. JVMTI's design is one agent per process, so a
// package-level global is the idiomatic shape here (spec §9 "global
// singletons": the hard constraint is that the signal handler must
// reach the handle with async-signal-safe code, which it does via
// globalAgent.coord, itself free of locks on the fast path).
type agent struct {
	cfg       config.Config
	log       *agentlog.Logger
	jvm       *jvmti.JavaVM
	env       *jvmti.Env
	coord     *sampler.Coordinator
	driver    *timer.Driver
	ctrl      *control.Server
	reg       *codecache.Registry
	rnd       *render.Renderer
	threadEnv jvmThreadEnv
}

var globalAgent *agent

// Agent_OnLoad is the JVMTI agent load entry point. The options
// string is whatever followed "-agentpath:libjprofiler.so=" on the
// JVM command line.
//
//export Agent_OnLoad
func Agent_OnLoad(vm unsafe.Pointer, options *C.char, reserved unsafe.Pointer) C.jint {
	cfg, err := config.Parse(C.GoString(options))
	log := agentlog.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		log.WithComponent("agent").WithError(err).Warn("failed to parse agent options, using defaults")
	}

	jvm := jvmti.WrapJavaVM(vm)
	env, err := jvm.GetEnv()
	if err != nil {
		log.WithComponent("agent").WithError(err).Error("JVMTI GetEnv failed, agent loaded in no-op state")
		return 0
	}

	if !resolveAGCT() {
		log.WithComponent("agent").Error("AsyncGetCallTrace not found, managed frames will be unavailable")
	}

	if err := env.AddCapabilities(); err != nil {
		log.WithComponent("agent").WithError(err).Warn("AddCapabilities failed, some features will be unavailable")
	}

	jvmti.SetThreadLifecycleHooks(
		func(osTid uint64, jniThread uintptr) {
			info, ok := env.GetThreadInfo(jniThread)
			if ok && globalAgent != nil {
				globalAgent.coord.UpdateThreadInfo(osTid, info.Name)
			}
		},
		func(osTid uint64, jniThread uintptr) {
			if globalAgent != nil {
				globalAgent.coord.RemoveThreadInfo(osTid)
			}
		},
		func(jniThread uintptr) {
			log.WithComponent("agent").Debug("VMInit received")
		},
	)
	if err := env.SetStandardEventCallbacks(); err != nil {
		log.WithComponent("agent").WithError(err).Warn("SetEventCallbacks failed, thread metadata will be incomplete")
	}
	if err := env.SetEventNotificationMode(true, jvmti.EventThreadStart); err != nil {
		log.WithComponent("agent").WithError(err).Warn("failed to enable ThreadStart events")
	}
	if err := env.SetEventNotificationMode(true, jvmti.EventThreadEnd); err != nil {
		log.WithComponent("agent").WithError(err).Warn("failed to enable ThreadEnd events")
	}
	if err := env.SetEventNotificationMode(true, jvmti.EventVMInit); err != nil {
		log.WithComponent("agent").WithError(err).Warn("failed to enable VMInit events")
	}

	registry := codecache.NewRegistry()
	parser := symparse.NewParser()
	regions, err := symparse.ReadSelfMaps()
	if err != nil {
		log.WithComponent("agent").WithError(err).Warn("failed to read /proc/self/maps")
	}
	for i, region := range regions {
		img, err := parser.ParseRegion(region, i)
		if err != nil {
			log.WithComponent("symparse").WithError(err).Debug("skipping unparsable image")
			continue
		}
		if img != nil {
			registry.Add(img)
		}
	}

	offsets, err := vmstruct.Resolve(vmstruct.LiveMemory{}, registry)
	if err != nil {
		log.WithComponent("vmstruct").WithError(err).Warn("VM-struct resolution failed")
	}
	_ = offsets

	coord := sampler.NewCoordinator(ring.New(), registry, walker.LiveMemory{}, vmstruct.CodeHeapContains{})
	driver := timer.NewDriver(uint32(cfg.MinIntervalNanos), uint32(cfg.MaxIntervalNanos))
	ctrlActions := &controlBridge{coord: coord, driver: driver, log: log.WithComponent("control")}
	ctrlSrv := control.New(cfg.ControlAddr, ctrlActions, log.WithComponent("control"))

	globalAgent = &agent{
		cfg:       cfg,
		log:       log,
		jvm:       jvm,
		env:       env,
		coord:     coord,
		driver:    driver,
		ctrl:      ctrlSrv,
		reg:       registry,
		rnd:       render.New(coord, env),
		threadEnv: jvmThreadEnv{vm: jvm},
	}

	go runBroadcaster(cfg, coord, log.WithComponent("broadcaster"))
	go runConsumer(globalAgent, newRenderer(globalAgent), log.WithComponent("consumer"))
	go func() {
		if err := ctrlSrv.Serve(); err != nil {
			log.WithComponent("control").WithError(err).Warn("control server stopped")
		}
	}()

	log.WithComponent("agent").Info("jprofiler agent loaded")
	return 0
}

// Agent_OnUnload is the JVMTI agent unload entry point.
//
//export Agent_OnUnload
func Agent_OnUnload(vm unsafe.Pointer) {
	if globalAgent == nil {
		return
	}
	globalAgent.coord.Stop()
	if globalAgent.ctrl != nil {
		globalAgent.ctrl.Close()
	}
	globalAgent.log.WithComponent("agent").Info("jprofiler agent unloaded")
}

// controlBridge adapts the coordinator and timer driver to
// control.Actions.
type controlBridge struct {
	coord  *sampler.Coordinator
	driver *timer.Driver
	log    *logrus.Entry
}

func (b *controlBridge) Start() {
	b.coord.Start()
	if err := b.driver.Arm(); err != nil {
		b.log.WithError(err).Warn("failed to arm interval timer")
	}
	b.log.Info("sampling started")
}

func (b *controlBridge) Stop() {
	b.coord.Stop()
	if err := timer.Disarm(); err != nil {
		b.log.WithError(err).Warn("failed to disarm interval timer")
	}
	b.log.Info("sampling stopped")
}

func main() {}
