package main

import (
	"context"
	"flag"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/robotalks/retrospex/pkg/cli/sh"
	fx "github.com/robotalks/retrospex/pkg/framework"
	"github.com/robotalks/retrospex/pkg/journal"
	"github.com/robotalks/retrospex/pkg/l1/env/station"
	"github.com/robotalks/retrospex/pkg/metrics"
	"github.com/robotalks/retrospex/pkg/spex"

	_ "github.com/robotalks/retrospex/pkg/cli/cmds/all"
)

var daemon bool

func init() {
	spex.SetupFlags()
	station.SetupFlags()
	journal.SetupFlags()
	metrics.SetupFlags()
	flag.BoolVar(&daemon, "daemon", daemon, "Run without console until interrupted.")
}

func main() {
	flag.Parse()

	conf := spex.NewConfig()
	loop := fx.NewLoop()
	loop.Interval = conf.PollInterval
	s := spex.New(conf, conf.MustLoadSettings(), loop)
	s.OnFatal = func(err error) {
		glog.Fatalf("spectrometer link failed: %v", err)
	}
	loop.Add(s)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	s.Observer = collector
	s.AddListener(collector)
	loop.Add(&metrics.Sampler{Collector: collector, Spex: s})
	if srv := metrics.NewConfig().NewServer(reg); srv != nil {
		loop.Add(srv)
	}

	env := station.NewConfig().MustNewEnv()
	env.Attach(s)
	loop.Add(env)

	j, err := journal.NewConfig().Open(env.Config.Info.Ref.Name())
	if err != nil {
		glog.Fatalln(err)
	}
	if j != nil {
		s.AddListener(j)
		loop.Add(j)
	}

	sigCtx := fx.SignalContext(context.Background())
	runner := fx.NewRunner()
	runner.Go(fx.NamedRun("loop", loop))

	ctx, cancel := context.WithTimeout(sigCtx, 30*time.Second)
	if err := s.PowerUp(ctx); err != nil {
		glog.Fatalf("power up: %v", err)
	}
	cancel()

	if daemon {
		<-sigCtx.Done()
	} else {
		sh.New(s).Run(flag.Args()...)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := s.PowerDown(ctx); err != nil {
		glog.Errorf("power down: %v", err)
	}
	cancel()
	runner.Stop()
	if err := runner.Wait(); err != nil {
		glog.Errorf("%v", err)
	}
	glog.Flush()
}
