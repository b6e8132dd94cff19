// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// i2cbench runs the simulated I²C register peripheral verification bench.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gopkg.in/Sirupsen/logrus.v0"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"

	"periph.io/x/i2cbench/devices/waveform"
	"periph.io/x/i2cbench/master"
	"periph.io/x/i2cbench/simhost"
	"periph.io/x/i2cbench/verify"
	"periph.io/x/i2cbench/verify/smoketest"
)

const version = "0.1.0"

func config(cli *CLI, o *Bench, log *logrus.Entry) (verify.Config, error) {
	cfg := verify.DefaultConfig()
	if cli.Config != "" {
		var err error
		if cfg, err = verify.LoadConfig(cli.Config); err != nil {
			return cfg, err
		}
	}
	if o != nil {
		if o.Speed != 0 {
			cfg.SpeedHz = o.Speed
		}
		if o.Stretch != 0 {
			cfg.Stretch = o.Stretch
		}
		if o.RepeatedStart {
			cfg.RepeatedStart = true
		}
	}
	cfg.Log = log
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg verify.Config, r *Run) error {
	width := r.Width
	if width < 0 {
		return fmt.Errorf("invalid --width %d", width)
	}
	if width == 0 {
		width = waveform.DefaultWidth
	}
	b, err := verify.NewBench(cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	rep, err := b.Run(ctx)
	if r.Waveform {
		h := b.Monitor().History()
		stride := len(h)/width + 1
		w, err2 := waveform.New(nil, &waveform.Opts{Width: width, Stride: stride})
		if err2 != nil {
			return err2
		}
		err = multierr.Combine(err, w.Plot(h), w.Events(rep.Events), w.Halt())
	}
	if r.JSON {
		if _, err2 := os.Stdout.Write(append(rep.JSON(), '\n')); err2 != nil {
			return err2
		}
	} else if rep.Read != nil {
		fmt.Printf("read [% x] in %d cycles\n", rep.Read, rep.Cycles)
	}
	return err
}

func roundTrip(ctx context.Context, cfg verify.Config, r *RoundTrip) error {
	if r.Count < 1 {
		return errors.New("--count must be at least 1")
	}
	jobs := r.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	var (
		mu     sync.Mutex
		failed error
		cycles uint64
	)
	var g errgroup.Group
	g.SetLimit(jobs)
	for i := 0; i < r.Count; i++ {
		i := i
		c := cfg
		if cfg.Log != nil {
			c.Log = cfg.Log.WithField("bench", i)
		}
		g.Go(func() error {
			b, err := verify.NewBench(c)
			if err != nil {
				return err
			}
			defer b.Close()
			rep, err := b.Run(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = multierr.Append(failed, fmt.Errorf("bench %d: %w", i, err))
				return nil
			}
			cycles += rep.Cycles
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	n := len(multierr.Errors(failed))
	fmt.Printf("%d/%d round trips ok, %d cycles\n", r.Count-n, r.Count, cycles)
	return failed
}

func probe(p *Probe) error {
	addr, err := p.addr()
	if err != nil {
		return err
	}
	if _, err := simhost.Init(); err != nil {
		return err
	}
	b, err := i2creg.Open(p.Bus)
	if err != nil {
		return err
	}
	defer b.Close()
	d := i2c.Dev{Bus: b, Addr: addr}
	err = d.Tx(nil, make([]byte, 1))
	switch {
	case err == nil:
		fmt.Printf("%s: %#02x ACK\n", b, addr)
	case errors.Is(err, master.ErrNack):
		fmt.Printf("%s: %#02x NACK\n", b, addr)
	default:
		return err
	}
	return nil
}

func smokeTests(ctx context.Context, cfg verify.Config, s *SmokeTest) error {
	var tests []smoketest.SmokeTest
	if len(s.Names) == 0 {
		tests = smoketest.All()
	}
	for _, n := range s.Names {
		t := smoketest.Get(n)
		if t == nil {
			return fmt.Errorf("unknown smoke test %q", n)
		}
		tests = append(tests, t)
	}
	var failed error
	for _, t := range tests {
		if err := t.Run(ctx, cfg); err != nil {
			fmt.Printf("FAIL %-12s %s: %v\n", t.Name(), t.Description(), err)
			failed = multierr.Append(failed, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		fmt.Printf("ok   %-12s %s\n", t.Name(), t.Description())
	}
	return failed
}

func mainImpl() error {
	cli, cmd, err := parseArgs(os.Args[1:])
	if err != nil {
		return err
	}
	lvl, err := logrus.ParseLevel(cli.LogLevel)
	if err != nil {
		return err
	}
	l := logrus.New()
	l.Out = os.Stderr
	l.Level = lvl
	log := logrus.NewEntry(l)

	ctx := context.Background()
	f := strings.Fields(cmd)
	if len(f) == 0 {
		return errors.New("missing command, try --help")
	}
	switch f[0] {
	case "run":
		cfg, err := config(cli, &cli.Run.Bench, log)
		if err != nil {
			return err
		}
		return run(ctx, cfg, &cli.Run)
	case "roundtrip":
		cfg, err := config(cli, &cli.RoundTrip.Bench, log)
		if err != nil {
			return err
		}
		return roundTrip(ctx, cfg, &cli.RoundTrip)
	case "probe":
		return probe(&cli.Probe)
	case "smoketest":
		cfg, err := config(cli, nil, log)
		if err != nil {
			return err
		}
		return smokeTests(ctx, cfg, &cli.SmokeTest)
	case "version":
		fmt.Println(version)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "i2cbench: %s.\n", err)
		os.Exit(1)
	}
}
