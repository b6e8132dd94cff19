// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"

	"github.com/alecthomas/kong"
)

type (
	CLI struct {
		Run       Run       `cmd:"" help:"Run the write-then-read acceptance sequence once." default:"true"`
		RoundTrip RoundTrip `cmd:"" help:"Run many independent benches concurrently." name:"roundtrip"`
		Probe     Probe     `cmd:"" help:"Probe an address on a registered simulated bus."`
		SmokeTest SmokeTest `cmd:"" help:"Run the nominal and failure scenarios." name:"smoketest"`
		Version   Version   `cmd:"" help:"Show i2cbench version."`

		Config   string `name:"config" help:"${config_help}" type:"existingfile" placeholder:"FILE"`
		LogLevel string `name:"log-level" help:"Log level: debug, info, warning or error." default:"warning"`
	}

	// Bench overrides the loaded configuration.
	Bench struct {
		Speed         int64 `name:"speed" help:"SCL frequency in Hz, 0 keeps the configuration."`
		Stretch       int   `name:"stretch" help:"Peripheral clock stretching in cycles after each byte."`
		RepeatedStart bool  `name:"repeated-start" help:"${restart_help}"`
	}

	Run struct {
		Bench `embed:""`

		JSON     bool `name:"json" help:"Print the report as JSON."`
		Waveform bool `name:"waveform" help:"Draw SCL and SDA on the console."`
		Width    int  `name:"width" help:"Waveform width in columns." default:"120"`
	}

	RoundTrip struct {
		Bench `embed:""`

		Count int `name:"count" help:"Number of benches." default:"8"`
		Jobs  int `name:"jobs" help:"Benches run at the same time, 0 for one per CPU." default:"0"`
	}

	Probe struct {
		Bus  string `name:"bus" help:"Registered I2C bus name." default:"SIM0"`
		Addr string `arg:"" name:"addr" help:"7 bit address, e.g. 0x70 or 112."`
	}

	SmokeTest struct {
		Names []string `arg:"" optional:"" name:"name" help:"Scenarios to run, all by default."`
	}

	Version struct{}
)

// addr parses the address in any base strconv understands.
func (p *Probe) addr() (uint16, error) {
	v, err := strconv.ParseUint(p.Addr, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", p.Addr)
	}
	if v > 0x7F {
		return 0, fmt.Errorf("address %#x is not 7 bit", v)
	}
	return uint16(v), nil
}

var vars = kong.Vars{
	"config_help":  "TOML bench configuration, on top of the defaults.",
	"restart_help": "Read back through a repeated START instead of a STOP then START.",
}

func parseArgs(args []string) (*CLI, string, error) {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("i2cbench"),
		kong.Description("Simulated I²C register peripheral verification bench."),
		kong.UsageOnError(),
		vars)
	if err != nil {
		return nil, "", err
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		return nil, "", err
	}
	return &cli, ctx.Command(), nil
}
