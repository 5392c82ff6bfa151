// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestBindFlags_TypesAndDefaults(t *testing.T) {
	var params struct {
		JSONOutput
		Label   string        `flag:"label,l" desc:"label" default:"none"`
		Count   int           `flag:"count" default:"3"`
		Expire  time.Duration `flag:"expire" default:"24h"`
		Seconds uint64        `flag:"seconds" default:"60"`
		Hosts   []string      `flag:"host" default:"a,b"`
		Quiet   bool          `flag:"quiet"`
		ignored string
	}

	flagSet := FlagsFromParams("test", &params)
	if params.Label != "none" || params.Count != 3 || params.Expire != 24*time.Hour ||
		params.Seconds != 60 || len(params.Hosts) != 2 || params.Quiet {
		t.Fatalf("defaults not applied: %+v", params)
	}

	err := flagSet.Parse([]string{"-l", "phone", "--count=5", "--expire", "90m", "--seconds", "7",
		"--host", "x", "--quiet", "--json"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.Label != "phone" || params.Count != 5 || params.Expire != 90*time.Minute ||
		params.Seconds != 7 || len(params.Hosts) != 1 || params.Hosts[0] != "x" || !params.Quiet {
		t.Errorf("parsed params = %+v", params)
	}
	if !params.OutputJSON {
		t.Error("embedded JSONOutput --json not bound")
	}
	_ = params.ignored
}

func TestBindFlags_RejectsUnsupported(t *testing.T) {
	var params struct {
		Ratio float32 `flag:"ratio"`
	}
	if err := BindFlags(&params, pflag.NewFlagSet("x", pflag.ContinueOnError)); err == nil {
		t.Error("BindFlags accepted float32")
	}
	if err := BindFlags(params, pflag.NewFlagSet("x", pflag.ContinueOnError)); err == nil {
		t.Error("BindFlags accepted a non-pointer")
	}
}

func TestBindFlags_BadDefault(t *testing.T) {
	var params struct {
		Count int `flag:"count" default:"many"`
	}
	if err := BindFlags(&params, pflag.NewFlagSet("x", pflag.ContinueOnError)); err == nil {
		t.Error("BindFlags accepted an unparseable default")
	}
}
