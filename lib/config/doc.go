// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config locates vex's home directory and loads the daemon's
// YAML configuration.
//
// Everything vex persists lives under one directory, VEX_HOME
// (default ~/.vex). [Paths] names every file in it, so no other
// package builds paths by hand.
//
// The daemon configuration is $VEX_HOME/config.yaml. Unlike most
// configuration in this module it is optional: a missing file means
// defaults throughout. Values in the file are merged over [Default],
// then ${VEX_HOME}, ${HOME}, and ${VAR:-default} patterns are expanded
// in string fields, then VEXD_TCP_PORT (if set) replaces the TCP port.
// [Config.Validate] reports every problem at once.
//
// This package depends on no other vex packages.
package config
