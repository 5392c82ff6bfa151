// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultTCPPort is the daemon's TLS port.
const DefaultTCPPort = 7422

// TCPPortEnvironmentVariable overrides the port of TCP.Listen.
const TCPPortEnvironmentVariable = "VEXD_TCP_PORT"

// DefaultAgentCommand is run in a workstream's tmux window, with the
// prompt appended as the final argument, when agent.command is unset.
const DefaultAgentCommand = "claude --dangerously-skip-permissions"

// Config is the daemon configuration.
type Config struct {
	TCP   TCPConfig   `yaml:"tcp"`
	Agent AgentConfig `yaml:"agent"`
	Repo  RepoConfig  `yaml:"repo"`
}

// TCPConfig configures the remote (TLS) transport.
type TCPConfig struct {
	// Enabled turns the TLS listener on. The local socket is always on.
	Enabled bool `yaml:"enabled"`

	// Listen is the host:port to bind.
	Listen string `yaml:"listen"`

	// Advertise is the host:port clients should dial, reported in
	// pairing responses. Empty means unknown.
	Advertise string `yaml:"advertise"`
}

// AgentConfig configures agent processes.
type AgentConfig struct {
	Command string `yaml:"command"`
}

// RepoConfig configures repository handling.
type RepoConfig struct {
	Register RegisterConfig `yaml:"register"`
}

// RegisterConfig configures workstream setup.
type RegisterConfig struct {
	// Hooks run in order, via sh -c inside each new worktree. A failing
	// hook aborts workstream creation.
	Hooks []Hook `yaml:"hooks"`
}

// Hook is a shell command.
type Hook struct {
	Run string `yaml:"run"`
}

// Default returns the configuration used when config.yaml is absent.
func Default() *Config {
	return &Config{
		TCP: TCPConfig{
			Enabled: true,
			Listen:  net.JoinHostPort("0.0.0.0", strconv.Itoa(DefaultTCPPort)),
		},
		Agent: AgentConfig{
			Command: DefaultAgentCommand,
		},
	}
}

// Load reads the configuration for paths. A missing config.yaml is not
// an error.
func Load(paths Paths) (*Config, error) {
	return LoadFile(paths.ConfigFile(), paths)
}

// LoadFile reads the configuration at path.
func LoadFile(path string, paths Paths) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg.expandVariables(paths)
	if err := cfg.applyPortOverride(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) expandVariables(paths Paths) {
	vars := map[string]string{
		"VEX_HOME": paths.Home,
		"HOME":     os.Getenv("HOME"),
	}
	c.TCP.Listen = expandVars(c.TCP.Listen, vars)
	c.TCP.Advertise = expandVars(c.TCP.Advertise, vars)
	c.Agent.Command = expandVars(c.Agent.Command, vars)
	for i := range c.Repo.Register.Hooks {
		c.Repo.Register.Hooks[i].Run = expandVars(c.Repo.Register.Hooks[i].Run, vars)
	}
}

func (c *Config) applyPortOverride() error {
	port := os.Getenv(TCPPortEnvironmentVariable)
	if port == "" {
		return nil
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("%s=%q is not a port number", TCPPortEnvironmentVariable, port)
	}
	host, _, err := net.SplitHostPort(c.TCP.Listen)
	if err != nil {
		host = "0.0.0.0"
	}
	c.TCP.Listen = net.JoinHostPort(host, port)
	return nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, consulting vars first
// and the environment second.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and reports every problem.
func (c *Config) Validate() error {
	var errs []error

	if c.TCP.Enabled {
		if _, port, err := net.SplitHostPort(c.TCP.Listen); err != nil {
			errs = append(errs, fmt.Errorf("tcp.listen %q: %w", c.TCP.Listen, err))
		} else if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			errs = append(errs, fmt.Errorf("tcp.listen %q: invalid port", c.TCP.Listen))
		}
	}
	if c.TCP.Advertise != "" {
		if _, _, err := net.SplitHostPort(c.TCP.Advertise); err != nil {
			errs = append(errs, fmt.Errorf("tcp.advertise %q: %w", c.TCP.Advertise, err))
		}
	}
	if c.Agent.Command == "" {
		errs = append(errs, errors.New("agent.command must not be empty"))
	}
	for i, hook := range c.Repo.Register.Hooks {
		if hook.Run == "" {
			errs = append(errs, fmt.Errorf("repo.register.hooks[%d].run must not be empty", i))
		}
	}

	return errors.Join(errs...)
}
