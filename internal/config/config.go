// Package config loads Turnstile configuration from CUE files.
//
// The configuration declares the handles to open at startup plus scheduler
// options. Files are unified with the embedded schema before decoding, so
// structural errors carry CUE's position information instead of surfacing
// as zero values later.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// Handle declares one database handle to open.
type Handle struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Config is the decoded configuration.
type Config struct {
	Handles   []Handle
	TxTimeout time.Duration
}

// rawConfig mirrors the CUE structure before unit conversion.
type rawConfig struct {
	Handles   []Handle `json:"handles"`
	Scheduler struct {
		TxTimeoutMS int64 `json:"tx_timeout_ms"`
	} `json:"scheduler"`
}

// Load reads, validates, and decodes a CUE config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates and decodes CUE config source.
// filename is used for error positions only.
func Parse(filename string, data []byte) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("internal schema error: %w", err)
	}

	val := ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, formatCUEError("parse config", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError("validate config", err)
	}

	var raw rawConfig
	if err := unified.Decode(&raw); err != nil {
		return nil, formatCUEError("decode config", err)
	}

	cfg := &Config{
		Handles:   raw.Handles,
		TxTimeout: time.Duration(raw.Scheduler.TxTimeoutMS) * time.Millisecond,
	}

	if err := cfg.check(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// check enforces constraints CUE cannot express across entries.
func (c *Config) check() error {
	seen := make(map[string]bool, len(c.Handles))
	for _, h := range c.Handles {
		if seen[h.Name] {
			return fmt.Errorf("duplicate handle name %q in config", h.Name)
		}
		seen[h.Name] = true
	}
	return nil
}

// formatCUEError flattens a CUE error list into one message with positions.
func formatCUEError(op string, err error) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return fmt.Errorf("%s: %v", op, err)
	}

	msg := ""
	for i, e := range list {
		if i > 0 {
			msg += "; "
		}
		pos := e.Position()
		if pos.IsValid() {
			msg += fmt.Sprintf("%s:%d:%d: ", pos.Filename(), pos.Line(), pos.Column())
		}
		msg += e.Error()
	}
	return fmt.Errorf("%s: %s", op, msg)
}
