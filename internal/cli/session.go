package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/turnstile/internal/config"
	"github.com/roach88/turnstile/internal/engine"
	"github.com/roach88/turnstile/internal/scheduler"
)

// SessionOptions are the handle-selection flags shared by all commands.
type SessionOptions struct {
	Database string // path to a single SQLite database file
	Config   string // path to a CUE config declaring handles
	Handle   string // handle to address (required with --config, derived from --db otherwise)
}

// registerSessionFlags wires the shared flags onto a command.
func registerSessionFlags(cmd *cobra.Command, opts *SessionOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to CUE config file")
	cmd.Flags().StringVar(&opts.Handle, "handle", "", "handle name to address (config mode)")
	cmd.MarkFlagsMutuallyExclusive("db", "config")
}

// Session is an opened engine + scheduler pair with every configured handle
// registered. Commands run against Handle and call CloseAll when done.
type Session struct {
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Handle    string

	handles []string
}

// OpenSession opens the handles selected by the options.
//
// With --db, the file's base name becomes the handle name. With --config,
// every configured handle is opened and --handle (or the first entry)
// selects the one commands address.
func OpenSession(opts *SessionOptions) (*Session, error) {
	switch {
	case opts.Database != "":
		return openSingle(opts)
	case opts.Config != "":
		return openFromConfig(opts)
	default:
		return nil, NewExitError(ExitCommandError, "one of --db or --config is required")
	}
}

// openSingle opens one database file; the handle name is the file's base
// name and the location its directory.
func openSingle(opts *SessionOptions) (*Session, error) {
	name := filepath.Base(opts.Database)
	location := filepath.Dir(opts.Database)

	eng := engine.New()
	if err := eng.Open(name, location); err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}

	sched := scheduler.New(scheduler.NewRegistry(), eng)
	if err := sched.Register(name); err != nil {
		eng.Close(name)
		return nil, WrapExitError(ExitCommandError, "register handle", err)
	}

	return &Session{
		Engine:    eng,
		Scheduler: sched,
		Handle:    name,
		handles:   []string{name},
	}, nil
}

func openFromConfig(opts *SessionOptions) (*Session, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}

	eng := engine.New()
	sched := scheduler.New(scheduler.NewRegistry(), eng,
		scheduler.WithTxTimeout(cfg.TxTimeout),
	)

	var opened []string
	cleanup := func() {
		for _, name := range opened {
			sched.Unregister(name)
			eng.Close(name)
		}
	}

	for _, h := range cfg.Handles {
		if err := eng.Open(h.Name, h.Location); err != nil {
			cleanup()
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("open handle %q", h.Name), err)
		}
		if err := sched.Register(h.Name); err != nil {
			eng.Close(h.Name)
			cleanup()
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("register handle %q", h.Name), err)
		}
		opened = append(opened, h.Name)
	}

	selected := opts.Handle
	if selected == "" {
		selected = cfg.Handles[0].Name
	}

	found := false
	for _, name := range opened {
		if name == selected {
			found = true
			break
		}
	}
	if !found {
		cleanup()
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("handle %q is not declared in %s", selected, opts.Config))
	}

	return &Session{
		Engine:    eng,
		Scheduler: sched,
		Handle:    selected,
		handles:   opened,
	}, nil
}

// CloseAll unregisters and closes every handle the session opened.
func (s *Session) CloseAll() {
	for _, name := range s.handles {
		s.Scheduler.Unregister(name)
		s.Engine.Close(name)
	}
}
