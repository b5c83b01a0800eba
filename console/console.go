// Package console implements the line based maintenance shell.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-errors/errors"
	"github.com/google/shlex"
	"github.com/the-lightning-land/fotad/provision"
)

const (
	banner = "fotad console, type help for a list of commands"
	masked = "<hidden>"
)

// Store is the key/value store the shell edits.
type Store interface {
	Get(key string) (string, error)
	Set(key string, value string) error
	Del(key string) error
	Keys() ([]string, error)
	Wipe() error
}

type Rebooter interface {
	Reboot() error
}

type Config struct {
	Store   Store
	Machine Rebooter
	In      io.Reader
	Out     io.Writer
	Prompt  string
	// Hidden keys are never printed. Defaults to the device private key.
	Hidden []string
	Logger Logger
}

type command struct {
	usage string
	// args is the minimum number of arguments after the command name.
	args int
	run  func(args []string)
}

type Console struct {
	store    Store
	machine  Rebooter
	in       io.Reader
	out      io.Writer
	prompt   string
	hidden   map[string]bool
	log      Logger
	commands map[string]*command
}

func New(config *Config) *Console {
	c := &Console{
		store:   config.Store,
		machine: config.Machine,
		in:      config.In,
		out:     config.Out,
		prompt:  config.Prompt,
		hidden:  make(map[string]bool),
	}

	hidden := config.Hidden
	if hidden == nil {
		hidden = []string{provision.KeyDeviceKey}
	}
	for _, key := range hidden {
		c.hidden[key] = true
	}

	if config.Logger != nil {
		c.log = config.Logger
	} else {
		c.log = noopLogger{}
	}

	if c.prompt == "" {
		c.prompt = "> "
	}

	c.commands = map[string]*command{
		"get": {
			usage: "Get the value for the given key. Usage: get <key> defaults to *=all",
			run:   c.get,
		},
		"set": {
			usage: "Set a key to the given value. Usage: set <key> <value>",
			args:  2,
			run:   c.set,
		},
		"del": {
			usage: "Delete a key from the store. Usage: del <key>",
			args:  1,
			run:   c.del,
		},
		"reboot": {
			usage: "Reboot the device. Usage: reboot",
			run:   c.reboot,
		},
		"flashything": {
			usage: "Delete all user data. Usage: flashything",
			run:   c.flashything,
		},
		"help": {
			usage: "Show this help. Usage: help",
			run:   c.help,
		},
	}

	return c
}

// Run reads commands line by line until the input ends or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	errs := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	c.printf("%v\n", banner)
	c.printf("%v", c.prompt)

	for {
		select {
		case line := <-lines:
			c.Execute(line)
			c.printf("%v", c.prompt)
		case err := <-errs:
			if err != nil {
				return errors.Errorf("could not read console input: %v", err)
			}
			c.log.Debugf("Console input closed")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Execute runs a single command line.
func (c *Console) Execute(line string) {
	params, err := shlex.Split(line)
	if err != nil {
		c.printf("Could not parse command: %v\n", err)
		return
	}

	if len(params) == 0 {
		return
	}

	name := strings.ToLower(params[0])

	cmd, ok := c.commands[name]
	if !ok {
		c.printf("Unknown command %v, type help for a list of commands\n", params[0])
		return
	}

	if len(params)-1 < cmd.args {
		c.printf("Not enough arguments!\n")
		return
	}

	c.log.Debugf("Running console command %v", name)

	cmd.run(params[1:])
}

func (c *Console) get(args []string) {
	if len(args) == 0 || args[0] == "*" {
		keys, err := c.store.Keys()
		if err != nil {
			c.printf("Could not list keys: %v\n", err)
			return
		}

		for _, key := range keys {
			value, err := c.store.Get(key)
			if err != nil {
				c.printf("%v: %v\n", key, err)
				continue
			}
			c.printf("%v=%v\n", key, c.mask(key, value))
		}

		return
	}

	value, err := c.store.Get(args[0])
	if err != nil {
		c.printf("%v\n", err)
		return
	}

	c.printf("%v\n", c.mask(args[0], value))
}

func (c *Console) set(args []string) {
	if err := c.store.Set(args[0], args[1]); err != nil {
		c.printf("Could not set %v: %v\n", args[0], err)
		return
	}

	c.log.Infof("Console changed key %v", args[0])
	c.printf("%v=%v\n", args[0], c.mask(args[0], args[1]))
}

func (c *Console) del(args []string) {
	if err := c.store.Del(args[0]); err != nil {
		c.printf("Could not delete %v: %v\n", args[0], err)
		return
	}

	c.log.Infof("Console deleted key %v", args[0])
	c.printf("Deleted key %v\n", args[0])
}

func (c *Console) reboot(args []string) {
	c.printf("Rebooting...\n")

	if err := c.machine.Reboot(); err != nil {
		c.printf("Could not reboot: %v\n", err)
	}
}

func (c *Console) flashything(args []string) {
	if err := c.store.Wipe(); err != nil {
		c.printf("Could not delete user data: %v\n", err)
		return
	}

	c.log.Warnf("All user data was deleted from the console")
	c.printf("All user data deleted\n")
}

func (c *Console) help(args []string) {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c.printf("%-12v %v\n", name, c.commands[name].usage)
	}
}

func (c *Console) mask(key string, value string) string {
	if c.hidden[key] {
		return masked
	}
	return value
}

func (c *Console) printf(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(c.out, format, args...); err != nil {
		c.log.Warnf("Could not write to console: %v", err)
	}
}
