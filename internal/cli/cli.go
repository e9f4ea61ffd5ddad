// Package cli parses the boowebserver command line.
//
// Usage: boowebserver COMMAND [OPTIONS]
//
// Options use the single-dash spelling of the standard flag package (-ip,
// -p, -tp) and may each be given once. Option names are case-insensitive.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// Command is the action selected by the first argument.
type Command int

const (
	CommandHelp Command = iota
	CommandStart
	CommandVersion
	CommandInit
	CommandUserAdd
)

func (c Command) String() string {
	switch c {
	case CommandHelp:
		return "help"
	case CommandStart:
		return "start"
	case CommandVersion:
		return "version"
	case CommandInit:
		return "init"
	case CommandUserAdd:
		return "useradd"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

var commands = map[string]Command{
	"help":    CommandHelp,
	"start":   CommandStart,
	"version": CommandVersion,
	"init":    CommandInit,
	"useradd": CommandUserAdd,
}

// Options is a parsed command line. Only the fields relevant to Command are
// set; the rest keep their zero values.
type Options struct {
	Command Command

	// ConfigPath is the -c option (start, init, useradd). Empty means the
	// default location.
	ConfigPath string

	// start
	Address  string
	Port     int
	PoolSize int

	// Pooled is true when -tp was given. Without it the server runs in
	// cooperative mode.
	Pooled  bool
	NoTLS   bool
	Verbose bool

	// init
	Force bool

	// useradd
	Username string
	Password string
}

// onceValue is a string flag that rejects a second occurrence.
type onceValue struct {
	name  string
	value string
	set   bool
}

func (o *onceValue) String() string { return o.value }

func (o *onceValue) Set(s string) error {
	if o.set {
		return fmt.Errorf("option '-%s' is allowed once", o.name)
	}
	o.value = s
	o.set = true
	return nil
}

// onceBool is a boolean flag that rejects a second occurrence.
type onceBool struct {
	name  string
	value bool
	set   bool
}

func (o *onceBool) String() string   { return strconv.FormatBool(o.value) }
func (o *onceBool) IsBoolFlag() bool { return true }

func (o *onceBool) Set(s string) error {
	if o.set {
		return fmt.Errorf("option '--%s' is allowed once", o.name)
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	o.value = v
	o.set = true
	return nil
}

// Parse parses args, where args[0] is the program name as in os.Args.
//
// All failures are *ConfigError.
func Parse(args []string) (*Options, error) {
	if len(args) <= 1 {
		return nil, newError(NotEnoughArguments, "")
	}

	cmd, ok := commands[strings.ToLower(args[1])]
	if !ok {
		return nil, newError(UnknownCommand, "%s", args[1])
	}

	opts := &Options{Command: cmd}
	rest := args[2:]

	switch cmd {
	case CommandHelp, CommandVersion:
		return opts, nil
	case CommandStart:
		return opts, parseStart(opts, rest)
	case CommandInit:
		return opts, parseInit(opts, rest)
	default:
		return opts, parseUserAdd(opts, rest)
	}
}

// normalize lowercases the names of options registered on fs, leaving
// values (including ones that start with a dash) untouched.
func normalize(fs *flag.FlagSet, args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a
		if !strings.HasPrefix(a, "-") {
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if fs.Lookup(strings.ToLower(name)) == nil {
			continue
		}
		dashes := a[:len(a)-len(strings.TrimLeft(a, "-"))]
		out[i] = dashes + strings.ToLower(name)
		if hasValue {
			out[i] += "=" + value
		}
	}
	return out
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parseFlags runs fs and maps the flag package's errors onto ConfigError.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(normalize(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) || strings.HasPrefix(err.Error(), "flag provided but not defined") {
			return newError(UnknownCommand, "option not available.")
		}
		return newError(ParseError, "%s", flagErrorDetail(err))
	}
	if fs.NArg() > 0 {
		return newError(UnknownCommand, "option not available.")
	}
	return nil
}

// flagErrorDetail strips the flag package's `invalid value "x" for flag -y:`
// prefix, keeping the reason reported by Set.
func flagErrorDetail(err error) string {
	msg := err.Error()
	if strings.HasPrefix(msg, "invalid ") {
		if _, reason, ok := strings.Cut(msg, ": "); ok {
			return reason
		}
	}
	return msg
}

func parseStart(opts *Options, args []string) error {
	ip := &onceValue{name: "ip"}
	port := &onceValue{name: "p"}
	pool := &onceValue{name: "tp"}
	config := &onceValue{name: "c"}
	noTLS := &onceBool{name: "notls"}
	v := &onceBool{name: "v"}
	verbose := &onceBool{name: "verbose"}

	fs := newFlagSet("start")
	fs.Var(ip, "ip", "IP address of the web server")
	fs.Var(port, "p", "listening port of the web server")
	fs.Var(pool, "tp", "thread pool size; selects pooled mode")
	fs.Var(config, "c", "configuration file")
	fs.Var(noTLS, "notls", "serve without TLS")
	fs.Var(v, "v", "verbose logging")
	fs.Var(verbose, "verbose", "verbose logging")

	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if !ip.set {
		return newError(MissingOption, "-ip")
	}
	if !port.set {
		return newError(MissingOption, "-p")
	}

	if net.ParseIP(ip.value) == nil {
		return newError(ParseError, "invalid ip address %q", ip.value)
	}
	p, err := strconv.Atoi(port.value)
	if err != nil || p < 0 || p > 65535 {
		return newError(ParseError, "invalid port %q", port.value)
	}

	opts.Address = ip.value
	opts.Port = p
	opts.ConfigPath = config.value
	opts.NoTLS = noTLS.value
	opts.Verbose = v.value || verbose.value

	if pool.set {
		n, err := strconv.Atoi(pool.value)
		if err != nil || n < 0 {
			return newError(ParseError, "invalid thread pool size %q", pool.value)
		}
		opts.Pooled = true
		opts.PoolSize = n
	}
	return nil
}

func parseInit(opts *Options, args []string) error {
	config := &onceValue{name: "c"}
	force := &onceBool{name: "force"}

	fs := newFlagSet("init")
	fs.Var(config, "c", "configuration file to write")
	fs.Var(force, "force", "overwrite an existing file")

	if err := parseFlags(fs, args); err != nil {
		return err
	}

	opts.ConfigPath = config.value
	opts.Force = force.value
	return nil
}

func parseUserAdd(opts *Options, args []string) error {
	user := &onceValue{name: "u"}
	pwd := &onceValue{name: "pw"}
	config := &onceValue{name: "c"}

	fs := newFlagSet("useradd")
	fs.Var(user, "u", "user name")
	fs.Var(pwd, "pw", "password")
	fs.Var(config, "c", "configuration file")

	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if !user.set {
		return newError(MissingOption, "-u")
	}
	if !pwd.set {
		return newError(MissingOption, "-pw")
	}

	opts.Username = user.value
	opts.Password = pwd.value
	opts.ConfigPath = config.value
	return nil
}

const helpText = `
Usage: boowebserver COMMAND [OPTIONS]

Commands:
  help          Show this help message and exit
  start         Start the web server
  version       Show the program's version number and exit
  init          Write a sample configuration file
  useradd       Add a user to the configured credential store

Start options:
  -ip           IP address of the web server, e.g. '-ip 127.0.0.1'
  -p            Listening port of the web server, e.g. '-p 8080'
  -tp           Thread pool size, e.g. '-tp 10' (omit for cooperative mode)
  --notls       Serve plaintext HTTP instead of TLS
  --v, --verbose
                Log every connection at DEBUG level
  -c            Configuration file (default $XDG_CONFIG_HOME/boowebserver/config.yaml)

Init options:
  -c            Path to write (default location if omitted)
  --force       Overwrite an existing file

Useradd options:
  -u            User name
  -pw           Password
  -c            Configuration file

Usage example:
  boowebserver start -ip 127.0.0.1 -p 8080 -tp 10
`

// PrintHelp writes the usage text to w.
func PrintHelp(w io.Writer) {
	_, _ = fmt.Fprint(w, helpText)
}
