// recordctl inspects safecodec record streams and the artifacts around them:
// framed record files, compression envelopes, schema manifests and decode
// policies.
//
//	recordctl header   [file]
//	recordctl dump     --manifest m.cbor --type NAME [--policy p.toml] [file]
//	recordctl pack     --compression zstd [file]
//	recordctl unpack   --max-size N [file]
//	recordctl diff     old.cbor new.cbor
//	recordctl policy   --manifest m.cbor policy.toml
//
// A missing file argument or "-" reads standard input.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

type command struct {
	name    string
	summary string
	run     func(app *app, args []string) error
}

var commands = []command{
	{"header", "print the header of every framed record", runHeader},
	{"dump", "decode framed records through a manifest and print their fields", runDump},
	{"pack", "wrap input in a compression envelope", runPack},
	{"unpack", "open a compression envelope under a size cap", runUnpack},
	{"diff", "compare two schema manifests", runDiff},
	{"policy", "validate a decode policy file", runPolicy},
}

type app struct {
	stdin  io.Reader
	stdout io.Writer
	log    zerolog.Logger
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("app", "recordctl").Logger()
	a := &app{stdin: os.Stdin, stdout: os.Stdout, log: log}
	if err := a.run(os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("failed")
		os.Exit(1)
	}
}

func (a *app) run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		a.usage()
		return nil
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(a, args[1:])
		}
	}
	a.usage()
	return fmt.Errorf("unknown command %q", args[0])
}

func (a *app) usage() {
	fmt.Fprintln(a.stdout, "usage: recordctl <command> [flags] [args]")
	fmt.Fprintln(a.stdout)
	for _, c := range commands {
		fmt.Fprintf(a.stdout, "  %-8s %s\n", c.name, c.summary)
	}
}

// flags returns a flag set that reports errors instead of exiting.
func (a *app) flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("recordctl "+name, pflag.ContinueOnError)
	fs.SetOutput(a.stdout)
	return fs
}

// open returns the input named by the first positional argument.
func (a *app) open(args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(a.stdin), nil
	}
	return os.Open(args[0])
}
