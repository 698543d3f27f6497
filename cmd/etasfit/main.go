// Command etasfit evaluates Bayesian priors of ETAS aftershock parameters
// over a discretized parameter grid and manages the regional parameter
// tables the priors are built from.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/etasfit/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("etasfit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }
	showVersion := fs.Bool("version", false, "Print version information and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "etasfit %s\n", version.String())
		return 0
	}
	if fs.NArg() < 1 {
		printUsage(stderr)
		return 2
	}

	command, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	switch command {
	case "prior":
		err = runPrior(rest, stdout, stderr)
	case "regimes":
		err = runRegimes(rest, stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "etasfit %s\n", version.String())
	case "help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return 2
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "etasfit %s: %v\n", command, err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `etasfit - Bayesian ETAS prior evaluation

Usage: etasfit [-version] <command> [options]

Commands:
  prior      Sweep the configured grid under the prior alone and write
             the marginal moments as JSON
  regimes    Manage regional prior parameters (import, show, resolve)
  version    Show version information
  help       Show this help message

Examples:
  etasfit prior -config fit.json -regimes regimes.json -out kaikoura.json
  etasfit prior -config fit.json -db regimes.db -out-dir results/
  etasfit regimes import -db regimes.db -file regimes.json
  etasfit regimes show -db regimes.db
  etasfit regimes resolve -db regimes.db -lat -42.69 -lon 173.02`)
}
