package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/pflag"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command-line options
type AppOptions struct {
	ConfigFile     string
	DataDir        string
	ReplayDir      string
	DiagnosticsDir string
	RenderFile     string
	EstimateFile   string
	BatchURL       string
	GraphID        string
	HttpPort       int
	MqttMode       bool
	HttpMode       bool
	Quiet          bool
}

// Runner is the set of modes the command can dispatch to
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunReplay() error
	RunRender() error
	RunFetch() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

// run parses args and dispatches to the selected mode.
func run(args []string, out io.Writer, app Runner) error {
	fs := pflag.NewFlagSet("robustpgo", pflag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.DataDir, "data-dir", ".", "Directory that holds config.yaml when --config is left at its default")
	fs.StringVar(&opts.ReplayDir, "replay", "", "Replay batch files from DIR/<graphID>/ in lexical order and exit")
	fs.StringVar(&opts.DiagnosticsDir, "diagnostics-dir", "", "Directory for rejected-edge logs, estimates and renders (overrides config)")
	fs.StringVar(&opts.RenderFile, "render", "", "Render --estimate to FILE (.svg, .png or .geojson) and exit")
	fs.StringVar(&opts.EstimateFile, "estimate", "estimate.json", "Estimate snapshot used by --render and --batch-url")
	fs.StringVar(&opts.BatchURL, "batch-url", "", "Fetch one batch over HTTP, admit it into --graph and exit")
	fs.StringVar(&opts.GraphID, "graph", "", "Graph ID for --batch-url")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Receive batches over MQTT and publish decisions")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve estimates, renders and metrics over HTTP")
	fs.BoolVarP(&opts.Quiet, "quiet", "q", false, "Silence strategy debug output")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "robustpgo version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.ReplayDir != "":
		return app.RunReplay()
	case opts.RenderFile != "":
		return app.RunRender()
	case opts.BatchURL != "":
		return app.RunFetch()
	default:
		fmt.Fprintln(out, "robustpgo service starting...")
		return app.RunService()
	}
}
