package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/robustpgo/pgo"
	"golang.org/x/sync/errgroup"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *pgo.Config
	Fleet      *pgo.Fleet
	Optimizer  pgo.Optimizer
	MQTTClient *pgo.MQTTClient
	Publisher  *pgo.Publisher

	// Output for mode summaries
	Out io.Writer

	// CLI Flags (effectively dependencies)
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

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Optimizer: pgo.NopOptimizer{},
		Out:       os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.DataDir = opts.DataDir
	a.ReplayDir = opts.ReplayDir
	a.DiagnosticsDir = opts.DiagnosticsDir
	a.RenderFile = opts.RenderFile
	a.EstimateFile = opts.EstimateFile
	a.BatchURL = opts.BatchURL
	a.GraphID = opts.GraphID
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
	a.Quiet = opts.Quiet
}

// resolveConfigPath places the default config file inside data-dir.
func (a *App) resolveConfigPath() string {
	path := a.ConfigFile
	if path == "" {
		path = "config.yaml"
	}
	if a.DataDir != "" && a.DataDir != "." && path == "config.yaml" {
		path = filepath.Join(a.DataDir, "config.yaml")
	}
	return path
}

// loadConfig reads the config file. When it does not exist and fallback
// names graphs, a config with one default-strategy graph per ID is used
// instead.
func (a *App) loadConfig(fallback []string) (*pgo.Config, error) {
	path := a.resolveConfigPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && len(fallback) > 0 {
		log.Printf("No config at %s, using default strategy for %d graph(s)", path, len(fallback))
		cfg := &pgo.Config{}
		for _, id := range fallback {
			cfg.Graphs = append(cfg.Graphs, pgo.GraphConfig{ID: id})
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg, err := pgo.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w (looked at %s)", err, path)
	}
	log.Printf("Loaded config from %s", path)
	return cfg, nil
}

// buildFleet creates one pipeline per configured graph.
func (a *App) buildFleet(cfg *pgo.Config) error {
	if a.Quiet {
		for i := range cfg.Graphs {
			cfg.Graphs[i].Strategy.Quiet = true
		}
	}
	optimizer := a.Optimizer
	if optimizer == nil {
		optimizer = pgo.NopOptimizer{}
	}
	fleet, err := pgo.NewFleet(cfg.Graphs, optimizer)
	if err != nil {
		return err
	}
	a.Config = cfg
	a.Fleet = fleet
	return nil
}

// diagnosticsDir returns the export directory; the flag wins over config.
func (a *App) diagnosticsDir() string {
	if a.DiagnosticsDir != "" {
		return a.DiagnosticsDir
	}
	if a.Config != nil {
		return a.Config.DiagnosticsDir
	}
	return ""
}

func (a *App) graphColor(id string) string {
	if a.Config == nil {
		return ""
	}
	if g := a.Config.GetGraphByID(id); g != nil {
		return g.Color
	}
	return ""
}

func (a *App) out() io.Writer {
	if a.Out == nil {
		return io.Discard
	}
	return a.Out
}

// replaySummary aggregates the results of one replayed graph
type replaySummary struct {
	GraphID         string
	Batches         int
	Accepted        int
	Rejected        int
	Reoptimizations int
	Stats           pgo.Stats
	Halted          error
}

// RunReplay feeds the batch files under ReplayDir/<graphID>/ through each
// graph's pipeline. Graphs run in parallel; batches within a graph run in
// lexical file order. An undefined key stops the replay with an error.
func (a *App) RunReplay() error {
	subdirs, err := listSubdirs(a.ReplayDir)
	if err != nil {
		return fmt.Errorf("reading replay directory: %w", err)
	}
	cfg, err := a.loadConfig(subdirs)
	if err != nil {
		return err
	}
	if err := a.buildFleet(cfg); err != nil {
		return err
	}

	ids := a.Fleet.IDs()
	summaries := make([]replaySummary, len(ids))
	g, ctx := errgroup.WithContext(context.Background())
	for i, id := range ids {
		g.Go(func() error {
			s, err := a.replayGraph(ctx, id)
			summaries[i] = s
			return err
		})
	}
	replayErr := g.Wait()

	w := a.out()
	fmt.Fprintf(w, "\nReplay of %s\n", a.ReplayDir)
	for _, s := range summaries {
		fmt.Fprintf(w, "  %s: %d batches, %d accepted, %d rejected, %d reoptimizations -> %d constraints, %d variables, %d loop closures\n",
			s.GraphID, s.Batches, s.Accepted, s.Rejected, s.Reoptimizations,
			s.Stats.Constraints, s.Stats.Variables, s.Stats.LoopClosures)
		if s.Halted != nil {
			fmt.Fprintf(w, "    HALTED: %v\n", s.Halted)
		}
	}

	if dir := a.diagnosticsDir(); dir != "" {
		if err := a.exportDiagnostics(dir); err != nil {
			log.Printf("Error exporting diagnostics: %v", err)
			if replayErr == nil {
				replayErr = err
			}
		} else {
			fmt.Fprintf(w, "Diagnostics written to %s\n", dir)
		}
	}
	return replayErr
}

func (a *App) replayGraph(ctx context.Context, id string) (replaySummary, error) {
	s := replaySummary{GraphID: id}
	p, ok := a.Fleet.Get(id)
	if !ok {
		return s, fmt.Errorf("unknown graph %s", id)
	}

	files, err := pgo.ListBatchFiles(filepath.Join(a.ReplayDir, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Printf("%s: no batch directory, skipping", id)
			return s, nil
		}
		return s, fmt.Errorf("%s: %w", id, err)
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		batch, err := pgo.ParseBatchFile(file)
		if err != nil {
			return s, fmt.Errorf("%s: %w", id, err)
		}
		res, err := p.Process(ctx, batch)
		if err != nil {
			if errors.Is(err, pgo.ErrUndefinedKey) {
				s.Halted = err
				return s, fmt.Errorf("%s: %s: %w", id, filepath.Base(file), err)
			}
			log.Printf("%s: %s: %v", id, filepath.Base(file), err)
			if res.Seq == 0 {
				continue
			}
		}
		s.Batches++
		s.Accepted += res.Accepted
		s.Rejected += res.Rejected
		if res.Reoptimize {
			s.Reoptimizations++
		}
		s.Stats = res.Stats
	}
	return s, nil
}

// listSubdirs returns the names of the directories directly under dir.
func listSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// RunRender renders an estimate snapshot to RenderFile. The format follows
// the file extension.
func (a *App) RunRender() error {
	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(a.RenderFile), "."))
	if !supportedRenderFormat(format) {
		return fmt.Errorf("unsupported render format %q (use .svg, .png or .geojson)", filepath.Ext(a.RenderFile))
	}

	est, err := pgo.LoadEstimate(a.EstimateFile)
	if err != nil {
		return err
	}

	f, err := os.Create(a.RenderFile)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if err := renderEstimate(f, est, nil, format, a.graphColor(a.GraphID)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	stats := est.Stats()
	fmt.Fprintf(a.out(), "Rendered %d variables and %d constraints to %s\n", stats.Variables, stats.Constraints, a.RenderFile)
	return nil
}

func supportedRenderFormat(format string) bool {
	switch format {
	case "svg", "png", "geojson":
		return true
	}
	return false
}

// renderEstimate writes est in the given format: svg and png go through the
// vector renderer, geojson through the orb encoder.
func renderEstimate(w io.Writer, est *pgo.Estimate, rejected []pgo.Rejection, format, color string) error {
	switch format {
	case "svg", "png":
		renderer := pgo.NewVectorRenderer(est, rejected)
		renderer.Color = color
		if format == "svg" {
			return renderer.RenderToSVG(w)
		}
		return renderer.RenderToPNG(w)
	case "geojson":
		data, err := pgo.MarshalEstimateGeoJSON(est, rejected, pgo.GeoJSONOptions{IncludeRejected: len(rejected) > 0})
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported render format %q", format)
	}
}

// RunFetch downloads one batch and admits it into GraphID. An existing
// EstimateFile seeds the pipeline and receives the updated estimate.
func (a *App) RunFetch() error {
	if a.GraphID == "" {
		return fmt.Errorf("--graph is required with --batch-url")
	}
	cfg, err := a.loadConfig([]string{a.GraphID})
	if err != nil {
		return err
	}
	if err := a.buildFleet(cfg); err != nil {
		return err
	}
	p, ok := a.Fleet.Get(a.GraphID)
	if !ok {
		return fmt.Errorf("graph %s is not configured", a.GraphID)
	}

	ctx := context.Background()
	if a.EstimateFile != "" {
		est, err := pgo.LoadEstimate(a.EstimateFile)
		switch {
		case err == nil:
			if err := seedPipeline(ctx, p, est); err != nil {
				return err
			}
			log.Printf("Seeded %s from %s", a.GraphID, a.EstimateFile)
		case errors.Is(err, fs.ErrNotExist):
			log.Printf("No estimate at %s, starting empty", a.EstimateFile)
		default:
			return err
		}
	}

	batch, err := pgo.FetchBatchWithContext(ctx, a.BatchURL)
	if err != nil {
		return err
	}
	res, err := p.Process(ctx, batch)
	if err != nil && res.Seq == 0 {
		return err
	}
	if err != nil {
		log.Printf("Warning: %v", err)
	}
	printResult(a.out(), res)

	if a.EstimateFile != "" {
		if err := pgo.SaveEstimate(a.EstimateFile, p.Snapshot()); err != nil {
			return err
		}
	}
	if dir := a.diagnosticsDir(); dir != "" {
		return a.exportDiagnostics(dir)
	}
	return nil
}

// seedPipeline loads a snapshot into an empty pipeline as a forced batch.
func seedPipeline(ctx context.Context, p *pgo.Pipeline, est *pgo.Estimate) error {
	seed := pgo.Batch{Constraints: est.Graph, Values: est.Values, Force: true}
	if seed.Empty() {
		return nil
	}
	_, err := p.Process(ctx, seed)
	return err
}

func printResult(w io.Writer, res pgo.Result) {
	fmt.Fprintf(w, "%s batch %d: accepted=%d rejected=%d newVariables=%d reoptimize=%v\n",
		res.GraphID, res.Seq, res.Accepted, res.Rejected, res.NewVariables, res.Reoptimize)
}

// handleBatch is the MQTT batch handler: admit, then publish the decision.
func (a *App) handleBatch(graphID string, batch pgo.Batch, err error) {
	if err != nil {
		log.Printf("Error receiving batch for %s: %v", graphID, err)
		return
	}
	p, ok := a.Fleet.Get(graphID)
	if !ok {
		log.Printf("Received batch for unknown graph %s", graphID)
		return
	}

	res, err := p.Process(context.Background(), batch)
	if err != nil {
		log.Printf("Error processing batch for %s: %v", graphID, err)
		if res.Seq == 0 {
			return
		}
	}
	log.Printf("%s: batch %d accepted=%d rejected=%d new=%d reoptimize=%v forced=%v",
		graphID, res.Seq, res.Accepted, res.Rejected, res.NewVariables, res.Reoptimize, res.Forced)

	if a.Publisher != nil {
		if err := a.Publisher.PublishDecision(res); err != nil {
			log.Printf("Error publishing decision for %s: %v", graphID, err)
		}
	}
}

// RunService receives batches over MQTT and serves results over HTTP until
// interrupted. Diagnostics are exported on shutdown.
func (a *App) RunService() error {
	cfg, err := a.loadConfig(nil)
	if err != nil {
		return err
	}
	if err := a.buildFleet(cfg); err != nil {
		return err
	}
	for _, g := range cfg.Graphs {
		name := g.Strategy.Name
		if name == "" {
			name = pgo.StrategyPCM
		}
		log.Printf("Graph %s: strategy %s", g.ID, name)
	}

	if a.MqttMode {
		mqttClient, err := pgo.InitMQTT(cfg, a.handleBatch)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return fmt.Errorf("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = mqttClient
		a.Publisher = pgo.NewPublisher(mqttClient.GetClient(), cfg.MQTT.PublishPrefix)
		fmt.Fprintln(a.out(), "MQTT decision publisher initialized")
	}

	var server *http.Server
	if a.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.Fleet, cfg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	a.printServiceInfo()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(a.out(), "\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
	}
	if dir := a.diagnosticsDir(); dir != "" {
		if err := a.exportDiagnostics(dir); err != nil {
			log.Printf("Error exporting diagnostics: %v", err)
		} else {
			log.Printf("Diagnostics written to %s", dir)
		}
	}
	fmt.Fprintln(a.out(), "Service stopped")
	return nil
}

func (a *App) printServiceInfo() {
	w := a.out()
	fmt.Fprintln(w, "\nService Running")
	fmt.Fprintln(w, "===============")

	if a.MqttMode {
		fmt.Fprintln(w, "\nMQTT:")
		fmt.Fprintln(w, "  Subscribed topics:")
		for _, g := range a.Config.Graphs {
			fmt.Fprintf(w, "    - %s (%s), forced: %s/force\n", g.Topic, g.ID, g.Topic)
		}
		prefix := a.Config.MQTT.PublishPrefix
		if prefix == "" {
			prefix = "robustpgo"
		}
		fmt.Fprintf(w, "  Publishing to: %s/{graphID}/decision\n", prefix)
		fmt.Fprintf(w, "  Combined decisions: %s/decisions\n", prefix)
	}

	if a.HttpMode {
		fmt.Fprintf(w, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(w, "  GET /health                          - Health check")
		fmt.Fprintln(w, "  GET /graphs                          - Graph summaries")
		fmt.Fprintln(w, "  GET /graphs/{id}/estimate.json       - Accepted estimate")
		fmt.Fprintln(w, "  GET /graphs/{id}/rejected.json       - Rejected-edge log")
		fmt.Fprintln(w, "  GET /graphs/{id}/trajectory.geojson  - Trajectories and loop closures")
		fmt.Fprintln(w, "  GET /graphs/{id}/graph.svg           - Vector render")
		fmt.Fprintln(w, "  GET /graphs/{id}/graph.png           - Raster render")
		fmt.Fprintln(w, "  GET /metrics                         - Prometheus metrics")
	}

	fmt.Fprintln(w, "\nPress Ctrl+C to stop")
}

// exportDiagnostics writes, per graph, the strategy diagnostics plus the
// estimate snapshot, GeoJSON and renders into dir/<graphID>/.
func (a *App) exportDiagnostics(dir string) error {
	for _, id := range a.Fleet.IDs() {
		p, _ := a.Fleet.Get(id)
		gdir := filepath.Join(dir, id)
		est := p.Snapshot()
		rejected := p.Rejections()

		if err := pgo.SaveEstimate(filepath.Join(gdir, pgo.DefaultEstimateFile), est); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		if err := p.SaveData(gdir); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		for _, format := range []string{"geojson", "svg"} {
			name := "graph." + format
			if format == "geojson" {
				name = "trajectory.geojson"
			}
			if err := writeRender(filepath.Join(gdir, name), est, rejected, format, a.graphColor(id)); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
		}

		raster := pgo.NewGraphRenderer(est, rejected)
		raster.Color = a.graphColor(id)
		raster.Title = id
		if err := raster.SavePNG(filepath.Join(gdir, "graph.png")); err != nil {
			return fmt.Errorf("%s: writing graph.png: %w", id, err)
		}
	}
	return nil
}

func writeRender(path string, est *pgo.Estimate, rejected []pgo.Rejection, format, color string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := renderEstimate(f, est, rejected, format, color); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
