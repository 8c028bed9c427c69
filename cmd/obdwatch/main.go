// Command obdwatch polls a vehicle diagnostic adapter, raises threshold
// alerts, fills the adaptive lookup table and records CSV logs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/banshee-data/obdwatch/internal/acquisition"
	"github.com/banshee-data/obdwatch/internal/alerts"
	"github.com/banshee-data/obdwatch/internal/api"
	"github.com/banshee-data/obdwatch/internal/config"
	"github.com/banshee-data/obdwatch/internal/db"
	"github.com/banshee-data/obdwatch/internal/monitoring"
	"github.com/banshee-data/obdwatch/internal/serialmux"
	"github.com/banshee-data/obdwatch/internal/session"
	"github.com/banshee-data/obdwatch/internal/transport"
	"github.com/banshee-data/obdwatch/internal/units"
	"github.com/banshee-data/obdwatch/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to JSON config file (defaults apply when empty)")
	listen      = flag.String("listen", "", "HTTP listen address for the API and debug routes; overrides debug_listen")
	simulate    = flag.Bool("simulate", false, "Use the built-in adapter simulator instead of a real adapter")
	scan        = flag.Bool("scan", false, "List serial ports and advertised network adapters, then exit")
	scanTimeout = flag.Duration("scan-timeout", 3*time.Second, "How long -scan browses for network adapters")
	showVersion = flag.Bool("version", false, "Print version information and exit")
	quiet       = flag.Bool("quiet", false, "Suppress per-tick status lines")
)

const shutdownTimeout = 5 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath, *simulate)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.DebugListen = listen
	}

	if *scan {
		if err := scanDevices(os.Stdout, cfg, *scanTimeout); err != nil {
			log.Fatalf("scan failed: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout, monitoring.New("obdwatch ")); err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func loadConfig(path string, simulated bool) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if simulated {
		t := config.TransportSimulated
		cfg.Transport = &t
	}
	return cfg, nil
}

func scanDevices(w io.Writer, cfg *config.Config, timeout time.Duration) error {
	opts := cfg.GetSerialOptions()
	devices, err := transport.Scan(timeout,
		transport.SerialScanner{Open: func(path string) (serialmux.Port, error) {
			return serialmux.OpenSerial(path, opts)
		}},
		transport.MDNSScanner{Service: cfg.GetNetworkService(), Domain: cfg.GetNetworkDomain()},
	)
	if err != nil && len(devices) == 0 {
		return err
	}
	if err != nil {
		log.Printf("scan incomplete: %v", err)
	}
	writeDevices(w, devices)
	return nil
}

func writeDevices(w io.Writer, devices []transport.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "no adapters found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tADDRESS\tINFO")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Kind, d.Name, d.Address, d.Info)
	}
	tw.Flush()
}

// console prints display callbacks. Its methods run only on the display
// queue goroutine.
type console struct {
	out      io.Writer
	render   *alerts.Renderer
	label    lipgloss.Style
	units    string
	quiet    bool
	lastCell string
}

func newConsole(out io.Writer, system string, quiet bool) *console {
	return &console{
		out:    out,
		render: alerts.NewRenderer(),
		label:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		units:  system,
		quiet:  quiet,
	}
}

func (c *console) tick(res acquisition.TickResult) {
	for _, tr := range res.Transitions {
		tr.Value, tr.Unit = units.Convert(tr.Value, tr.Unit, c.units)
		fmt.Fprintln(c.out, c.render.Transition(tr))
	}
	if c.quiet {
		return
	}
	line := fmt.Sprintf("%s read %d/%d", res.At.Format("15:04:05"), res.Read, res.Read+res.Failed)
	if res.Point != nil {
		line += fmt.Sprintf(" table %.0f/%.0f", res.Point.Primary, res.Point.Secondary)
		if res.Populated {
			line += " (new cell)"
		}
	}
	fmt.Fprintln(c.out, line)
}

func (c *console) alerts(active []alerts.Alert) {
	if len(active) == 0 {
		return
	}
	fmt.Fprintln(c.out, c.render.Active(active))
}

func (c *console) highlight(label string) {
	if label == c.lastCell {
		return
	}
	c.lastCell = label
	if !c.quiet {
		fmt.Fprintln(c.out, "cell "+c.label.Render(label))
	}
}

// newMux mounts the API, the journal and the adapter debug routes.
func newMux(s *session.Session, journal *db.DB, cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()
	if journal != nil {
		journal.AttachAdminRoutes(mux)
	}
	s.AttachAdminRoutes(mux)

	scanners := []transport.Scanner{
		transport.SerialScanner{},
		transport.MDNSScanner{Service: cfg.GetNetworkService(), Domain: cfg.GetNetworkDomain()},
	}
	mux.Handle("/api/", api.NewServer(s, cfg.GetUnits(), scanners...).ServeMux())
	return mux
}

// run connects a session and serves until ctx is done, then prints the
// session report to out.
func run(ctx context.Context, cfg *config.Config, out io.Writer, logf monitoring.Logf) error {
	var journal *db.DB
	if path := cfg.GetJournalPath(); path != "" {
		var err error
		if journal, err = db.NewDB(path); err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer journal.Close()
	}

	var wg sync.WaitGroup
	queueCtx, stopQueue := context.WithCancel(context.Background())
	queue := acquisition.NewQueue(256)
	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Run(queueCtx)
	}()
	defer func() {
		stopQueue()
		wg.Wait()
		queue.Drain()
	}()

	con := newConsole(out, cfg.GetUnits(), *quiet)
	s, err := session.Open(ctx, session.Options{
		Config:      cfg,
		Logf:        logf,
		Journal:     journal,
		Sounder:     &alerts.Bell{W: out},
		Dispatcher:  queue,
		OnTick:      con.tick,
		OnAlerts:    con.alerts,
		OnHighlight: con.highlight,
	})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	kind, addr := s.Kind()
	logf("session %s started over %s %s", s.ID, kind, addr)

	if err := s.Start(); err != nil {
		s.Close(context.Background())
		return fmt.Errorf("failed to start polling: %w", err)
	}

	var server *http.Server
	if addr := cfg.GetDebugListen(); addr != "" {
		server = &http.Server{
			Addr:    addr,
			Handler: api.LoggingMiddleware(newMux(s, journal, cfg)),
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logf("HTTP server failed: %v", err)
			}
		}()
		logf("serving API on http://%s/api/", addr)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logf("HTTP server shutdown error: %v", err)
		}
	}
	rep := s.Report()
	if err := s.Close(shutdownCtx); err != nil {
		logf("session close: %v", err)
	}

	fmt.Fprintln(out, strings.Repeat("-", 40))
	return rep.WriteText(out)
}
