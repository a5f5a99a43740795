package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/banshee-data/ride.report/internal/api"
	"github.com/banshee-data/ride.report/internal/config"
	"github.com/banshee-data/ride.report/internal/db"
	"github.com/banshee-data/ride.report/internal/httputil"
	"github.com/banshee-data/ride.report/internal/location"
	"github.com/banshee-data/ride.report/internal/serialmux"
	"github.com/banshee-data/ride.report/internal/trip"
	"github.com/banshee-data/ride.report/internal/version"
)

// Dev mode rides east along the Embankment at a steady pace.
const (
	devLatitude   = 51.5074
	devLongitude  = -0.1278
	devSpeedKmh   = 42
	devHeadingDeg = 90
)

var lookupEnv = os.LookupEnv

type options struct {
	configPath  string
	listen      string
	dbPath      string
	remote      string
	dev         bool
	disableGPS  bool
	autoMigrate bool
	showVersion bool
}

func parseFlags(args []string, out io.Writer) (*options, []string, error) {
	fs := flag.NewFlagSet("ridecomputer", flag.ContinueOnError)
	fs.SetOutput(out)

	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "Path to a .json or .yaml settings file")
	fs.StringVar(&opts.listen, "listen", "", "Listen address (default "+config.DefaultListen+")")
	fs.StringVar(&opts.dbPath, "db", "", "Ride log path (default "+config.DefaultDBPath+")")
	fs.StringVar(&opts.remote, "remote", "http://localhost:8080", "Ride computer to drive with the trip and refuel commands")
	fs.BoolVar(&opts.dev, "dev", false, "Ride a simulated receiver instead of the serial port")
	fs.BoolVar(&opts.disableGPS, "disable-gps", false, "Run without a receiver")
	fs.BoolVar(&opts.autoMigrate, "auto-migrate", true, "Apply pending migrations at startup")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if opts.dev && opts.disableGPS {
		return nil, nil, errors.New("-dev and -disable-gps are mutually exclusive")
	}
	return opts, fs.Args(), nil
}

// loadConfig reads the settings file, then RIDE_* variables, then flags.
func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.Empty()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(opts.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(lookupEnv); err != nil {
		return nil, err
	}
	if opts.listen != "" {
		cfg.Listen = &opts.listen
	}
	if opts.dbPath != "" {
		cfg.DBPath = &opts.dbPath
	}
	return cfg, nil
}

func main() {
	// .env.local wins over .env; neither is required
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("ridecomputer: %v", err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, rest, err := parseFlags(args, out)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(out, "ridecomputer %s\n", version.String())
		return nil
	}

	if len(rest) > 0 {
		switch rest[0] {
		case "migrate":
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return db.RunMigrateCommand(rest[1:], cfg.GetDBPath(), out)
		case "trip", "refuel", "help":
			return api.RunRemoteCommand(ctx, httputil.NewClient(opts.remote, nil), rest, out)
		default:
			api.PrintRemoteHelp(out)
			return fmt.Errorf("unknown command %q", rest[0])
		}
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.GetListen())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GetListen(), err)
	}
	return serve(ctx, ln, cfg, opts)
}

func receiverOpener(cfg *config.Config, opts *options) location.Opener {
	switch {
	case opts.disableGPS:
		return func() (serialmux.SerialMuxInterface, error) {
			return serialmux.NewDisabledSerialMux(), nil
		}
	case opts.dev:
		sim := location.NewSimulator(devLatitude, devLongitude, devSpeedKmh, devHeadingDeg)
		return func() (serialmux.SerialMuxInterface, error) {
			return serialmux.NewMockSerialMux(sim.Lines, time.Second), nil
		}
	default:
		return location.SerialOpener(serialmux.NewRealSerialPortFactory(), cfg.GetSerialPort(), cfg.PortOptions())
	}
}

// serve runs the trip computer on ln until ctx is cancelled, then logs any
// open ride and shuts down.
func serve(ctx context.Context, ln net.Listener, cfg *config.Config, opts *options) error {
	store, err := db.NewDBWithMigrationCheck(cfg.GetDBPath(), opts.autoMigrate)
	if err != nil {
		ln.Close()
		return fmt.Errorf("failed to open ride log: %w", err)
	}
	defer store.Close()

	src := location.NewSource(receiverOpener(cfg, opts), location.Options{
		FixTimeout:             cfg.GetFixTimeout(),
		StaleFixTolerance:      cfg.GetStaleFixTolerance(),
		UEREMeters:             cfg.GetUEREMeters(),
		FallbackAccuracyMeters: cfg.GetFallbackAccuracyMeters(),
	})
	defer src.StopTracking()

	ctrl := trip.NewController(src, store, trip.Options{
		SmoothingFactor:   cfg.GetSmoothingFactor(),
		MeaningfulTripKm:  cfg.GetMeaningfulTripKm(),
		DefaultKmPerLitre: cfg.GetDefaultKmPerLitre(),
	})

	apiServer := api.NewServer(ctrl, store, api.Options{
		Units:           cfg.GetDisplayUnits(),
		RefreshInterval: cfg.GetRefreshInterval(),
		CORSOrigins:     cfg.GetCORSOrigins(),
	})
	mux := apiServer.ServeMux()

	// mount the admin debugging routes (loopback or tailnet only)
	if err := store.AttachAdminRoutes(mux); err != nil {
		ln.Close()
		return fmt.Errorf("failed to attach db admin routes: %w", err)
	}
	if opts.disableGPS {
		serialmux.NewDisabledSerialMux().AttachAdminRoutes(mux)
	} else {
		serialmux.AttachReceiverRoutes(mux, src.Receiver)
	}

	server := &http.Server{
		Handler:           apiServer.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("listening on %s", ln.Addr())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	wg.Wait()

	// an open ride is logged rather than lost
	res, err := ctrl.Stop()
	switch {
	case errors.Is(err, trip.ErrNotRiding):
	case err != nil:
		log.Printf("failed to log open ride on shutdown: %v", err)
	case res.Saved:
		log.Printf("logged open ride %s: %.2f km", res.Ride.TripID, res.Ride.DistanceKm)
	}

	log.Printf("Graceful shutdown complete")
	return runErr
}
