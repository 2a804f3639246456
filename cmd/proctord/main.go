// proctord - Exam-integrity monitoring daemon
//
//	proctord run        Run a monitored assessment session
//	proctord report     Show archived session reports
//	proctord status     Show configuration and sensor availability
//	proctord keygen     Generate a report signing keypair
//	proctord verify     Verify an archived report signature
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"proctord/internal/config"
	"proctord/internal/ledger"
	"proctord/internal/logging"
	"proctord/internal/monitor"
	"proctord/internal/sensor"
	"proctord/internal/signer"
	"proctord/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "run":
		cmdRun()
	case "report":
		cmdReport()
	case "status":
		cmdStatus()
	case "keygen":
		cmdKeygen()
	case "verify":
		cmdVerify()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`proctord - Exam-Integrity Monitoring

USAGE:
    proctord <command> [options]

COMMANDS:
    run         Run a monitored assessment session (Ctrl+C ends it)
    report      Show archived session reports
    status      Show configuration and sensor availability
    keygen      Generate a report signing keypair
    verify      Verify an archived report signature
    help        Show this help message

WORKFLOW:
    1. proctord keygen                  # One-time setup
    2. proctord run                     # Monitor an assessment attempt
    3. (assessment happens; violations are recorded live)
    4. Ctrl+C                           # Session ends, report is archived
    5. proctord report --id 1           # Inspect the report
    6. proctord verify --id 1           # Prove it was not edited

PRIVACY NOTE:
    Monitoring classifies signals - it does NOT record video, audio,
    or keystroke content. Only violation events and counters persist.`)
}

// loadConfig reads the config file and prepares logging.
func loadConfig(path string) *config.Config {
	cfg, _ := loadConfigWithLoader(path)
	return cfg
}

func loadConfigWithLoader(path string) (*config.Config, *config.Loader) {
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	format, _ := logging.ParseFormat(cfg.Logging.Format)
	logger, err := logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		Component: "proctord",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)

	return cfg, loader
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return home + "/.proctord/config.toml"
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "config file path")
	simulate := fs.Bool("simulate", false, "use simulated sensors driven from stdin")
	strict := fs.Bool("strict", true, "strict mode (fullscreen, right-click, audio rules)")
	fs.Parse(os.Args[2:])

	cfg, loader := loadConfigWithLoader(*configPath)
	cfg.Session.StrictMode = *strict

	if err := cfg.EnsureDirectories(); err != nil {
		fatal("create data directory: %v", err)
	}

	// Config edits reload live but apply to the next session; the
	// running session keeps the policy it started with.
	loader.OnChange(func(c *config.Config) {
		logging.Default().Info("configuration reloaded, applies to next session")
	})
	if err := loader.Watch(); err != nil {
		logging.Default().Warn("config watch unavailable", "error", err)
	}
	defer loader.Close()

	var (
		provider sensor.Provider
		source   sensor.Source
		fsctl    sensor.FullscreenController
		sim      *sensor.SimSource
	)
	if *simulate {
		simProvider := sensor.NewSimProvider()
		sim = sensor.NewSimSource()
		provider, source, fsctl = simProvider, sim, sim
	} else {
		opts := sensor.DefaultPlatformOptions()
		opts.WindowClass = cfg.Sensors.WindowClass
		opts.FocusPollInterval = cfg.FocusPollInterval()
		opts.VideoDevicePath = cfg.Sensors.VideoDevice
		opts.FrameWidth = cfg.Sensors.FrameWidth
		opts.FrameHeight = cfg.Sensors.FrameHeight
		provider = sensor.NewPlatformProvider(opts)
		source = sensor.NewPlatformSource(opts)
		fsctl = sensor.UnsupportedFullscreen{}
	}

	monCfg := monitor.Config{
		StrictMode:        cfg.Session.StrictMode,
		PollInterval:      cfg.PollInterval(),
		AcquireRetryDelay: cfg.AcquireRetryDelay(),
		OnViolation: func(v ledger.Violation) {
			fmt.Printf("  [%s] %-18s %s (%s)\n",
				v.Timestamp.Format("15:04:05"), v.Kind, v.Description, v.Severity)
		},
		OnReadinessChanged: func(ready bool) {
			if ready {
				fmt.Println("  system ready")
			} else {
				fmt.Println("  system NOT ready")
			}
		},
	}

	mon, err := monitor.New(monCfg, provider, source, fsctl, logging.Default().Logger)
	if err != nil {
		fatal("create monitor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mon.Start(ctx); err != nil {
		fatal("start session: %v", err)
	}
	fmt.Printf("Session started (strict_mode=%v). Ctrl+C to end.\n", cfg.Session.StrictMode)
	if status := mon.CameraStatus(); status != nil {
		fmt.Printf("Camera unavailable: %v\n", status)
	}

	done := make(chan struct{})
	if sim != nil {
		fmt.Println("Simulated sensors: type 'help' for commands.")
		go driveSimulation(sim, mon, done)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	close(done)

	if err := mon.Stop(); err != nil {
		fatal("stop session: %v", err)
	}

	rep := mon.Report(time.Now())
	data, err := rep.Encode()
	if err != nil {
		fatal("encode report: %v", err)
	}

	var signature []byte
	if priv, err := signer.LoadPrivateKey(cfg.Signing.KeyPath); err == nil {
		signature = signer.SignReport(priv, data)
	}

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		fatal("open session archive: %v", err)
	}
	defer st.Close()

	id, err := st.ArchiveSession(mon.Ledger(), rep, cfg.Session.StrictMode, signature)
	if err != nil {
		fatal("archive session: %v", err)
	}

	fmt.Printf("\nSession archived (id=%d)\n", id)
	fmt.Printf("%s\n", data)
}

// driveSimulation reads sensor commands from stdin in simulate mode.
func driveSimulation(sim *sensor.SimSource, mon *monitor.Monitor, done <-chan struct{}) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-done:
			return
		default:
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "help":
			fmt.Println("  blur | focus | hide | show | fsenter | fsexit | rightclick")
			fmt.Println("  key <combo>      e.g. key ctrl+c, key alt+tab, key f12")
			fmt.Println("  ready            print readiness")
		case "blur":
			sim.PushFocus(false)
		case "focus":
			sim.PushFocus(true)
		case "hide":
			sim.PushVisibility(true)
		case "show":
			sim.PushVisibility(false)
		case "fsenter":
			sim.PushFullscreen(true)
		case "fsexit":
			sim.PushFullscreen(false)
		case "rightclick":
			sim.PushContextMenu()
		case "key":
			if len(fields) > 1 {
				sim.PushKey(parseKeyCombo(fields[1]))
			}
		case "ready":
			fmt.Printf("  ready=%v\n", mon.IsReady())
		default:
			fmt.Printf("  unknown command %q (try 'help')\n", fields[0])
		}
	}
}

// parseKeyCombo parses "ctrl+shift+i" style chords.
func parseKeyCombo(s string) sensor.KeyEvent {
	var ev sensor.KeyEvent
	for _, part := range strings.Split(strings.ToLower(s), "+") {
		switch part {
		case "ctrl":
			ev.Ctrl = true
		case "alt":
			ev.Alt = true
		case "shift":
			ev.Shift = true
		case "meta", "cmd":
			ev.Meta = true
		default:
			ev.Key = part
		}
	}
	return ev
}

func cmdReport() {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "config file path")
	id := fs.Int64("id", 0, "session id (0 = list recent sessions)")
	limit := fs.Int("limit", 10, "max sessions to list")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		fatal("open session archive: %v", err)
	}
	defer st.Close()

	if *id == 0 {
		sessions, err := st.ListSessions(*limit)
		if err != nil {
			fatal("list sessions: %v", err)
		}
		if len(sessions) == 0 {
			fmt.Println("No archived sessions.")
			return
		}
		fmt.Printf("%-5s %-20s %-8s %-6s %-12s %s\n",
			"ID", "STARTED", "STRICT", "RISK", "TAB_SWITCH", "SUSPICIOUS")
		for _, s := range sessions {
			fmt.Printf("%-5d %-20s %-8v %-6d %-12d %v\n",
				s.ID, s.StartedAt.Format("2006-01-02 15:04:05"),
				s.StrictMode, s.RiskScore, s.TabSwitches, s.Suspicious)
		}
		return
	}

	sess, err := st.GetSession(*id)
	if err != nil {
		fatal("get session: %v", err)
	}
	if sess == nil {
		fatal("no session with id %d", *id)
	}
	fmt.Printf("%s\n", sess.ReportJSON)
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "config file path")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)

	fmt.Println("proctord status")
	fmt.Printf("  data dir:       %s\n", cfg.DataDir)
	fmt.Printf("  strict mode:    %v\n", cfg.Session.StrictMode)
	fmt.Printf("  poll interval:  %s\n", cfg.PollInterval())
	fmt.Printf("  window class:   %s\n", cfg.Sensors.WindowClass)
	fmt.Printf("  video device:   %s\n", cfg.Sensors.VideoDevice)

	opts := sensor.DefaultPlatformOptions()
	opts.WindowClass = cfg.Sensors.WindowClass
	src := sensor.NewPlatformSource(opts)
	if ok, reason := src.Available(); ok {
		fmt.Println("  sensors:        available")
	} else {
		fmt.Printf("  sensors:        unavailable (%s)\n", reason)
	}

	if _, err := signer.LoadPrivateKey(cfg.Signing.KeyPath); err == nil {
		fmt.Println("  signing key:    present")
	} else {
		fmt.Println("  signing key:    missing (run 'proctord keygen')")
	}
}

func cmdKeygen() {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "config file path")
	force := fs.Bool("force", false, "overwrite an existing key")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)
	if err := cfg.EnsureDirectories(); err != nil {
		fatal("create data directory: %v", err)
	}

	if !*force {
		if _, err := os.Stat(cfg.Signing.KeyPath); err == nil {
			fatal("key already exists at %s (use --force to overwrite)", cfg.Signing.KeyPath)
		}
	}

	pub, priv, err := signer.GenerateKey()
	if err != nil {
		fatal("generate key: %v", err)
	}
	if err := signer.SaveSeed(cfg.Signing.KeyPath, priv); err != nil {
		fatal("save private key: %v", err)
	}
	if err := os.WriteFile(cfg.Signing.PublicKeyPath, pub, 0644); err != nil {
		fatal("save public key: %v", err)
	}

	fmt.Printf("Signing keypair written:\n  private: %s\n  public:  %s\n  key id:  %s\n",
		cfg.Signing.KeyPath, cfg.Signing.PublicKeyPath, hex.EncodeToString(pub[:8]))
}

func cmdVerify() {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "config file path")
	id := fs.Int64("id", 0, "session id to verify")
	fs.Parse(os.Args[2:])

	if *id == 0 {
		fatal("verify requires --id")
	}

	cfg := loadConfig(*configPath)

	pub, err := signer.LoadPublicKey(cfg.Signing.PublicKeyPath)
	if err != nil {
		fatal("load public key: %v", err)
	}

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		fatal("open session archive: %v", err)
	}
	defer st.Close()

	sess, err := st.GetSession(*id)
	if err != nil {
		fatal("get session: %v", err)
	}
	if sess == nil {
		fatal("no session with id %d", *id)
	}
	if len(sess.Signature) == 0 {
		fatal("session %d has no signature (was a signing key configured?)", *id)
	}

	if signer.VerifyReport(pub, sess.ReportJSON, sess.Signature) {
		fmt.Printf("Session %d: signature VALID\n", *id)
		return
	}
	fmt.Printf("Session %d: signature INVALID\n", *id)
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
