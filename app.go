// rigagent supervises a single mining worker on an unattended rig: it
// keeps the worker inside its admin-defined schedule windows, restarts
// it after crashes with a bounded retry policy, and reports to the
// fleet backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"

	"github.com/rigops/rigagent/internal/api"
	"github.com/rigops/rigagent/internal/auth"
	"github.com/rigops/rigagent/internal/config"
	"github.com/rigops/rigagent/internal/flightsheet"
	"github.com/rigops/rigagent/internal/pidfile"
	"github.com/rigops/rigagent/internal/router"
	"github.com/rigops/rigagent/internal/session"
	"github.com/rigops/rigagent/internal/stream"
	"github.com/rigops/rigagent/internal/supervisor"
	"github.com/rigops/rigagent/internal/telemetry"
	"github.com/rigops/rigagent/internal/types"
)

// Version agent version, reported in heartbeats and /version.
const Version = "1.2.0"

var (
	ip                 = flag.String("ip", "0.0.0.0", "ip the control API should listen on")
	port               = flag.Int("port", 0, "port the control API should listen on (0 = from app.yaml)")
	verbose            = flag.Bool("verbose", true, "show log output")
	logPath            = flag.String("logfile", "", "send log output to a file")
	ginDebug           = flag.Bool("gin-debug", false, "show gin debug output")
	configPath         = flag.String("config", "app.yaml", "path to the agent config file")
	schedulePath       = flag.String("schedule", "schedule.yaml", "path to the persisted schedule file")
	usersPath          = flag.String("users", "users.yaml", "path to the control API accounts file")
	pidPath            = flag.String("pidfile", "", "create PID file at the given path")
	hotReload          = flag.Bool("hotreload", false, "watch the schedule file for local edits and reload it")
	justDisplayVersion = flag.Bool("version", false, "display rigagent version and quit")
)

var pidFile *pidfile.PIDFile

func main() {
	flag.Parse()

	if *justDisplayVersion {
		fmt.Println("rigagent version " + Version)
		os.Exit(0)
	}

	if *ginDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// logQueue holds messages encountered before the log destination is
	// settled.
	var logQueue []string

	appConfig, err := config.LoadAppConfig(*configPath)
	if err != nil {
		logQueue = append(logQueue, fmt.Sprintf("error loading app config: %s", err))
	}

	if *logPath != "" {
		file, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			logQueue = append(logQueue, fmt.Sprintf("error opening log file %q: %v", *logPath, err))
		} else {
			log.SetOutput(file)
		}
	}

	log.SetPrefix("[rigagent] ")
	log.SetFlags(log.Ldate | log.Ltime)

	if len(logQueue) != 0 {
		for i := range logQueue {
			log.Println(logQueue[i])
		}
		os.Exit(1)
	}

	if !*verbose {
		log.SetOutput(io.Discard)
	}

	finalPort := appConfig.Port
	if *port != 0 {
		finalPort = *port
	}
	addr := fmt.Sprintf("%s:%d", *ip, finalPort)

	// Open the listener early so a port clash fails fast, before the
	// supervisor touches the tmux session.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("error listening on %s: %s", addr, err)
	}

	if *pidPath != "" {
		pidFile, err = pidfile.New(*pidPath)
		if err != nil {
			log.Fatalf("Error creating pidfile: %v", err)
		}
		defer func() {
			// the signal handler also removes it; ^C skips this defer
			if nerr := pidFile.Remove(); nerr != nil {
				log.Print(nerr)
			}
		}()
	}

	log.Println("version " + Version + " starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// local telemetry database
	store, err := telemetry.Open(filepath.Join(appConfig.DataDir, appConfig.Database.Database))
	if err != nil {
		log.Fatalf("Error opening telemetry database: %v", err)
	}
	go runTelemetryCleanup(ctx, store, appConfig.Database.LogRetentionDays)

	// fleet backend client, optional: the agent is fully functional
	// offline on its last persisted schedule and flightsheet
	var apiClient *api.Client
	if appConfig.Backend.APIBase != "" {
		apiClient = api.New(api.Config{
			APIBase: appConfig.Backend.APIBase,
			Token:   appConfig.Backend.Token,
			RigID:   appConfig.Backend.RigID,
		})
	} else {
		log.Printf("no backend configured, running standalone")
	}

	var workloadFetcher flightsheet.Fetcher
	if apiClient != nil {
		workloadFetcher = apiClient
	}
	manager, err := flightsheet.NewManager(workloadFetcher, appConfig.MinersDir, appConfig.DataDir)
	if err != nil {
		log.Fatalf("Error initializing flightsheet manager: %v", err)
	}

	var scheduleFetcher config.ScheduleFetcher
	if apiClient != nil {
		scheduleFetcher = apiClient
	}
	provider, err := config.NewProvider(*schedulePath, scheduleFetcher, manager)
	if err != nil {
		log.Fatalf("Error loading schedule config: %v", err)
	}

	runner := session.NewRunner(appConfig.SessionName)

	// a previous agent may have died without cleaning up its worker
	if id := manager.WorkerIdentity(); id != nil {
		if n := runner.KillOrphans(id.ExecPath); n > 0 {
			log.Printf("killed %d orphaned worker process(es) at boot", n)
		}
	}

	var notifier telemetry.Notifier
	if appConfig.Telegram.BotToken != "" && appConfig.Telegram.ChatID != 0 {
		tg, err := telemetry.NewTelegramNotifier(appConfig.Telegram.BotToken, appConfig.Telegram.ChatID)
		if err != nil {
			log.Printf("Warning: telegram notifier unavailable: %v", err)
		} else {
			notifier = tg
		}
	}
	var reporter telemetry.Reporter
	if apiClient != nil {
		reporter = apiClient
	}
	sink := telemetry.NewSink(store, reporter, notifier)

	// state changes go to connected dashboards and the event log
	notify := func(msgType string, data interface{}) {
		stream.Global.Publish(msgType, data)
		if msg, ok := data.(types.MinerStateMessage); ok {
			level := telemetry.LevelInfo
			if msg.Halted {
				level = telemetry.LevelError
			}
			store.LogEvent(level, telemetry.CategorySession, msg.Reason,
				fmt.Sprintf("running=%v crashes=%d", msg.Running, msg.CrashCount))
		}
	}
	sup := supervisor.New(runner, provider, manager, sink,
		supervisor.WithNotifier(notify))
	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	if apiClient != nil {
		hbInterval := time.Duration(appConfig.Backend.HeartbeatInterval) * time.Second
		agent := api.NewHeartbeatAgent(apiClient, sup, hbInterval, Version)
		go agent.Run(ctx)
	}

	setupSignals(cancel, provider)

	if *hotReload {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			log.Fatal("error creating file watcher instance\n", err)
		}
		defer watcher.Close()

		log.Printf("setting up file watcher for %s", *schedulePath)
		if err := watcher.Add(*schedulePath); err != nil {
			log.Printf("error adding schedule file to the watcher: %v", err)
		} else {
			go watchScheduleFile(ctx, watcher, provider)
		}
	}

	authService, err := auth.New(appConfig.JWTSecret, appConfig.JWTExpiryDuration, *usersPath)
	if err != nil {
		log.Fatalf("Error initializing auth: %v", err)
	}

	engine := router.New(router.Deps{
		Auth:       authService,
		Supervisor: sup,
		Output:     runner,
		Schedule:   provider,
		Store:      store,
		Version:    Version,
	})

	svr := &http.Server{Handler: engine}

	go func() {
		log.Printf("serving control API on http://%s", addr)
		if err := svr.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("control API server stopped: %v", err)
			cancel()
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); sent && err != nil {
		log.Printf("Warning: sd_notify ready failed: %v", err)
	}

	<-ctx.Done()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping); sent && err != nil {
		log.Printf("Warning: sd_notify stopping failed: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := svr.Shutdown(shutdownCtx); err != nil {
		log.Printf("control API shutdown: %v", err)
	}
	// the supervisor's Run goroutine stops the worker session on its way
	// out; wait for it before the process exits
	<-supDone
	log.Println("shutdown complete")
}

// runTelemetryCleanup prunes old incidents and events once a day.
func runTelemetryCleanup(ctx context.Context, store *telemetry.Store, retentionDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Cleanup(retentionDays); err != nil {
				log.Printf("Warning: telemetry cleanup failed: %v", err)
			}
		}
	}
}

// watchScheduleFile reloads the schedule after local edits. Editors
// replace files rather than writing in place, so the path is re-added
// after rename events.
func watchScheduleFile(ctx context.Context, watcher *fsnotify.Watcher, provider *config.Provider) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := provider.ReloadLocal(); err != nil {
					log.Printf("Warning: schedule reload failed: %v", err)
				}
			}
			if event.Op&fsnotify.Rename != 0 {
				// re-add the path, the watch followed the old inode
				time.Sleep(100 * time.Millisecond)
				if err := watcher.Add(event.Name); err == nil {
					if err := provider.ReloadLocal(); err != nil {
						log.Printf("Warning: schedule reload failed: %v", err)
					}
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("schedule watcher error: %v", err)
		}
	}
}
