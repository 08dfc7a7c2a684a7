package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rigops/rigagent/internal/config"
)

// setupSignals installs the agent's signal handlers: SIGINT/SIGTERM
// trigger a clean shutdown, SIGUSR1 reloads the schedule file.
func setupSignals(cancel context.CancelFunc, provider *config.Provider) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)

	go func() {
		for sig := range signals {
			switch sig {
			case syscall.SIGUSR1:
				log.Println("caught SIGUSR1, reloading schedule")
				if err := provider.ReloadLocal(); err != nil {
					log.Printf("Warning: schedule reload failed: %v", err)
				}
			default:
				log.Printf("caught %v signal, stopping", sig)
				if pidFile != nil {
					if err := pidFile.Remove(); err != nil {
						log.Print(err)
					}
				}
				cancel()
				return
			}
		}
	}()
}
