package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownTimeout bounds how long the process waits for a graceful shutdown
// after the first interrupt.
const ShutdownTimeout = 30 * time.Second

var (
	processContext     context.Context
	processContextOnce sync.Once
)

// ProcessContext returns a context that is cancelled on the first interrupt
// or termination signal. A second signal, or a shutdown exceeding
// ShutdownTimeout, terminates the process.
func ProcessContext() context.Context {
	processContextOnce.Do(func() {
		var cancel context.CancelFunc
		processContext, cancel = context.WithCancel(context.Background())

		notify := make(chan os.Signal, 2)
		signal.Notify(notify, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			defer signal.Stop(notify)

			<-notify
			cancel()

			select {
			case <-time.After(ShutdownTimeout):
				fmt.Println("Timed out on shutdown, terminating...")
			case <-notify:
				fmt.Println("Received another interrupt before graceful shutdown, terminating...")
			}
			os.Exit(-1)
		}()
	})
	return processContext
}
