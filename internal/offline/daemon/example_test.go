package daemon_test

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mwsrs/reviews/internal/offline/daemon"
	"github.com/mwsrs/reviews/internal/offline/sync"
)

// Example_signal shows wiring SIGUSR1 to a replay pass.
func Example_signal() {
	var coord sync.Coordinator // from sync.New

	d, err := daemon.New(coord, &daemon.Config{TriggerFile: os.ExpandEnv("$HOME/.rr/sync.trigger")})
	if err != nil {
		log.Fatal(err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	go func() {
		for range sigs {
			d.Notify()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	_ = d.Start(ctx)
}
