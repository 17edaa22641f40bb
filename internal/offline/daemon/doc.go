// Package daemon runs replay passes of the pending-write queue in the
// background.
//
// A pass is started:
//
//   - once at startup
//   - when the trigger file is created or written (e.g. `touch
//     ~/.rr/sync.trigger` from a network-up hook)
//   - when Notify is called (SIGUSR1 and POST /sync in `rr serve`)
//
// There is no retry timer. Requests that arrive while a pass is running
// are coalesced into a single follow-up pass.
//
//	d, err := daemon.New(coord, &daemon.Config{TriggerFile: "/tmp/rr.trigger"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go d.Start(ctx)
//	d.Notify()
package daemon
