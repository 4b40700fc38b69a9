package utils

import (
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// RunWithRecovery runs fn in its own goroutine. A panic is logged with the
// task name and stack and does not take the process down.
func RunWithRecovery(task string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"prefix": "RunWithRecovery",
					"task":   task,
				}).Errorf("RECOVERED FROM PANIC: %v\n%s", r, debug.Stack())
			}
		}()
		fn()
	}()
}
