// Package rtmplog is a leveled, timestamp-prefixed logger in the style of a
// plain fmt.Printf logger, with request/debug logging gated by environment
// variables.
package rtmplog

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

var mutex sync.Mutex

func line(l string) {
	tm := time.Now()
	mutex.Lock()
	defer mutex.Unlock()
	fmt.Printf("[%s] %s\n", tm.Format("2006-01-02 15:04:05"), l)
}

func Warning(l string) {
	line("[WARNING] " + l)
}

func Info(l string) {
	line("[INFO] " + l)
}

func Error(err error) {
	line("[ERROR] " + err.Error())
}

func Errorf(format string, args ...any) {
	line("[ERROR] " + fmt.Sprintf(format, args...))
}

var requestsEnabled = os.Getenv("LOG_REQUESTS") != "NO"

func Request(sessionID uint64, ip string, l string) {
	if requestsEnabled {
		line("[REQUEST] #" + strconv.FormatUint(sessionID, 10) + " (" + ip + ") " + l)
	}
}

var debugEnabled = os.Getenv("LOG_DEBUG") == "YES"

func Debug(l string) {
	if debugEnabled {
		line("[DEBUG] " + l)
	}
}

func DebugSession(sessionID uint64, ip string, l string) {
	if debugEnabled {
		line("[DEBUG] #" + strconv.FormatUint(sessionID, 10) + " (" + ip + ") " + l)
	}
}
