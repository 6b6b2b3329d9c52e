package obs

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Event emits one JSON object per line with ts, level and event set.
// Fields are copied so callers may reuse the map.
func Event(level, event string, fields map[string]any) {
	level = strings.TrimSpace(level)
	if level == "" {
		level = LevelInfo
	}
	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["event"] = event

	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","event":"log.marshal_failed"}`)
		return
	}
	Logger().Println(string(data))
}
