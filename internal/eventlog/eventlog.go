// Package eventlog implements the append-only per-day operational event log
// (component H): one line per significant action, capped at MaxEntries,
// structured as "[HH:MM:SS] action=X k=v k=v...". It is consulted by the
// operator dashboard and the /logdiario command; it is not authoritative for
// recovery.
package eventlog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/driverqueue/dispatcher/internal/kvstore"
	"github.com/driverqueue/dispatcher/internal/ops"
)

// MaxEntries caps each day's log.
const MaxEntries = 500

// Log appends and reads the day-keyed event list.
type Log struct {
	store kvstore.Store
	log   ops.Logger
	now   func() time.Time
}

// New returns a Log backed by store.
func New(store kvstore.Store, log ops.Logger) *Log {
	return &Log{store: store, log: log, now: time.Now}
}

func dayKey(t time.Time) string { return "log:" + t.Format("2006-01-02") }

// Appendf appends one structured line for action with the given fields,
// trimming the day's list back down to MaxEntries if it has grown past it.
// Append failures are logged and swallowed: the event log is an operational
// aid, never a blocker for the state machine it observes.
func (l *Log) Appendf(ctx context.Context, action string, fields map[string]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] action=%s", l.now().Format("15:04:05"), action)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, fields[k])
	}

	key := dayKey(l.now())
	if err := l.store.RPush(ctx, key, b.String()); err != nil {
		l.log.WithFields(map[string]interface{}{"action": action, "err": err}).
			Warn("eventlog: append failed")
		return
	}
	l.trim(ctx, key)
}

func (l *Log) trim(ctx context.Context, key string) {
	list, err := l.store.LRange(ctx, key)
	if err != nil || len(list) <= MaxEntries {
		return
	}
	if err := l.store.WriteList(ctx, key, list[len(list)-MaxEntries:]); err != nil {
		l.log.WithFields(map[string]interface{}{"key": key, "err": err}).Warn("eventlog: trim failed")
	}
}

// Today returns today's log lines in append order.
func (l *Log) Today(ctx context.Context) ([]string, error) {
	return l.store.LRange(ctx, dayKey(l.now()))
}

// ForDate returns the log lines for a specific date (YYYY-MM-DD), used by
// the diary CLI tool; /logdiario reads Today instead.
func (l *Log) ForDate(ctx context.Context, date string) ([]string, error) {
	return l.store.LRange(ctx, "log:"+date)
}

// Chunk splits lines into blocks whose rendered text stays under maxChars,
// matching the ≤3500-character chunking /logdiario must apply to outbound
// messages.
func Chunk(lines []string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = 3500
	}
	var chunks []string
	var cur strings.Builder
	for _, line := range lines {
		if cur.Len() > 0 && cur.Len()+1+len(line) > maxChars {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
