package monitor

import (
	"time"

	"golang.org/x/net/html"
)

// Op is the kind of document change observed.
type Op string

const (
	OpAdd    Op = "add"    // subtree inserted
	OpText   Op = "text"   // text content changed
	OpRemove Op = "remove" // subtree removed
)

// Record is a single observed change. Node is a live handle into the
// monitored document; detached handles are dropped at drain time.
type Record struct {
	Op   Op
	Node *html.Node
}

// debouncer collects raw records and emits coalesced batches when the
// window expires or the buffer fills.
type debouncer struct {
	window    time.Duration
	maxBuffer int
	records   []Record
	timer     *time.Timer
	timerCh   <-chan time.Time
	flushFn   func([]Record)
}

func newDebouncer(window time.Duration, maxBuffer int, flushFn func([]Record)) *debouncer {
	return &debouncer{
		window:    window,
		maxBuffer: maxBuffer,
		records:   make([]Record, 0, maxBuffer),
		flushFn:   flushFn,
	}
}

// add pushes a record into the buffer. Returns true if an immediate
// flush was triggered (buffer full).
func (d *debouncer) add(rec Record) bool {
	d.records = append(d.records, rec)

	if len(d.records) >= d.maxBuffer {
		d.flush()
		return true
	}

	// (Re)start the window timer.
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.window)
	d.timerCh = d.timer.C
	return false
}

// timerC returns the channel that fires when the debounce window expires.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

// flush coalesces and emits the buffered records, then resets.
func (d *debouncer) flush() {
	if len(d.records) == 0 {
		return
	}

	d.flushFn(coalesce(d.records))

	d.records = d.records[:0]
	d.stopTimer()
}

// reset discards buffered records without emitting them.
func (d *debouncer) reset() {
	d.records = d.records[:0]
	d.stopTimer()
}

func (d *debouncer) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
}

// coalesce collapses redundant records within one window:
// - multiple text changes on the same node keep only the last
// - an add followed by a remove of the same node cancels both
// - adds are otherwise never collapsed (structurally significant)
func coalesce(records []Record) []Record {
	if len(records) <= 1 {
		return records
	}

	removed := make(map[*html.Node]bool)
	for _, rec := range records {
		if rec.Op == OpRemove && rec.Node != nil {
			removed[rec.Node] = true
		}
	}

	seenText := make(map[*html.Node]bool)
	result := make([]Record, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		switch rec.Op {
		case OpText:
			if removed[rec.Node] || seenText[rec.Node] {
				continue
			}
			seenText[rec.Node] = true
		case OpAdd:
			if removed[rec.Node] {
				continue
			}
		}
		result = append(result, rec)
	}

	// Restore original order after the reverse scan.
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}
