// Package progress renders a live terminal progress line for a snapshot run
// driven by the pipeline's atomic counters.
package progress

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Reporter displays chunking/upload progress for one snapshot run: a bar,
// bytes processed, throughput, chunk count, elapsed time, and ETA.
type Reporter struct {
	name string

	bytesProcessed atomic.Int64
	chunksDone     atomic.Int64
	filesDone      atomic.Int64
	dedupedChunks  atomic.Int64

	totalBytes int64 // estimate from a pre-scan; 0 means unknown (spinner mode)

	startTime time.Time
	done      chan struct{}
}

// New creates a reporter and starts its render ticker. totalBytes may be 0
// if a pre-scan estimate isn't available; the reporter then renders a
// spinner instead of a percentage bar.
func New(name string, totalBytes int64) *Reporter {
	r := &Reporter{
		name:       name,
		totalBytes: totalBytes,
		startTime:  time.Now(),
		done:       make(chan struct{}),
	}
	go r.renderLoop()
	return r
}

// SetTotalBytes updates the estimate once a background pre-scan completes.
func (r *Reporter) SetTotalBytes(n int64) {
	atomic.StoreInt64(&r.totalBytes, n)
}

func (r *Reporter) AddBytes(n int64) { r.bytesProcessed.Add(n) }
func (r *Reporter) AddChunk()        { r.chunksDone.Add(1) }
func (r *Reporter) AddFile()         { r.filesDone.Add(1) }
func (r *Reporter) AddDedupedChunk() { r.dedupedChunks.Add(1) }

// Stop halts the ticker and prints the final line.
func (r *Reporter) Stop() {
	close(r.done)
	r.render(true)
}

func (r *Reporter) renderLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.render(false)
		}
	}
}

func (r *Reporter) render(final bool) {
	bytes := r.bytesProcessed.Load()
	chunks := r.chunksDone.Load()
	files := r.filesDone.Load()
	deduped := r.dedupedChunks.Load()
	elapsed := time.Since(r.startTime)
	total := atomic.LoadInt64(&r.totalBytes)

	var speed float64
	if elapsed.Seconds() > 0.1 {
		speed = float64(bytes) / elapsed.Seconds()
	}

	const barWidth = 30
	var bar string
	if total > 0 {
		pct := float64(bytes) / float64(total)
		if pct > 1.0 {
			pct = 1.0
		}
		filled := int(pct * float64(barWidth))
		bar = strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	} else {
		pos := int(elapsed.Seconds()*2) % barWidth
		bar = strings.Repeat("░", pos) + "█" + strings.Repeat("░", barWidth-pos-1)
	}

	eta := "∞"
	if total > 0 && speed > 0 && bytes > 0 {
		remaining := float64(total) - float64(bytes)
		if remaining < 0 {
			remaining = 0
		}
		eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
	}

	dedupStr := ""
	if deduped > 0 {
		dedupStr = fmt.Sprintf("  │  dedup: %d", deduped)
	}

	line := fmt.Sprintf("\r[%s] %s  %s  │  %s/s  │  %d files, %d chunks  │  %s  │  ETA %s%s",
		r.name, bar, formatBytes(bytes), formatBytes(int64(speed)),
		files, chunks, formatDuration(elapsed), eta, dedupStr,
	)

	if len(line) < 110 {
		line += strings.Repeat(" ", 110-len(line))
	}

	if final {
		fmt.Fprintf(os.Stderr, "%s\n", line)
	} else {
		fmt.Fprint(os.Stderr, line)
	}
}

func formatBytes(b int64) string {
	switch {
	case b >= 1024*1024*1024:
		return fmt.Sprintf("%.1f GB", float64(b)/(1024*1024*1024))
	case b >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(b)/(1024*1024))
	case b >= 1024:
		return fmt.Sprintf("%.1f KB", float64(b)/1024)
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
