package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"argon-gpu-miner/log"

	"github.com/TwiN/go-color"
)

// HashCounter collects the hashes reported by device workers.
type HashCounter struct {
	mu       sync.Mutex
	hashes   map[string]uint64
	total    map[string]uint64
	lastTick time.Time
}

func NewHashCounter() *HashCounter {
	return &HashCounter{
		hashes:   make(map[string]uint64),
		total:    make(map[string]uint64),
		lastTick: time.Now(),
	}
}

// Increment is the miner's hashes-performed callback.
func (h *HashCounter) Increment(hashes uint32, device string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.hashes[device] += uint64(hashes)
	h.total[device] += uint64(hashes)
}

// Rates returns the hashrate of each device since the previous call and
// starts a new measuring window.
func (h *HashCounter) Rates(now time.Time) map[string]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	elapsed := now.Sub(h.lastTick).Seconds()
	h.lastTick = now

	rates := make(map[string]float64, len(h.hashes))
	for device, n := range h.hashes {
		if elapsed > 0 {
			rates[device] = float64(n) / elapsed
		}
		h.hashes[device] = 0
	}
	return rates
}

// Total is the number of hashes device has performed overall.
func (h *HashCounter) Total(device string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total[device]
}

// Run logs the hashrate every interval until ctx is done.
func (h *HashCounter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			log.Info(formatRates(h.Rates(now)))
		}
	}
}

func formatRates(rates map[string]float64) string {
	devices := make([]string, 0, len(rates))
	for d := range rates {
		devices = append(devices, d)
	}
	sort.Strings(devices)

	var sum float64
	parts := make([]string, 0, len(devices))
	for _, d := range devices {
		sum += rates[d]
		parts = append(parts, fmt.Sprintf("%s %.2f H/s", d, rates[d]))
	}

	total := color.Ize(color.Green, fmt.Sprintf("total %.2f H/s", sum))
	if len(parts) == 0 {
		return total
	}
	return total + " | " + strings.Join(parts, ", ")
}
