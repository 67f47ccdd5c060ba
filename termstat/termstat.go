// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package termstat provides a stats implementation which collects counters and
// timings during a run and writes them to the terminal as a one line summary
// when asked. It stands in for an external collector like statsd and provides
// stub implementations for the rest of cabs.Statter.
package termstat

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Collector collects stats and prints them to the terminal
type Collector struct {
	lock    sync.Mutex
	indexes map[string]int
	names   []string
	stats   []int64
	timings map[string]time.Duration
	out     io.Writer
}

// NewCollector initializes and returns a new Collector.
func NewCollector(out io.Writer) *Collector {
	return &Collector{
		indexes: make(map[string]int),
		timings: make(map[string]time.Duration),
		out:     out,
	}
}

// Count adds value to the named stat. Every call is counted whatever the rate.
func (t *Collector) Count(name string, value int64, rate float64, tags ...string) {
	t.lock.Lock()
	defer t.lock.Unlock()

	idx, ok := t.indexes[name]
	if !ok {
		idx = len(t.stats)
		t.stats = append(t.stats, 0)
		t.names = append(t.names, name)
		t.indexes[name] = idx
	}
	t.stats[idx] += value
}

// Get returns the current value of a counter.
func (t *Collector) Get(name string) int64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	if idx, ok := t.indexes[name]; ok {
		return t.stats[idx]
	}
	return 0
}

// Summary returns the counters in the order they were first seen followed by
// the timings.
func (t *Collector) Summary() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	parts := make([]string, 0, len(t.stats)+len(t.timings))
	for i := 0; i < len(t.stats); i++ {
		parts = append(parts, fmt.Sprintf("%s=%d", t.names[i], t.stats[i]))
	}
	for _, name := range t.names {
		if d, ok := t.timings[name]; ok {
			parts = append(parts, fmt.Sprintf("%s_time=%s", name, d.Round(time.Millisecond)))
		}
	}
	for name, d := range t.timings {
		if _, ok := t.indexes[name]; !ok {
			parts = append(parts, fmt.Sprintf("%s_time=%s", name, d.Round(time.Millisecond)))
		}
	}
	return strings.Join(parts, " ")
}

// Flush writes the summary to the collector's writer.
func (t *Collector) Flush() error {
	_, err := fmt.Fprintln(t.out, t.Summary())
	return err
}

// Gauge does nothing.
func (t *Collector) Gauge(name string, value float64, rate float64, tags ...string) {}

// Histogram does nothing.
func (t *Collector) Histogram(name string, value float64, rate float64, tags ...string) {}

// Set does nothing.
func (t *Collector) Set(name string, value string, rate float64, tags ...string) {}

// Timing keeps the last duration recorded for name.
func (t *Collector) Timing(name string, value time.Duration, rate float64, tags ...string) {
	t.lock.Lock()
	t.timings[name] = value
	t.lock.Unlock()
}
