package app

import (
	"sync"

	"syncwire/internal/capture"
)

// filterStore holds the live per-stream filter rules.
//
// Two writers share it: the config reload loop (streams.*.filter) and the
// remote smsword/notifyword commands. Last write wins; pipelines read the
// current rule on every enqueue.
type filterStore struct {
	mu    sync.RWMutex
	rules map[capture.StreamType]capture.Rule
}

func newFilterStore() *filterStore {
	return &filterStore{rules: map[capture.StreamType]capture.Rule{}}
}

func (f *filterStore) Set(stream capture.StreamType, rule capture.Rule) {
	f.mu.Lock()
	f.rules[stream] = rule
	f.mu.Unlock()
}

func (f *filterStore) Rule(stream capture.StreamType) capture.Rule {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.rules[stream]
}

// RuleFunc returns a live accessor for one stream, suitable for
// pipeline.Options.Rule.
func (f *filterStore) RuleFunc(stream capture.StreamType) func() capture.Rule {
	return func() capture.Rule { return f.Rule(stream) }
}
