package main

import (
	"fmt"

	"github.com/linearmanager/lm/internal/config"
	"github.com/linearmanager/lm/internal/tracker"
)

// newClient builds the configured tracker client.
func newClient() (tracker.RemoteClient, error) {
	name := config.GetString(config.KeyTracker)
	client, err := tracker.NewClient(name, config.Reader{})
	if err != nil {
		if name == "linear" {
			return nil, withHint(err, "export LINEAR_API_KEY=<key> or run 'lm config set linear.api_key <key>'")
		}
		return nil, err
	}
	return client, nil
}

// newEngine builds an engine from the sync.* settings.
func (a *app) newEngine() (*tracker.Engine, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	timeout := config.GetDuration(config.GetString(config.KeyTracker) + ".timeout")
	opts, err := tracker.EngineOptionsFromConfig(tracker.NewConfig("sync", config.Reader{}), timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid sync settings: %w", err)
	}
	opts.Log = a.log
	return tracker.NewEngine(client, opts), nil
}
