package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// duration reads and writes a time.Duration as a string such as "16ms".
// Plain integers are accepted as nanoseconds.
type duration time.Duration

func (d duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var ns int64
		if json.Unmarshal(b, &ns) != nil {
			return fmt.Errorf("duration must be a string like \"16ms\": %s", b)
		}
		*d = duration(ns)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = duration(v)
	return nil
}

// configFields has Config's fields without its methods.
type configFields Config

// configJSON shadows the duration fields of Config with string forms.
type configJSON struct {
	*configFields
	RoundTimeout      duration `json:"round_timeout"`
	ReconnectInterval duration `json:"reconnect_interval"`
	PruneInterval     duration `json:"prune_interval"`
	IdleInterval      duration `json:"idle_interval"`
}

func (c *Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.wire())
}

// UnmarshalJSON keeps the current value of every key absent from b.
func (c *Config) UnmarshalJSON(b []byte) error {
	j := c.wire()
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	c.RoundTimeout = time.Duration(j.RoundTimeout)
	c.ReconnectInterval = time.Duration(j.ReconnectInterval)
	c.PruneInterval = time.Duration(j.PruneInterval)
	c.IdleInterval = time.Duration(j.IdleInterval)
	return nil
}

func (c *Config) wire() configJSON {
	return configJSON{
		configFields:      (*configFields)(c),
		RoundTimeout:      duration(c.RoundTimeout),
		ReconnectInterval: duration(c.ReconnectInterval),
		PruneInterval:     duration(c.PruneInterval),
		IdleInterval:      duration(c.IdleInterval),
	}
}
