// Package config loads the JSON configuration file that parameterizes the
// routing core, endpoint engine, and Service Discovery: host identity,
// logging sinks, per-application routing-id reservations, per-service
// endpoint and SD timing overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/someip-go/vsomeip/obs"
)

// Logging configures where diagnostic output goes. Mirrors the original
// configuration's has_console_log/has_file_log/has_dlt_log/loglevel/logfile
// surface (configuration-test.cpp), minus DLT itself (out of scope; the
// flag is retained so a config file written for the original daemon still
// parses, even though this implementation never opens a DLT channel).
type Logging struct {
	Console bool   `json:"console"`
	File    bool   `json:"file"`
	DLT     bool   `json:"dlt"`
	Level   string `json:"level"`
	Logfile string `json:"logfile"`
}

// Application reserves a static client id and a display name for one
// application that will register with the routing host.
type Application struct {
	Name string `json:"name"`
	ID   uint16 `json:"id"`
}

// ServiceTiming overrides the SD timing parameters for one (service,
// instance) pair, in milliseconds on the wire, converted to
// [time.Duration] via [ServiceTiming.Timing].
type ServiceTiming struct {
	InitialDelayMinMS     int64 `json:"initial_delay_min_ms"`
	InitialDelayMaxMS     int64 `json:"initial_delay_max_ms"`
	RepetitionBaseDelayMS int64 `json:"repetition_base_delay_ms"`
	RepetitionMax         int   `json:"repetition_max"`
	CyclicOfferDelayMS    int64 `json:"cyclic_offer_delay_ms"`
	RequestResponseMinMS  int64 `json:"request_response_delay_min_ms"`
	RequestResponseMaxMS  int64 `json:"request_response_delay_max_ms"`
}

// Timing converts a [ServiceTiming] to [time.Duration] units, falling back
// to the AUTOSAR-typical defaults for any field left at zero.
func (t ServiceTiming) Timing() (initialMin, initialMax, repBase time.Duration, repMax int, cyclic, rrMin, rrMax time.Duration) {
	ms := func(v int64, def time.Duration) time.Duration {
		if v == 0 {
			return def
		}
		return time.Duration(v) * time.Millisecond
	}
	initialMin = ms(t.InitialDelayMinMS, 10*time.Millisecond)
	initialMax = ms(t.InitialDelayMaxMS, 100*time.Millisecond)
	repBase = ms(t.RepetitionBaseDelayMS, 200*time.Millisecond)
	repMax = t.RepetitionMax
	if repMax == 0 {
		repMax = 3
	}
	cyclic = ms(t.CyclicOfferDelayMS, 2*time.Second)
	rrMin = ms(t.RequestResponseMinMS, 10*time.Millisecond)
	rrMax = ms(t.RequestResponseMaxMS, 100*time.Millisecond)
	return
}

// Event describes one eventgroup member: its id, whether it is a cached
// FIELD or a plain EVENT, and its cyclic notification period.
type Event struct {
	ID       uint16 `json:"id"`
	IsField  bool   `json:"is_field"`
	CycleMS  int64  `json:"cycle_ms"`
	Reliable bool   `json:"reliable"`
}

// Eventgroup describes one (service, instance)'s eventgroup: its id and
// member events.
type Eventgroup struct {
	ID     uint16  `json:"id"`
	Events []Event `json:"events"`
}

// Service describes one offered/consumed service instance's endpoint
// configuration, SD timing, and eventgroups.
type Service struct {
	Service    uint16        `json:"service"`
	Instance   uint16        `json:"instance"`
	Reliable   int           `json:"reliable"`   // TCP port, 0 if none
	Unreliable int           `json:"unreliable"` // UDP port, 0 if none
	Timing     ServiceTiming `json:"timing"`
	Eventgroups []Eventgroup `json:"eventgroups"`
}

// ServiceDiscovery configures the SD multicast rendezvous point.
type ServiceDiscovery struct {
	Enabled        bool   `json:"enable"`
	MulticastGroup string `json:"multicast"`
	Port           uint16 `json:"port"`
	Protocol       string `json:"protocol"` // "udp"
}

// Routing configures the local IPC bus: host queue name and liveness
// cadence.
type Routing struct {
	Host             string `json:"host"`
	QueueSlots       int    `json:"queue_slots"`
	PingIntervalMS   int64  `json:"ping_interval_ms"`
	PingMissedFactor int    `json:"ping_missed_factor"`
}

// SecurityWhitelist describes the "security-update-whitelist" block: which
// uids and services a runtime policy reload is permitted to touch.
type SecurityWhitelist struct {
	UIDs           []uint32 `json:"uids"`
	Services       []uint16 `json:"services"`
	CheckWhitelist bool     `json:"check-whitelist"`
}

// Security configures the policy subsystem the core consults through
// [policy.Gateway]. Policies are kept as unparsed raw documents and are not
// passed on to any gateway; routingmanagerd reads only Enable.
type Security struct {
	Enable           bool              `json:"enable"`
	CheckCredentials bool              `json:"check_credentials"`
	Policies         []json.RawMessage `json:"policies"`
	Whitelist        SecurityWhitelist `json:"security-update-whitelist"`
}

// Config is the complete parsed configuration document.
type Config struct {
	UnicastAddress   string           `json:"unicast"`
	Logging          Logging          `json:"logging"`
	Applications     []Application    `json:"applications"`
	Services         []Service        `json:"services"`
	ServiceDiscovery ServiceDiscovery `json:"service-discovery"`
	Routing          Routing          `json:"routing"`
	Security         Security         `json:"security"`
}

// Load reads and parses the JSON configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, obs.New(obs.KindConfigurationError, "config.Load", err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, obs.New(obs.KindConfigurationError, "config.Load", fmt.Errorf("parsing %s: %w", path, err))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks referential integrity: no duplicate application ids, no
// duplicate (service, instance) pairs, and a usable routing host name.
func (c *Config) Validate() error {
	if c.Routing.Host == "" {
		c.Routing.Host = "/vsomeip-0"
	}
	if c.Routing.QueueSlots == 0 {
		c.Routing.QueueSlots = 100
	}
	if c.Routing.PingIntervalMS == 0 {
		c.Routing.PingIntervalMS = 5000
	}
	if c.Routing.PingMissedFactor == 0 {
		c.Routing.PingMissedFactor = 2
	}

	seenApp := make(map[uint16]struct{}, len(c.Applications))
	for _, a := range c.Applications {
		if _, dup := seenApp[a.ID]; dup {
			return obs.New(obs.KindConfigurationError, "config.Config.Validate", fmt.Errorf("duplicate application id %#x", a.ID))
		}
		seenApp[a.ID] = struct{}{}
	}

	type key struct{ service, instance uint16 }
	seenSvc := make(map[key]struct{}, len(c.Services))
	for _, s := range c.Services {
		k := key{s.Service, s.Instance}
		if _, dup := seenSvc[k]; dup {
			return obs.New(obs.KindConfigurationError, "config.Config.Validate", fmt.Errorf("duplicate service %#x.%#x", s.Service, s.Instance))
		}
		seenSvc[k] = struct{}{}
	}
	return nil
}

// FindService returns the configuration entry for (service, instance), if
// any.
func (c *Config) FindService(service, instance uint16) (Service, bool) {
	for _, s := range c.Services {
		if s.Service == service && s.Instance == instance {
			return s, true
		}
	}
	return Service{}, false
}

// PingInterval returns the configured liveness ping cadence.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Routing.PingIntervalMS) * time.Millisecond
}

// PingDeadline returns the configured liveness deadline: PingInterval
// times PingMissedFactor.
func (c *Config) PingDeadline() time.Duration {
	return c.PingInterval() * time.Duration(c.Routing.PingMissedFactor)
}
