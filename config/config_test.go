package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `{
  "unicast": "10.0.2.15",
  "logging": {
    "console": true,
    "file": true,
    "dlt": false,
    "level": "debug",
    "logfile": "/home/someip/another-file.log"
  },
  "applications": [
    {"name": "my_application", "id": 30666}
  ],
  "services": [
    {
      "service": 4660, "instance": 34,
      "reliable": 30506, "unreliable": 31000,
      "timing": {
        "initial_delay_min_ms": 10,
        "initial_delay_max_ms": 100,
        "repetition_base_delay_ms": 200,
        "repetition_max": 7,
        "cyclic_offer_delay_ms": 2000
      }
    },
    {
      "service": 4660, "instance": 35,
      "reliable": 30503, "unreliable": 0
    }
  ],
  "service-discovery": {
    "enable": true,
    "multicast": "224.224.224.245",
    "port": 30490,
    "protocol": "udp"
  },
  "routing": {
    "host": "/vsomeip-test"
  }
}`

func writeSampleConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vsomeip.json")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesHostAndLogging(t *testing.T) {
	c, err := Load(writeSampleConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	if c.UnicastAddress != "10.0.2.15" {
		t.Errorf("UnicastAddress = %q", c.UnicastAddress)
	}
	if !c.Logging.Console || !c.Logging.File || c.Logging.DLT {
		t.Errorf("Logging flags = %+v", c.Logging)
	}
	if c.Logging.Level != "debug" || c.Logging.Logfile != "/home/someip/another-file.log" {
		t.Errorf("Logging level/file = %+v", c.Logging)
	}
}

func TestLoadParsesServicePorts(t *testing.T) {
	c, err := Load(writeSampleConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	svc, ok := c.FindService(0x1234, 0x0022)
	if !ok {
		t.Fatal("expected service 0x1234.0x0022 to be found")
	}
	if svc.Reliable != 30506 || svc.Unreliable != 31000 {
		t.Errorf("ports = %+v", svc)
	}

	svc2, ok := c.FindService(0x1234, 0x0023)
	if !ok {
		t.Fatal("expected service 0x1234.0x0023 to be found")
	}
	if svc2.Unreliable != 0 {
		t.Errorf("expected unreliable 0 (none configured), got %d", svc2.Unreliable)
	}
}

func TestLoadParsesTimingWithDefaults(t *testing.T) {
	c, err := Load(writeSampleConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	svc, _ := c.FindService(0x1234, 0x0022)
	initMin, initMax, repBase, repMax, cyclic, rrMin, rrMax := svc.Timing.Timing()
	if repMax != 7 {
		t.Errorf("RepetitionMax = %d, want 7", repMax)
	}
	if initMin.Milliseconds() != 10 || initMax.Milliseconds() != 100 {
		t.Errorf("initial delay = %v/%v", initMin, initMax)
	}
	if repBase.Milliseconds() != 200 || cyclic.Milliseconds() != 2000 {
		t.Errorf("repBase/cyclic = %v/%v", repBase, cyclic)
	}
	if rrMin.Milliseconds() != 10 || rrMax.Milliseconds() != 100 {
		t.Errorf("expected default request-response delay, got %v/%v", rrMin, rrMax)
	}

	svc2, _ := c.FindService(0x1234, 0x0023)
	_, _, _, repMax2, _, _, _ := svc2.Timing.Timing()
	if repMax2 != 3 {
		t.Errorf("expected default RepetitionMax 3 for an unconfigured timing block, got %d", repMax2)
	}
}

func TestLoadRejectsDuplicateApplicationID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	bad := `{"applications":[{"name":"a","id":1},{"name":"b","id":1}]}`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected duplicate application id to be rejected")
	}
}

func TestLoadRejectsDuplicateServiceInstance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	bad := `{"services":[{"service":1,"instance":1},{"service":1,"instance":1}]}`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected duplicate (service, instance) to be rejected")
	}
}

func TestLoadAppliesRoutingDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minimal.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Routing.Host != "/vsomeip-0" {
		t.Errorf("Routing.Host default = %q", c.Routing.Host)
	}
	if c.PingInterval().Seconds() != 5 {
		t.Errorf("PingInterval default = %v", c.PingInterval())
	}
	if c.PingDeadline().Seconds() != 10 {
		t.Errorf("PingDeadline default = %v", c.PingDeadline())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path.json"); err == nil {
		t.Error("expected an error for a missing file")
	}
}
