// Package hostinfo reports facts about the machine the relay runs on. Each
// fact comes from a Provider with a fixed key; callers pick providers by key
// and collect their values in a stable order.
package hostinfo

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
)

// Unknown is reported when a value cannot be determined.
const Unknown = "Unknown"

// Provider yields one host fact.
type Provider interface {
	Key() string
	Value() string
}

// Info is a collected key/value pair.
type Info struct {
	Key   string
	Value string
}

func (i Info) String() string {
	return i.Key + ": " + i.Value
}

// HostLookup returns the host record. host.Info is used when nil.
type HostLookup func() (*host.InfoStat, error)

func (f HostLookup) lookup() (*host.InfoStat, error) {
	if f == nil {
		return host.Info()
	}
	return f()
}

// OS reports the platform name and version, falling back to runtime.GOOS.
type OS struct {
	Lookup HostLookup
}

func (OS) Key() string { return "OS" }

func (p OS) Value() string {
	name, version := runtime.GOOS, "N/A"
	if stat, err := p.Lookup.lookup(); err == nil && stat != nil {
		if stat.Platform != "" {
			name = stat.Platform
		}
		if stat.PlatformVersion != "" {
			version = stat.PlatformVersion
		}
	}
	return name + " " + version
}

// CPU reports the processor model and the number of logical cores.
type CPU struct {
	// Lookup and Count override cpu.Info and cpu.Counts when set.
	Lookup func() ([]cpu.InfoStat, error)
	Count  func(logical bool) (int, error)
}

func (CPU) Key() string { return "CPU" }

func (p CPU) Value() string {
	lookup, count := p.Lookup, p.Count
	if lookup == nil {
		lookup = cpu.Info
	}
	if count == nil {
		count = cpu.Counts
	}

	brand := runtime.GOARCH
	if stats, err := lookup(); err == nil && len(stats) > 0 && stats[0].ModelName != "" {
		brand = strings.TrimSpace(stats[0].ModelName)
	}

	cores, err := count(true)
	if err != nil || cores < 1 {
		cores = runtime.NumCPU()
	}
	return fmt.Sprintf("%s (%d cores)", brand, cores)
}

// Hostname reports the host name.
type Hostname struct {
	Lookup HostLookup
}

func (Hostname) Key() string { return "Hostname" }

func (p Hostname) Value() string {
	stat, err := p.Lookup.lookup()
	if err != nil || stat == nil || stat.Hostname == "" {
		return Unknown
	}
	return stat.Hostname
}

// Runtime reports the Go runtime version.
type Runtime struct{}

func (Runtime) Key() string { return "Go" }

func (Runtime) Value() string {
	return runtime.Version()
}

// Providers returns every provider in display order.
func Providers() []Provider {
	return []Provider{OS{}, Runtime{}, Hostname{}, CPU{}}
}

// Select returns the providers whose keys match, in display order. Keys are
// case-insensitive. With no keys every provider is returned.
func Select(keys ...string) ([]Provider, error) {
	all := Providers()
	if len(keys) == 0 {
		return all, nil
	}

	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[strings.ToLower(k)] = true
	}

	var selected []Provider
	for _, p := range all {
		key := strings.ToLower(p.Key())
		if wanted[key] {
			selected = append(selected, p)
			delete(wanted, key)
		}
	}

	for k := range wanted {
		return nil, fmt.Errorf("unknown host info key: %s", k)
	}
	return selected, nil
}

// Collect evaluates each provider.
func Collect(providers []Provider) []Info {
	infos := make([]Info, 0, len(providers))
	for _, p := range providers {
		value := p.Value()
		if value == "" {
			value = Unknown
		}
		infos = append(infos, Info{Key: p.Key(), Value: value})
	}
	return infos
}
