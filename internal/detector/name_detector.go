package detector

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Match describes a running process that matched one of the watched names.
type Match struct {
	PID       int32     `json:"pid"`
	Name      string    `json:"name"`
	Exe       string    `json:"exe,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Lister enumerates candidate processes. The default implementation uses gopsutil.
type Lister func(ctx context.Context) ([]Match, error)

// NameDetector finds a process by executable name. Names are compared
// case-insensitively with the ".exe" suffix ignored, so "ff7.exe" also
// matches a process reported as "ff7" (or "FF7.EXE" under Wine).
type NameDetector struct {
	Names []string
	List  Lister
}

// NewNameDetector returns a detector for the given acceptable process names.
func NewNameDetector(names ...string) *NameDetector {
	return &NameDetector{Names: append([]string(nil), names...)}
}

func (d *NameDetector) Alive() (bool, error) {
	_, ok, err := d.Find(context.Background())
	return ok, err
}

func (d *NameDetector) Describe() string { return "name:" + strings.Join(d.Names, ",") }

// Find returns the matching process with the lowest PID.
func (d *NameDetector) Find(ctx context.Context) (Match, bool, error) {
	if len(d.Names) == 0 {
		return Match{}, false, fmt.Errorf("name detector has no process names")
	}
	list := d.List
	if list == nil {
		list = ListProcesses
	}
	cands, err := list(ctx)
	if err != nil {
		return Match{}, false, err
	}
	want := make(map[string]struct{}, len(d.Names))
	for _, n := range d.Names {
		want[normalizeName(n)] = struct{}{}
	}
	var found []Match
	for _, c := range cands {
		if _, ok := want[normalizeName(c.Name)]; ok {
			found = append(found, c)
			continue
		}
		if c.Exe != "" {
			if _, ok := want[normalizeName(filepath.Base(c.Exe))]; ok {
				found = append(found, c)
			}
		}
	}
	if len(found) == 0 {
		return Match{}, false, nil
	}
	// pick the lowest PID for determinism
	sort.Slice(found, func(i, j int) bool { return found[i].PID < found[j].PID })
	return found[0], true, nil
}

// ListProcesses enumerates running processes via gopsutil. Processes that
// vanish or deny access mid-scan are skipped.
func ListProcesses(ctx context.Context) ([]Match, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	out := make([]Match, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		m := Match{PID: p.Pid, Name: name}
		if exe, err := p.ExeWithContext(ctx); err == nil {
			m.Exe = exe
		}
		if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
			m.StartedAt = time.UnixMilli(ms)
		}
		out = append(out, m)
	}
	return out, nil
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	// Windows paths may reach us on non-Windows hosts (Wine), so strip both separators.
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(s, ".exe")
}
