package statuspage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tzafon/warmpool/internal/instancepb"
)

// idLink is an instance id rendered as a link to its detail page, or
// plain text when there is nothing to link.
type idLink struct {
	Label string
	URL   string
}

func linkTo(id string) idLink {
	if id == "" {
		return idLink{Label: "No ID"}
	}
	return idLink{
		Label: truncateLabel(id),
		URL:   "browsers?instance_id=" + id,
	}
}

func truncateLabel(s string) string {
	const maxLen = 32
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}

type connectionRow struct {
	Parent   idLink
	Instance idLink
	Since    string
	State    string
	sinceMs  int64
}

type registrationRow struct {
	Instance idLink
	Since    string
	State    string
	sinceMs  int64
}

type dashboardView struct {
	AllBrowsers       int
	HealthyBrowsers   int
	AvailableBrowsers int
	Connections       []connectionRow
	Registrations     []registrationRow
}

// browserState mirrors the pool lifecycle: dead beats connected, anything
// unclaimed and alive is idle.
func browserState(d *instancepb.InstanceDescription) string {
	switch {
	case d.KillRequest != nil:
		return "dead"
	case d.Parent != nil:
		return "connected"
	default:
		return "idle"
	}
}

func (s *Server) renderDashboard() (string, error) {
	nowMs := s.now().UnixMilli()

	var browsers []*instancepb.InstanceDescription
	for _, d := range s.store.Snapshot() {
		if d.InstanceType == instancepb.TypeChromeBrowser {
			browsers = append(browsers, d)
		}
	}

	view := dashboardView{AllBrowsers: len(browsers)}
	for _, b := range browsers {
		state := browserState(b)
		if b.KillRequest == nil {
			view.HealthyBrowsers++
			if b.Parent == nil {
				view.AvailableBrowsers++
			}
		}
		view.Registrations = append(view.Registrations, registrationRow{
			Instance: linkTo(b.InstanceID),
			Since:    fmtDuration(nowMs - b.CreatedTimestampMs),
			State:    state,
			sinceMs:  nowMs - b.CreatedTimestampMs,
		})
		if b.Parent != nil {
			view.Connections = append(view.Connections, connectionRow{
				Parent:   linkTo(b.Parent.InstanceID),
				Instance: linkTo(b.InstanceID),
				Since:    fmtDuration(nowMs - b.Parent.TimestampMs),
				State:    state,
				sinceMs:  nowMs - b.Parent.TimestampMs,
			})
		}
	}

	// Most recent first, capped so the page stays readable on big pools.
	sort.Slice(view.Connections, func(i, j int) bool {
		return view.Connections[i].sinceMs < view.Connections[j].sinceMs
	})
	if len(view.Connections) > maxItems {
		view.Connections = view.Connections[:maxItems]
	}
	sort.Slice(view.Registrations, func(i, j int) bool {
		return view.Registrations[i].sinceMs < view.Registrations[j].sinceMs
	})
	if len(view.Registrations) > maxItems {
		view.Registrations = view.Registrations[:maxItems]
	}

	var b strings.Builder
	if err := dashboardTmpl.Execute(&b, view); err != nil {
		return "", err
	}
	return b.String(), nil
}

type instanceView struct {
	Instance      idLink
	Created       string
	StateInfo     string
	Parent        idLink
	Services      []string
	SystemMetrics string
	Children      []idLink
	Debug         string
}

func (s *Server) renderInstance(d *instancepb.InstanceDescription) (string, error) {
	view := instanceView{
		Instance: linkTo(d.InstanceID),
		Created:  fmtTimestamp(d.CreatedTimestampMs),
		Parent:   idLink{Label: "No parent"},
	}

	if d.KillRequest != nil {
		view.StateInfo = fmt.Sprintf("Was killed for %s at %s",
			d.KillRequest.Reason, fmtTimestamp(d.KillRequest.TimestampMs))
	} else {
		view.StateInfo = "Is alive"
	}
	if d.Parent != nil {
		view.Parent = linkTo(d.Parent.InstanceID)
	}
	if d.Services != nil {
		if d.Services.ChromeDebug != "" {
			view.Services = append(view.Services, "Chrome debug: "+d.Services.ChromeDebug)
		}
		if d.Services.Automation != "" {
			view.Services = append(view.Services, "Automation: "+d.Services.Automation)
		}
	}
	if d.SystemMetrics != nil {
		view.SystemMetrics = fmt.Sprintf("%d / %d bytes",
			d.SystemMetrics.UsedMemoryBytes, d.SystemMetrics.TotalMemoryBytes)
	} else {
		view.SystemMetrics = "No system metrics"
	}
	for _, c := range d.Children {
		view.Children = append(view.Children, linkTo(c.InstanceID))
	}

	debug, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", err
	}
	view.Debug = string(debug)

	var b strings.Builder
	if err := instanceTmpl.Execute(&b, view); err != nil {
		return "", err
	}
	return b.String(), nil
}

// fmtDuration renders an age like " 1h 12m  3s", capping at >99h.
func fmtDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	if hours > 99 {
		return ">99h old..."
	}
	return fmt.Sprintf("%2dh %2dm %2ds", hours, minutes%60, seconds%60)
}

func fmtTimestamp(ms int64) string {
	if ms == 0 {
		return "No timestamp"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}
