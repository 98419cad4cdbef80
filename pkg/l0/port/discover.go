package port

import (
	"context"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/retrospex/pkg/l0/comm"
)

// Handshake defaults.
const (
	DefaultTrials     = 10
	DefaultTrialChars = 43
	DefaultBanner     = "RetroSPEX"
	DefaultDeadline   = 3 * time.Second
)

// Result is a bound spectrometer port.
type Result struct {
	Name     string
	Port     Port
	Firmware string
}

// Discoverer tries candidate ports in order until one identifies as
// a spectrometer.
type Discoverer struct {
	Opener     Opener
	Candidates []string
	// SystemPorts resolves the Auto candidate.
	SystemPorts func() ([]string, error)
	Trials      int
	TrialChars  int
	Banner      string
	// Deadline bounds the handshake on one candidate.
	Deadline time.Duration
}

// NewDiscoverer creates a Discoverer with defaults.
func NewDiscoverer(candidates []string) *Discoverer {
	return &Discoverer{
		Opener:      DefaultMux(),
		Candidates:  candidates,
		SystemPorts: SystemPorts,
		Trials:      DefaultTrials,
		TrialChars:  DefaultTrialChars,
		Banner:      DefaultBanner,
		Deadline:    DefaultDeadline,
	}
}

// Discover returns the first candidate answering with the banner,
// or ErrOffline.
func (d *Discoverer) Discover(ctx context.Context) (*Result, error) {
	names := Expand(d.Candidates, d.SystemPorts)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := d.Try(ctx, name)
		if err == nil {
			glog.Infof("found %s on %s", res.Firmware, name)
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		glog.V(1).Infof("tried %s: %v", name, err)
	}
	glog.Warningf("no spectrometer on %s, operating offline", strings.Join(names, ", "))
	return nil, ErrOffline
}

// Try opens one candidate and waits for the banner.
func (d *Discoverer) Try(ctx context.Context, name string) (*Result, error) {
	p, err := d.Opener.Open(name)
	if err != nil {
		return nil, err
	}
	firmware, err := d.handshake(ctx, p)
	if err != nil {
		p.Close()
		return nil, &OpenError{Name: name, Err: err}
	}
	return &Result{Name: name, Port: p, Firmware: firmware}, nil
}

// handshake reads up to Trials lines of at most TrialChars characters
// each. Empty reads are skipped until the deadline.
func (d *Discoverer) handshake(ctx context.Context, p Port) (string, error) {
	deadline := time.Now().Add(d.deadline())
	trials, chars := d.Trials, d.TrialChars
	if trials <= 0 {
		trials = DefaultTrials
	}
	if chars <= 0 {
		chars = DefaultTrialChars
	}
	banner := d.Banner
	if banner == "" {
		banner = DefaultBanner
	}

	var line []byte
	b := make([]byte, 1)
	for trial := 0; trial < trials; trial++ {
		for n := 0; n < chars; n++ {
			for {
				if err := ctx.Err(); err != nil {
					return "", err
				}
				if time.Now().After(deadline) {
					return "", context.DeadlineExceeded
				}
				cnt, err := p.Read(b)
				if err != nil {
					return "", err
				}
				if cnt > 0 {
					break
				}
			}
			switch c := b[0] & 0x7f; c {
			case '\r':
			case '\n':
				if strings.HasPrefix(string(line), banner) {
					return string(line), nil
				}
				line = line[:0]
			default:
				line = append(line, c)
			}
		}
	}
	return "", errNoBanner
}

func (d *Discoverer) deadline() time.Duration {
	if d.Deadline > 0 {
		return d.Deadline
	}
	return DefaultDeadline
}

// Bind clears stale input, makes a ready Link over the port and sends
// the one byte acknowledgment the firmware waits for.
func (r *Result) Bind() (*comm.Link, error) {
	if err := r.Port.ResetInputBuffer(); err != nil {
		glog.Warningf("%s: reset input: %v", r.Name, err)
	}
	link := comm.NewLink(r.Port)
	if err := link.SetReady(true); err != nil {
		return nil, err
	}
	if err := link.Write([]byte("\n")); err != nil {
		return nil, err
	}
	return link, nil
}
