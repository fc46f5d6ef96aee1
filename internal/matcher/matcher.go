// Package matcher implements the transport matcher (spec section 4.1): the
// two-phase filter that, given a criterion, finds the best (local resource,
// remote address) pair, or reports why none qualifies.
package matcher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lanewire/wireup/internal/capbits"
	"github.com/lanewire/wireup/internal/reachability"
	"github.com/lanewire/wireup/internal/wireup"
)

// Result is the winning (resource, remote address) pairing for one
// criterion.
type Result struct {
	ResourceIndex int
	RemoteIndex   int
	Score         float64
	Priority      int
}

// Error reports that no local resource / remote address pairing satisfies a
// criterion, with a diagnostic line per local resource considered.
type Error struct {
	Title       string
	Diagnostics []string // one line per local resource considered
}

func (e *Error) Error() string {
	if len(e.Diagnostics) == 0 {
		return fmt.Sprintf("no reachable transport for %q", e.Title)
	}
	return fmt.Sprintf("no reachable transport for %q:\n%s", e.Title, strings.Join(e.Diagnostics, "\n"))
}

func (e *Error) Unwrap() error { return wireup.ErrUnreachable }

// Matcher runs transport-matcher passes against a fixed pair of resource and
// remote-address tables.
type Matcher struct {
	Resources []wireup.TransportResource
	Remotes   []wireup.RemoteAddress
	Reach     reachability.Delegate
	ScoreCtx  wireup.ScoreContext
}

// New builds a Matcher over the given tables.
func New(resources []wireup.TransportResource, remotes []wireup.RemoteAddress, reach reachability.Delegate, scoreCtx wireup.ScoreContext) *Matcher {
	if reach == nil {
		reach = reachability.Default{}
	}
	return &Matcher{Resources: resources, Remotes: remotes, Reach: reach, ScoreCtx: scoreCtx}
}

// Match runs one transport-matcher pass (spec section 4.1).
func (m *Matcher) Match(
	criterion wireup.Criterion,
	localResourceBitmap, remoteMDBitmap, localDeviceBitmap, remoteDeviceBitmap wireup.Bitmap,
	emitError bool,
) (Result, error) {
	wireup.Assert(
		criterion.ReqRemoteIfaceCaps&^capbits.RemoteTransmittable == 0,
		"criterion %q requires remote capability flags the address codec never transmits", criterion.Title,
	)

	remoteSurvivors := m.remotePrefilter(criterion, remoteMDBitmap, remoteDeviceBitmap)
	if len(remoteSurvivors) == 0 {
		if !emitError {
			return Result{}, &Error{Title: criterion.Title}
		}
		return Result{}, &Error{Title: criterion.Title, Diagnostics: []string{"no remote address satisfies required capabilities"}}
	}

	best, bestScore, bestPriority, found := m.localScan(criterion, localResourceBitmap, localDeviceBitmap, remoteSurvivors)
	if found {
		return Result{ResourceIndex: best.ResourceIndex, RemoteIndex: best.RemoteIndex, Score: bestScore, Priority: bestPriority}, nil
	}

	if !emitError {
		return Result{}, &Error{Title: criterion.Title}
	}
	return Result{}, &Error{Title: criterion.Title, Diagnostics: m.diagnostics(criterion, localResourceBitmap, localDeviceBitmap, remoteSurvivors)}
}

func (m *Matcher) remotePrefilter(criterion wireup.Criterion, remoteMDBitmap, remoteDeviceBitmap wireup.Bitmap) []int {
	var survivors []int
	for i, addr := range m.Remotes {
		if !remoteDeviceBitmap.Test(addr.DeviceIndex) {
			continue
		}
		if !remoteMDBitmap.Test(addr.MDIndex) {
			continue
		}
		if !addr.MDFlags.Contains(criterion.ReqRemoteMDFlags) {
			continue
		}
		if !addr.IfaceCaps.Contains(criterion.ReqRemoteIfaceCaps) {
			continue
		}
		if !addr.Atomic.Contains(criterion.ReqRemoteAtomic) {
			continue
		}
		survivors = append(survivors, i)
	}
	return survivors
}

type candidate struct {
	ResourceIndex int
	RemoteIndex   int
}

func (m *Matcher) localScan(
	criterion wireup.Criterion,
	localResourceBitmap, localDeviceBitmap wireup.Bitmap,
	remoteSurvivors []int,
) (candidate, float64, int, bool) {
	var (
		best      candidate
		bestScore float64
		bestPrio  int
		found     bool
	)

	for ri, res := range m.Resources {
		if !localResourceBitmap.Test(ri) {
			continue
		}
		if res.Auxiliary && !criterion.AllowAuxiliary {
			continue
		}
		if !res.MDCaps.Contains(criterion.ReqLocalMDFlags) {
			continue
		}
		if !res.IfaceCaps.Contains(criterion.ReqLocalIfaceCaps) {
			continue
		}
		if !res.Atomic.Contains(criterion.ReqLocalAtomic) {
			continue
		}
		if !localDeviceBitmap.Test(res.DeviceIndex) {
			continue
		}

		for _, rj := range remoteSurvivors {
			addr := m.Remotes[rj]
			if !m.Reach.Reachable(res, addr) {
				continue
			}

			score := criterion.Score(res, addr, m.ScoreCtx)
			priority := res.Priority + addr.Priority

			if !found || wireup.ScoreGreater(score, bestScore) ||
				(wireup.ScoreEqual(score, bestScore) && priority > bestPrio) {
				best = candidate{ResourceIndex: ri, RemoteIndex: rj}
				bestScore = score
				bestPrio = priority
				found = true
			}
		}
	}

	return best, bestScore, bestPrio, found
}

// diagnostics names, per local resource considered, either the first
// missing capability flag or "unreachable" (spec section 4.1/7).
func (m *Matcher) diagnostics(criterion wireup.Criterion, localResourceBitmap, localDeviceBitmap wireup.Bitmap, remoteSurvivors []int) []string {
	var lines []string
	for ri, res := range m.Resources {
		if !localResourceBitmap.Test(ri) {
			continue
		}
		if res.Auxiliary && !criterion.AllowAuxiliary {
			continue
		}
		if !localDeviceBitmap.Test(res.DeviceIndex) {
			continue
		}

		if bit, missing := capbits.FirstMissing(criterion.ReqLocalMDFlags, res.MDCaps); missing {
			lines = append(lines, fmt.Sprintf("%s/%s: missing %s", res.TransportName, res.DeviceName, capbits.Name(bit)))
			continue
		}
		if bit, missing := capbits.FirstMissing(criterion.ReqLocalIfaceCaps, res.IfaceCaps); missing {
			lines = append(lines, fmt.Sprintf("%s/%s: missing %s", res.TransportName, res.DeviceName, capbits.Name(bit)))
			continue
		}
		if name, missing := res.Atomic.FirstMissing(criterion.ReqLocalAtomic); missing {
			lines = append(lines, fmt.Sprintf("%s/%s: missing %s", res.TransportName, res.DeviceName, name))
			continue
		}

		reachableAny := false
		for _, rj := range remoteSurvivors {
			if m.Reach.Reachable(res, m.Remotes[rj]) {
				reachableAny = true
				break
			}
		}
		if !reachableAny {
			lines = append(lines, fmt.Sprintf("%s/%s: unreachable", res.TransportName, res.DeviceName))
		}
	}
	sort.Strings(lines)
	return lines
}
