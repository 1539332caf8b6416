// Package phases implements the phase store of spec §4.7: public,
// draft and secret phase roots, the ancestor-based effective-phase
// computation, and the monotone advance/retract boundary operations.
package phases

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/go-revlog/revlog/nodeid"
)

// Phase is public < draft < secret (spec §3 "An integer in {0=public,
// 1=draft, 2=secret}").
type Phase int

const (
	Public Phase = 0
	Draft  Phase = 1
	Secret Phase = 2
)

func (p Phase) String() string {
	switch p {
	case Public:
		return "public"
	case Draft:
		return "draft"
	case Secret:
		return "secret"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// trackedPhases are the phases that can have roots; Public is the
// default for anything not covered by a Draft or Secret root.
var trackedPhases = []Phase{Secret, Draft}

// AncestorResolver is the minimal changelog surface the phase store
// needs: resolve a node to its revision and walk ancestors.
type AncestorResolver interface {
	Rev(n nodeid.ID) (int, error)
	Ancestors(revs []int, stopRev int, inclusive bool) []int
}

// Store holds the phase roots and computes effective phases against
// an AncestorResolver (normally the repository's changelog).
type Store struct {
	roots    map[Phase][]nodeid.ID
	resolver AncestorResolver
	log      *logrus.Logger
}

// New creates an empty phase store (everything public) over resolver.
func New(resolver AncestorResolver, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{roots: map[Phase][]nodeid.ID{}, resolver: resolver, log: log}
}

// Roots returns the current roots for phase (a copy; empty/nil for
// Public, which has none).
func (s *Store) Roots(phase Phase) []nodeid.ID {
	return append([]nodeid.ID(nil), s.roots[phase]...)
}

// Phase computes the effective phase of rev: the maximum phase value
// over roots that are ancestors of it, or Public if none apply (spec
// §4.7 "Phase storage").
func (s *Store) Phase(rev int) (Phase, error) {
	ancestors := s.resolver.Ancestors([]int{rev}, -1, true)
	ancestorSet := make(map[int]bool, len(ancestors))
	for _, a := range ancestors {
		ancestorSet[a] = true
	}
	best := Public
	for _, phase := range trackedPhases {
		for _, root := range s.roots[phase] {
			rootRev, err := s.resolver.Rev(root)
			if err != nil {
				continue
			}
			if ancestorSet[rootRev] && phase > best {
				best = phase
				break
			}
		}
	}
	return best, nil
}

// RetractBoundary moves nodes toward draft/secret: it only ever
// raises a node's phase, silently skipping any node whose current
// phase is already >= target (spec property 8 "retractboundary never
// lowers it" — here read as "never raises the boundary the wrong
// way", i.e. it is a no-op rather than a violation when already
// satisfied).
func (s *Store) RetractBoundary(target Phase, nodes []nodeid.ID) error {
	if target == Public {
		return fmt.Errorf("phases: retractboundary target must be draft or secret, not public")
	}
	var toAdd []nodeid.ID
	for _, n := range nodes {
		rev, err := s.resolver.Rev(n)
		if err != nil {
			return err
		}
		cur, err := s.Phase(rev)
		if err != nil {
			return err
		}
		if cur >= target {
			s.log.WithFields(logrus.Fields{"node": n.Short(), "phase": cur}).Debug("phases: retractboundary skipped, already at or past target")
			continue
		}
		toAdd = append(toAdd, n)
	}
	if len(toAdd) == 0 {
		return nil
	}
	s.roots[target] = append(s.roots[target], toAdd...)
	s.roots[target] = dedupeNodes(s.roots[target])
	return nil
}

// AdvanceBoundary moves nodes toward public: it only ever lowers a
// node's phase, silently skipping any node whose current phase is
// already <= target.
func (s *Store) AdvanceBoundary(target Phase, nodes []nodeid.ID) error {
	toRemove := make(map[nodeid.ID]bool, len(nodes))
	for _, n := range nodes {
		rev, err := s.resolver.Rev(n)
		if err != nil {
			return err
		}
		cur, err := s.Phase(rev)
		if err != nil {
			return err
		}
		if cur <= target {
			s.log.WithFields(logrus.Fields{"node": n.Short(), "phase": cur}).Debug("phases: advanceboundary skipped, already at or past target")
			continue
		}
		toRemove[n] = true
	}
	for _, phase := range trackedPhases {
		if phase <= target {
			continue
		}
		s.roots[phase] = filterOutNodes(s.roots[phase], toRemove)
	}
	return nil
}

func dedupeNodes(nodes []nodeid.ID) []nodeid.ID {
	seen := map[nodeid.ID]bool{}
	out := make([]nodeid.ID, 0, len(nodes))
	for _, n := range nodes {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func filterOutNodes(nodes []nodeid.ID, drop map[nodeid.ID]bool) []nodeid.ID {
	out := make([]nodeid.ID, 0, len(nodes))
	for _, n := range nodes {
		if drop[n] {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Encode serializes the roots file: one "ASCII_digit phase hex_node"
// record per line (spec §4.7 "Phase roots file"), sorted for
// deterministic output.
func (s *Store) Encode() []byte {
	var lines []string
	for _, phase := range trackedPhases {
		for _, n := range s.roots[phase] {
			lines = append(lines, fmt.Sprintf("%d %s", int(phase), n.Hex()))
		}
	}
	sort.Strings(lines)
	var buf strings.Builder
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return []byte(buf.String())
}

// Decode parses the roots file format produced by Encode.
func Decode(raw []byte, resolver AncestorResolver, log *logrus.Logger) (*Store, error) {
	s := New(resolver, log)
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("phases: malformed roots line %q", line)
		}
		p, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("phases: malformed phase digit %q: %w", fields[0], err)
		}
		n, err := nodeid.FromHex(fields[1])
		if err != nil {
			return nil, fmt.Errorf("phases: malformed node %q: %w", fields[1], err)
		}
		s.roots[Phase(p)] = append(s.roots[Phase(p)], n)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the roots file to path.
func (s *Store) Save(path string) error {
	return os.WriteFile(path, s.Encode(), 0644)
}

// Load reads the roots file from path, treating a missing file as an
// empty (all-public) store.
func Load(path string, resolver AncestorResolver, log *logrus.Logger) (*Store, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(resolver, log), nil
	}
	if err != nil {
		return nil, err
	}
	return Decode(raw, resolver, log)
}
