package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/noah-isme/recordkeeper/internal/models"
	appErrors "github.com/noah-isme/recordkeeper/pkg/errors"
)

// branchCodeFiller pads branch codes shorter than two characters.
const branchCodeFiller = 'X'

type prnCounter interface {
	Next(ctx context.Context) (int64, error)
}

type occupancyReader interface {
	CountByDivision(ctx context.Context, branch string) (map[string]int, error)
	ClassRollsWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

type transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AllocatorConfig fixes the division layout and e-mail domain.
type AllocatorConfig struct {
	Capacity  int
	Divisions []string
	Domain    string
}

// Snapshot is the occupancy of one branch taken inside the critical section.
type Snapshot struct {
	Branch    string
	Counts    map[string]int
	UsedRolls map[string][]string
}

// Placement is the division seat and class roll assigned to a student.
type Placement struct {
	Division  string
	ClassRoll string
}

// Allocator derives PRNs, divisions, class rolls and e-mails. Every allocation
// that reads occupancy and then writes must run inside Critical.
type Allocator struct {
	mu       sync.Mutex
	cfg      AllocatorConfig
	counter  prnCounter
	students occupancyReader
	tx       transactor
}

// NewAllocator constructs an Allocator.
func NewAllocator(cfg AllocatorConfig, counter prnCounter, students occupancyReader, tx transactor) *Allocator {
	return &Allocator{cfg: cfg, counter: counter, students: students, tx: tx}
}

// Capacity is the seat limit of a single division.
func (a *Allocator) Capacity() int { return a.cfg.Capacity }

// Divisions returns the canonical division order.
func (a *Allocator) Divisions() []string {
	out := make([]string, len(a.cfg.Divisions))
	copy(out, a.cfg.Divisions)
	return out
}

// Critical serialises fn against every other allocation in this process and runs
// it in one database transaction.
func (a *Allocator) Critical(ctx context.Context, fn func(ctx context.Context) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tx.InTx(ctx, fn)
}

// NormalizeBranch trims and upper-cases a branch name.
func NormalizeBranch(branch string) string {
	return strings.ToUpper(strings.TrimSpace(branch))
}

// BranchCode returns the two-character code embedded in class rolls.
func BranchCode(branch string) string {
	runes := []rune(NormalizeBranch(branch))
	if len(runes) > 2 {
		runes = runes[:2]
	}
	for len(runes) < 2 {
		runes = append(runes, branchCodeFiller)
	}
	return string(runes)
}

// Snapshot reads live occupancy for branch.
func (a *Allocator) Snapshot(ctx context.Context, branch string) (*Snapshot, error) {
	branch = NormalizeBranch(branch)
	counts, err := a.students.CountByDivision(ctx, branch)
	if err != nil {
		return nil, internal(err, "failed to read division occupancy")
	}
	snap := &Snapshot{Branch: branch, Counts: counts, UsedRolls: make(map[string][]string, len(a.cfg.Divisions))}
	code := BranchCode(branch)
	for _, division := range a.cfg.Divisions {
		rolls, err := a.students.ClassRollsWithPrefix(ctx, code+division)
		if err != nil {
			return nil, internal(err, "failed to read class rolls")
		}
		snap.UsedRolls[division] = rolls
	}
	return snap, nil
}

// AllocateDivision picks the first division in canonical order with a free seat.
func (a *Allocator) AllocateDivision(branch string, counts map[string]int) (string, error) {
	for _, division := range a.cfg.Divisions {
		if counts[division] < a.cfg.Capacity {
			return division, nil
		}
	}
	return "", a.branchFull(branch)
}

func (a *Allocator) branchFull(branch string) error {
	return appErrors.Clone(appErrors.ErrCapacityExceeded, fmt.Sprintf(
		"all divisions for branch %s are full (%dx%d = %d students)",
		NormalizeBranch(branch), len(a.cfg.Divisions), a.cfg.Capacity, len(a.cfg.Divisions)*a.cfg.Capacity))
}

// AllocateClassRoll assigns the lowest free sequence under <code><division>.
// With no gaps this is count+1, and a roll freed by a deletion is handed out again.
func (a *Allocator) AllocateClassRoll(branch, division string, count int, usedRolls []string) (string, error) {
	if count >= a.cfg.Capacity {
		return "", a.divisionFull(branch, division)
	}
	if roll, ok := a.freeRoll(branch, division, usedRolls); ok {
		return roll, nil
	}
	return "", a.divisionFull(branch, division)
}

// freeRoll returns the lowest sequence under <code><division> that no student
// holds. Branches sharing a code also share these sequences.
func (a *Allocator) freeRoll(branch, division string, usedRolls []string) (string, bool) {
	prefix := BranchCode(branch) + division
	taken := make(map[int]bool, len(usedRolls))
	for _, roll := range usedRolls {
		if seq, ok := rollSequence(roll, prefix); ok {
			taken[seq] = true
		}
	}
	for seq := 1; seq <= a.cfg.Capacity; seq++ {
		if !taken[seq] {
			return fmt.Sprintf("%s%02d", prefix, seq), true
		}
	}
	return "", false
}

func (a *Allocator) divisionFull(branch, division string) error {
	return appErrors.Clone(appErrors.ErrCapacityExceeded, fmt.Sprintf(
		"division %s of branch %s is full (%d students)", division, NormalizeBranch(branch), a.cfg.Capacity))
}

func rollSequence(roll, prefix string) (int, bool) {
	rest := strings.TrimPrefix(roll, prefix)
	if rest == roll || len(rest) != 2 {
		return 0, false
	}
	seq, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Place runs the division then class roll steps over a fresh snapshot. Divisions
// are tried in canonical order; one with a free seat but no free roll (its
// sequences taken by a branch with the same code) is passed over, and the branch
// is full only when no division can take the student.
func (a *Allocator) Place(ctx context.Context, branch string) (Placement, error) {
	snap, err := a.Snapshot(ctx, branch)
	if err != nil {
		return Placement{}, err
	}
	for _, division := range a.cfg.Divisions {
		if snap.Counts[division] >= a.cfg.Capacity {
			continue
		}
		if roll, ok := a.freeRoll(branch, division, snap.UsedRolls[division]); ok {
			return Placement{Division: division, ClassRoll: roll}, nil
		}
	}
	return Placement{}, a.branchFull(branch)
}

// AllocatePRN consumes the next permanent record number.
func (a *Allocator) AllocatePRN(ctx context.Context) (string, error) {
	next, err := a.counter.Next(ctx)
	if err != nil {
		return "", internal(err, "failed to allocate prn")
	}
	return strconv.FormatInt(next, 10), nil
}

// DeriveEmail builds first.last.prn@branch.<domain>, all lower case.
func (a *Allocator) DeriveEmail(firstName, lastName, prn, branch string) (string, error) {
	return DeriveEmail(firstName, lastName, prn, branch, a.cfg.Domain)
}

// DeriveEmail is the pure form of Allocator.DeriveEmail.
func DeriveEmail(firstName, lastName, prn, branch, domain string) (string, error) {
	parts := []struct{ name, value string }{
		{"first_name", firstName},
		{"last_name", lastName},
		{"prn", prn},
		{"branch", branch},
		{"domain", domain},
	}
	clean := make([]string, len(parts))
	for i, p := range parts {
		clean[i] = strings.ToLower(stripSpaces(p.value))
		if clean[i] == "" {
			return "", invalid(fmt.Sprintf("%s is required to derive an email", p.name))
		}
	}
	return fmt.Sprintf("%s.%s.%s@%s.%s", clean[0], clean[1], clean[2], clean[3], clean[4]), nil
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// AuthorizeBranch allows an actor with no branch scope, or one matching owner.
func AuthorizeBranch(actor *string, owner string) error {
	if actor == nil {
		return nil
	}
	if NormalizeBranch(*actor) != NormalizeBranch(owner) {
		return appErrors.Clone(appErrors.ErrForbidden, "not authorized for this branch")
	}
	return nil
}

// StatsFor turns per-division counts into the configured division layout.
func (a *Allocator) StatsFor(branch string, counts map[string]int) *models.BranchStats {
	stats := &models.BranchStats{Branch: NormalizeBranch(branch), Capacity: a.cfg.Capacity}
	for _, division := range a.cfg.Divisions {
		c := counts[division]
		remaining := a.cfg.Capacity - c
		if remaining < 0 {
			remaining = 0
		}
		stats.Total += c
		stats.Divisions = append(stats.Divisions, models.DivisionStats{Division: division, Count: c, Remaining: remaining})
	}
	return stats
}
