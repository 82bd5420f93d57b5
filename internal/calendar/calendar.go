// Package calendar provides holiday calendars and business-day adjustment.
package calendar

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/swapval/internal/domain"
)

// Built-in calendar names.
const (
	Weekends = "WEEKENDS"
	USD      = "USD"
	TARGET   = "TARGET"
	GBP      = "GBP"
)

const dateKey = "2006-01-02"

// Calendar answers business-day questions for one named holiday set, or for
// the union of several when it is a joint calendar.
type Calendar struct {
	name    string
	rule    func(year int) []time.Time
	extra   map[string]struct{}
	members []*Calendar

	mu    sync.Mutex
	years map[int]map[string]struct{}
}

func newCalendar(name string, rule func(year int) []time.Time) *Calendar {
	return &Calendar{name: name, rule: rule, extra: map[string]struct{}{}, years: map[int]map[string]struct{}{}}
}

func (c *Calendar) Name() string { return c.name }

// IsHoliday reports whether t is a holiday. Weekends are not holidays.
func (c *Calendar) IsHoliday(t time.Time) bool {
	if len(c.members) > 0 {
		for _, m := range c.members {
			if m.IsHoliday(t) {
				return true
			}
		}
		return false
	}
	key := domain.DateOf(t).Format(dateKey)
	if _, ok := c.extra[key]; ok {
		return true
	}
	_, ok := c.holidaysFor(t.Year())[key]
	return ok
}

func (c *Calendar) holidaysFor(year int) map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.years[year]; ok {
		return set
	}
	set := map[string]struct{}{}
	if c.rule != nil {
		for _, d := range c.rule(year) {
			set[d.Format(dateKey)] = struct{}{}
		}
	}
	c.years[year] = set
	return set
}

// IsBusinessDay reports whether t is neither a weekend nor a holiday.
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !c.IsHoliday(t)
}

// Adjust rolls t onto a business day. Unknown conventions leave t unchanged.
func (c *Calendar) Adjust(t time.Time, bdc domain.BusinessDayConvention) time.Time {
	t = domain.DateOf(t)
	if bdc == domain.Unadjusted || c.IsBusinessDay(t) {
		return t
	}
	switch bdc {
	case domain.Following:
		return c.next(t)
	case domain.Preceding:
		return c.previous(t)
	case domain.ModifiedFollowing:
		if n := c.next(t); n.Month() == t.Month() {
			return n
		}
		return c.previous(t)
	case domain.ModifiedPreceding:
		if p := c.previous(t); p.Month() == t.Month() {
			return p
		}
		return c.next(t)
	default:
		return t
	}
}

// AddBusinessDays advances n business days; n may be negative.
func (c *Calendar) AddBusinessDays(t time.Time, n int) time.Time {
	t = domain.DateOf(t)
	step := 1
	if n < 0 {
		step = -1
	}
	for n != 0 {
		t = t.AddDate(0, 0, step)
		if c.IsBusinessDay(t) {
			n -= step
		}
	}
	return t
}

func (c *Calendar) next(t time.Time) time.Time {
	t = t.AddDate(0, 0, 1)
	for !c.IsBusinessDay(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func (c *Calendar) previous(t time.Time) time.Time {
	t = t.AddDate(0, 0, -1)
	for !c.IsBusinessDay(t) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// Registry holds named calendars. Joint calendars are addressed by joining
// member names with "+", e.g. "USD+TARGET".
type Registry struct {
	mu        sync.RWMutex
	calendars map[string]*Calendar
}

// NewRegistry returns a registry with the built-in calendars. EUR is an
// alias of TARGET.
func NewRegistry() *Registry {
	target := newCalendar(TARGET, targetHolidays)
	return &Registry{calendars: map[string]*Calendar{
		Weekends: newCalendar(Weekends, nil),
		USD:      newCalendar(USD, usdHolidays),
		TARGET:   target,
		"EUR":    target,
		GBP:      newCalendar(GBP, gbpHolidays),
	}}
}

// Lookup resolves a calendar or joint calendar by name.
func (r *Registry) Lookup(name string) (*Calendar, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("calendar name is required")
	}
	parts := strings.Split(name, "+")
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(parts) == 1 {
		cal, ok := r.calendars[name]
		if !ok {
			return nil, fmt.Errorf("unknown calendar %q", name)
		}
		return cal, nil
	}
	joint := newCalendar(name, nil)
	for _, part := range parts {
		cal, ok := r.calendars[strings.TrimSpace(part)]
		if !ok {
			return nil, fmt.Errorf("unknown calendar %q in %q", part, name)
		}
		joint.members = append(joint.members, cal)
	}
	return joint, nil
}

// Has reports whether name resolves.
func (r *Registry) Has(name string) bool {
	_, err := r.Lookup(name)
	return err == nil
}

// AddHolidays registers extra holiday dates on a calendar, creating a
// weekend-only calendar under that name when it does not exist yet.
func (r *Registry) AddHolidays(name string, dates []time.Time) error {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" || strings.Contains(name, "+") {
		return fmt.Errorf("invalid calendar name %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.calendars[name]
	var rule func(int) []time.Time
	if ok {
		rule = prev.rule
	}
	next := newCalendar(name, rule)
	if ok {
		next.name = prev.name
		for k := range prev.extra {
			next.extra[k] = struct{}{}
		}
	}
	for _, d := range dates {
		next.extra[domain.DateOf(d).Format(dateKey)] = struct{}{}
	}
	for key, cal := range r.calendars {
		if cal == prev {
			r.calendars[key] = next
		}
	}
	r.calendars[name] = next
	return nil
}

// Names lists registered calendar names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.calendars))
	for name := range r.calendars {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
