// Package schedule computes absolute fire instants from reminder rules.
// Recurring rules are evaluated through RFC 5545 recurrence options and are
// persisted as RRULE strings, with the reminder's anchor instant playing the
// role of dtstart.
package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"remindbot/internal/models"
)

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
	time.Sunday:    "SU",
}

var weekdaysByName = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

// Validate rejects malformed rules. A weekly rule needs at least one weekday;
// every rule needs an anchor instant.
func Validate(rule models.Rule) error {
	if rule.At.IsZero() {
		return fmt.Errorf("%w: missing time", models.ErrInvalidSchedule)
	}
	switch rule.Kind {
	case models.RuleOnce, models.RuleDaily:
		return nil
	case models.RuleWeekly:
		if len(dedupDays(rule.Days)) == 0 {
			return fmt.Errorf("%w: weekly rule without weekdays", models.ErrInvalidSchedule)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown rule kind %q", models.ErrInvalidSchedule, rule.Kind)
	}
}

// Next returns the next absolute fire instant for the rule, evaluated against
// ref. One-shot rules return their instant unchanged; callers that accept a
// same-day-but-past time are expected to roll it forward by one day before the
// rule reaches here. Recurring rules never return an instant at or before ref.
func Next(rule models.Rule, ref time.Time) (time.Time, error) {
	if err := Validate(rule); err != nil {
		return time.Time{}, err
	}
	if rule.Kind == models.RuleOnce {
		return rule.At, nil
	}

	opt := rrule.ROption{
		Dtstart: rule.At,
	}
	switch rule.Kind {
	case models.RuleDaily:
		opt.Freq = rrule.DAILY
	case models.RuleWeekly:
		opt.Freq = rrule.WEEKLY
		for _, d := range dedupDays(rule.Days) {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
		}
	}
	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", models.ErrInvalidSchedule, err)
	}

	// rrule iterates from dtstart; clamp the search point so an anchor in the
	// future still yields its first occurrence.
	after := ref
	if rule.At.After(after) {
		after = rule.At.Add(-time.Second)
	}
	next := rr.After(after.In(rule.At.Location()), false)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: rule has no next occurrence", models.ErrInvalidSchedule)
	}
	return next, nil
}

// EffectiveNext is the instant the scheduler should arm for. An active snooze
// override stands in for the occurrence it deferred, so it wins over the
// rule's natural occurrence while it is still ahead of ref. An override that
// already passed is spent; the rule takes over again.
func EffectiveNext(rem *models.Reminder, ref time.Time) (time.Time, error) {
	if rem.SnoozedUntil != nil && rem.SnoozedUntil.After(ref) {
		return *rem.SnoozedUntil, nil
	}
	return Next(rem.Rule, ref)
}

// Encode renders the recurring part of a rule as an RRULE string for
// persistence. One-shot rules encode to the empty string; the time-of-day is
// carried by the stored anchor instant, not by BYHOUR/BYMINUTE.
func Encode(rule models.Rule) string {
	switch rule.Kind {
	case models.RuleDaily:
		return "FREQ=DAILY"
	case models.RuleWeekly:
		names := make([]string, 0, len(rule.Days))
		for _, d := range dedupDays(rule.Days) {
			names = append(names, weekdayNames[d])
		}
		return "FREQ=WEEKLY;BYDAY=" + strings.Join(names, ",")
	default:
		return ""
	}
}

// Decode rebuilds a rule from its persisted RRULE string and anchor instant.
func Decode(ruleStr string, at time.Time) (models.Rule, error) {
	if ruleStr == "" {
		return models.Rule{Kind: models.RuleOnce, At: at}, nil
	}
	opt, err := rrule.StrToROption(strings.TrimPrefix(ruleStr, "RRULE:"))
	if err != nil {
		return models.Rule{}, fmt.Errorf("%w: %v", models.ErrInvalidSchedule, err)
	}
	switch opt.Freq {
	case rrule.DAILY:
		return models.Rule{Kind: models.RuleDaily, At: at}, nil
	case rrule.WEEKLY:
		days := make([]time.Weekday, 0, len(opt.Byweekday))
		for _, wd := range opt.Byweekday {
			day, ok := weekdaysByName[wd.String()]
			if !ok {
				return models.Rule{}, fmt.Errorf("%w: weekday %q", models.ErrInvalidSchedule, wd.String())
			}
			days = append(days, day)
		}
		rule := models.Rule{Kind: models.RuleWeekly, At: at, Days: days}
		return rule, Validate(rule)
	default:
		return models.Rule{}, fmt.Errorf("%w: unsupported frequency in %q", models.ErrInvalidSchedule, ruleStr)
	}
}

func dedupDays(days []time.Weekday) []time.Weekday {
	seen := make(map[time.Weekday]bool, len(days))
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
