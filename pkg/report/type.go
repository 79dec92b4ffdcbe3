package report

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gpureport/pkg/timewindow"
)

// Kind is the family of a report type. It doubles as the cache tag, so all
// reports of one kind can be invalidated together.
type Kind string

const (
	KindHourly    Kind = "hourly"
	KindToday     Kind = "today"
	KindYesterday Kind = "yesterday"
	KindWeekly    Kind = "weekly"
	KindMonthly   Kind = "monthly"
	KindYearly    Kind = "yearly"
	KindCustom    Kind = "custom"
)

// Kinds lists every kind
var Kinds = []Kind{KindHourly, KindToday, KindYesterday, KindWeekly, KindMonthly, KindYearly, KindCustom}

// HourlyLengths are the supported rolling window lengths
var HourlyLengths = []int{24, 48, 72}

// keyTimeLayout has no characters that are unsafe in file names
const keyTimeLayout = "20060102T150405Z"

// ReportType selects the window rule and cache policy of a report
type ReportType struct {
	Kind Kind
	// Hours is set for KindHourly
	Hours int
	// Start and End are set for KindCustom
	Start time.Time
	End   time.Time
}

func Hourly(hours int) ReportType { return ReportType{Kind: KindHourly, Hours: hours} }
func Today() ReportType           { return ReportType{Kind: KindToday} }
func Yesterday() ReportType       { return ReportType{Kind: KindYesterday} }
func Weekly() ReportType          { return ReportType{Kind: KindWeekly} }
func Monthly() ReportType         { return ReportType{Kind: KindMonthly} }
func Yearly() ReportType          { return ReportType{Kind: KindYearly} }

// Custom covers [start, end)
func Custom(start, end time.Time) ReportType {
	return ReportType{Kind: KindCustom, Start: start, End: end}
}

// ParseReportType accepts the names produced by String. start and end are only
// used for "custom".
func ParseReportType(name string, start, end time.Time) (ReportType, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	var t ReportType
	if hours, ok := strings.CutSuffix(name, "h"); ok {
		n, err := strconv.Atoi(hours)
		if err != nil {
			return ReportType{}, fmt.Errorf("%w: %q", ErrUnknownType, name)
		}
		t = Hourly(n)
	} else {
		switch Kind(name) {
		case KindToday, KindYesterday, KindWeekly, KindMonthly, KindYearly:
			t = ReportType{Kind: Kind(name)}
		case KindCustom:
			t = Custom(start, end)
		default:
			return ReportType{}, fmt.Errorf("%w: %q", ErrUnknownType, name)
		}
	}

	if err := t.Validate(); err != nil {
		return ReportType{}, err
	}
	return t, nil
}

// Validate rejects types whose window cannot be computed
func (t ReportType) Validate() error {
	switch t.Kind {
	case KindHourly:
		if !slices.Contains(HourlyLengths, t.Hours) {
			return fmt.Errorf("%w: hourly report length must be one of %v, got %d", ErrInvalidWindow, HourlyLengths, t.Hours)
		}
	case KindCustom:
		if !t.Start.Before(t.End) {
			return fmt.Errorf("%w: custom range start %s is not before end %s",
				ErrInvalidWindow, t.Start.Format(time.RFC3339), t.End.Format(time.RFC3339))
		}
	case KindToday, KindYesterday, KindWeekly, KindMonthly, KindYearly:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, t.Kind)
	}
	return nil
}

// Window computes the time range covered at now. Calendar boundaries are taken in
// now's location.
func (t ReportType) Window(now time.Time) (timewindow.Window, error) {
	if err := t.Validate(); err != nil {
		return timewindow.Window{}, err
	}
	switch t.Kind {
	case KindHourly:
		return timewindow.HourlyWindow(now, t.Hours), nil
	case KindToday:
		return timewindow.TodayWindow(now), nil
	case KindYesterday:
		return timewindow.YesterdayWindow(now), nil
	case KindWeekly:
		return timewindow.WeeklyWindow(now), nil
	case KindMonthly:
		return timewindow.MonthlyWindow(now), nil
	case KindYearly:
		return timewindow.YearlyWindow(now), nil
	default:
		return timewindow.Window{Start: t.Start.In(now.Location()), End: t.End.In(now.Location())}, nil
	}
}

// Tag is the cache tag shared by every report of this kind
func (t ReportType) Tag() string {
	return string(t.Kind)
}

// Key identifies the report for window in the cache
func (t ReportType) Key(w timewindow.Window) string {
	return fmt.Sprintf("%s_%s_%s", t, w.Start.UTC().Format(keyTimeLayout), w.End.UTC().Format(keyTimeLayout))
}

// String returns the short name, "24h" for a 24 hour report and the kind otherwise
func (t ReportType) String() string {
	if t.Kind == KindHourly {
		return strconv.Itoa(t.Hours) + "h"
	}
	return string(t.Kind)
}

// ParseKind validates a kind name
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	if !slices.Contains(Kinds, k) {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return k, nil
}
