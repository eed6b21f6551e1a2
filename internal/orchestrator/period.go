package orchestrator

import "strings"

// Period selects which tasks a run executes.
type Period string

// Task names one unit of ingestion work.
type Task string

const (
	PeriodHourly Period = "hourly"
	PeriodDaily  Period = "daily"
	PeriodAll    Period = "all"
)

const (
	TaskFeed    Task = "feed"
	TaskCrawl   Task = "crawl"
	TaskCleanup Task = "cleanup"
)

// ParsePeriod maps a period name onto a Period. Empty or unknown names select
// PeriodAll; the boolean reports whether raw named a period.
func ParsePeriod(raw string) (Period, bool) {
	switch p := Period(strings.ToLower(strings.TrimSpace(raw))); p {
	case PeriodHourly, PeriodDaily, PeriodAll:
		return p, true
	default:
		return PeriodAll, false
	}
}

// Tasks lists the tasks the period runs.
func (p Period) Tasks() []Task {
	switch p {
	case PeriodHourly:
		return []Task{TaskFeed}
	case PeriodDaily:
		return []Task{TaskCrawl, TaskCleanup}
	default:
		return []Task{TaskFeed, TaskCrawl, TaskCleanup}
	}
}
