package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser is a standard 5-field cron expression parser (minute hour dom month dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var timeOfDayPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

func parseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// parseTimeOfDay turns "HH:MM" into a daily schedule.
func parseTimeOfDay(s string) (cron.Schedule, error) {
	m := timeOfDayPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil, fmt.Errorf("time_of_day %q is not HH:MM", s)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return nil, fmt.Errorf("time_of_day %q is out of range", s)
	}
	return cronParser.Parse(fmt.Sprintf("%d %d * * *", minute, hour))
}

// nextFire is the first fire time strictly after from, in UTC.
func nextFire(sched cron.Schedule, from time.Time) time.Time {
	return sched.Next(from.UTC())
}
