package icron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts an optional seconds field and descriptors such as "@every 1m".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type TriggerInfo struct {
	Next       time.Time
	Expression string

	TimeUntilNext time.Duration
}

// Disabled reports whether expr turns scheduling off.
func Disabled(expr string) bool {
	expr = strings.TrimSpace(expr)
	return expr == "" || strings.EqualFold(expr, "off")
}

func Parse(expr string) (cron.Schedule, error) {
	schedule, err := Parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// New returns a cron engine that understands the same expressions as Parse.
func New() *cron.Cron {
	return cron.New(cron.WithParser(Parser))
}

func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	next := schedule.Next(refTime)
	return &TriggerInfo{
		Expression:    cronExpr,
		Next:          next,
		TimeUntilNext: next.Sub(refTime),
	}, nil
}
