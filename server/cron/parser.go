package cron

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
)

const (
	triggerSeparator      = ";"
	platformSeparator     = ":"
	platformListSeparator = ","

	// allPlatforms expands to every platform in the registry.
	allPlatforms = "*"
)

// scheduleParser accepts standard 5-field expressions and descriptors such
// as "@hourly" or "@every 15m".
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := scheduleParser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}
	return schedule, nil
}

// TriggerSpec is a parsed refresh trigger: the platforms to refresh and
// when.
type TriggerSpec struct {
	Platforms []platform.Platform
	CronSpec  string
}

// ParseTriggerSpecs parses a multi-trigger specification string into individual trigger specs.
// The format is: platform1,platform2:cron_expression;platform3:cron_expression2
//
// Example:
//
//	"google_maps,facebook:0 2 * * *;tripadvisor:0 3 * * 1"
//
// "*" in place of a platform list means every registered platform.
//
// Returns an error if:
//   - Any trigger is missing platforms or cron expression
//   - Any platform is not in the registry
//   - Any cron expression is invalid
//   - Any trigger names a platform twice
func ParseTriggerSpecs(spec string, reg *platform.Registry) ([]TriggerSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("cron spec cannot be empty")
	}

	triggerStrs := strings.Split(spec, triggerSeparator)
	specs := make([]TriggerSpec, 0, len(triggerStrs))

	for _, triggerStr := range triggerStrs {
		triggerStr = strings.TrimSpace(triggerStr)
		if triggerStr == "" {
			continue // trailing semicolon
		}

		triggerSpec, err := parseSingleTrigger(triggerStr, reg)
		if err != nil {
			return nil, err
		}
		specs = append(specs, triggerSpec)
	}

	if len(specs) == 0 {
		return nil, errors.New("no valid triggers found in cron spec")
	}
	return specs, nil
}

func parseSingleTrigger(triggerStr string, reg *platform.Registry) (TriggerSpec, error) {
	parts := strings.Split(triggerStr, platformSeparator)
	if len(parts) != 2 {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: expected format 'platforms:cron', got '%s'", triggerStr)
	}

	platformsStr := strings.TrimSpace(parts[0])
	cronSpec := strings.TrimSpace(parts[1])

	if platformsStr == "" {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: missing platforms in '%s'", triggerStr)
	}
	if cronSpec == "" {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: missing cron schedule in '%s'", triggerStr)
	}

	var platforms []platform.Platform
	if platformsStr == allPlatforms {
		platforms = reg.Platforms()
	} else {
		seen := make(map[platform.Platform]bool)
		for _, name := range strings.Split(platformsStr, platformListSeparator) {
			p := platform.Platform(strings.TrimSpace(name))
			if p == "" {
				continue
			}
			if seen[p] {
				return TriggerSpec{}, fmt.Errorf("invalid trigger spec: duplicate platform '%s' in '%s'", p, triggerStr)
			}
			seen[p] = true

			if !reg.Supports(p) {
				return TriggerSpec{}, fmt.Errorf("invalid trigger spec: unknown platform '%s' in '%s' (available: %s)",
					p, triggerStr, formatPlatforms(reg.Platforms()))
			}
			platforms = append(platforms, p)
		}
	}

	if len(platforms) == 0 {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: no valid platforms in '%s'", triggerStr)
	}

	if _, err := ParseSchedule(cronSpec); err != nil {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: invalid cron expression in '%s': %w", triggerStr, err)
	}

	return TriggerSpec{
		Platforms: platforms,
		CronSpec:  cronSpec,
	}, nil
}

func formatPlatforms(platforms []platform.Platform) string {
	return joinPlatforms(platforms, ", ")
}

func joinPlatforms(platforms []platform.Platform, sep string) string {
	names := make([]string, len(platforms))
	for i, p := range platforms {
		names[i] = string(p)
	}
	return strings.Join(names, sep)
}
