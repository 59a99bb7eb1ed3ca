package steplog

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/pprof/profile"
	"github.com/perfgo/castest/model"
)

// BuildStepProfile converts timed steps into a pprof profile of wall time.
// Each step contributes its self time (its duration minus the time of its
// direct children) with the enclosing groups as the call stack, so
// `go tool pprof -top steps.pb.gz` lists where a test spent its time.
func BuildStepProfile(steps []model.Step, start time.Time, total time.Duration) *profile.Profile {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "wall", Unit: "nanoseconds"},
		},
		PeriodType:    &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:        1,
		TimeNanos:     start.UnixNano(),
		DurationNanos: total.Nanoseconds(),
	}

	self := make(map[string]time.Duration, len(steps))
	order := make([]string, 0, len(steps))
	for _, step := range steps {
		if _, seen := self[step.Path]; !seen {
			order = append(order, step.Path)
		}
		self[step.Path] += step.Duration
	}
	for _, step := range steps {
		if parent := parentPath(step.Path); parent != "" {
			if _, ok := self[parent]; ok {
				self[parent] -= step.Duration
			}
		}
	}

	functions := make(map[string]*profile.Function)
	locations := make(map[string]*profile.Location)

	location := func(path string) *profile.Location {
		if loc, ok := locations[path]; ok {
			return loc
		}
		name := path
		if i := strings.LastIndex(path, PathSeparator); i >= 0 {
			name = path[i+len(PathSeparator):]
		}
		fn, ok := functions[name]
		if !ok {
			fn = &profile.Function{
				ID:         uint64(len(prof.Function) + 1),
				Name:       name,
				SystemName: name,
			}
			functions[name] = fn
			prof.Function = append(prof.Function, fn)
		}
		loc := &profile.Location{
			ID:   uint64(len(prof.Location) + 1),
			Line: []profile.Line{{Function: fn}},
		}
		locations[path] = loc
		prof.Location = append(prof.Location, loc)
		return loc
	}

	for _, path := range order {
		d := self[path]
		if d < 0 {
			d = 0
		}

		// leaf first, as pprof expects
		var stack []*profile.Location
		for p := path; p != ""; p = parentPath(p) {
			stack = append(stack, location(p))
		}
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: stack,
			Value:    []int64{d.Nanoseconds()},
		})
	}
	return prof
}

func parentPath(path string) string {
	i := strings.LastIndex(path, PathSeparator)
	if i < 0 {
		return ""
	}
	return path[:i]
}

// StepTiming is the cumulative time of a step path read back from a profile.
type StepTiming struct {
	Path string
	Self time.Duration
	Cum  time.Duration
}

// ReadStepProfile parses a step profile and returns the timing per step
// path, ordered by path.
func ReadStepProfile(r io.Reader) ([]StepTiming, error) {
	prof, err := profile.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse step profile: %w", err)
	}
	if len(prof.SampleType) != 1 || prof.SampleType[0].Type != "wall" {
		return nil, fmt.Errorf("not a step profile")
	}

	timings := make(map[string]*StepTiming)
	get := func(path string) *StepTiming {
		t, ok := timings[path]
		if !ok {
			t = &StepTiming{Path: path}
			timings[path] = t
		}
		return t
	}

	for _, s := range prof.Sample {
		names := make([]string, 0, len(s.Location))
		for i := len(s.Location) - 1; i >= 0; i-- {
			loc := s.Location[i]
			if len(loc.Line) == 0 || loc.Line[0].Function == nil {
				continue
			}
			names = append(names, loc.Line[0].Function.Name)
		}
		if len(names) == 0 {
			continue
		}
		v := time.Duration(s.Value[0])
		get(strings.Join(names, PathSeparator)).Self += v
		for i := range names {
			get(strings.Join(names[:i+1], PathSeparator)).Cum += v
		}
	}

	out := make([]StepTiming, 0, len(timings))
	for _, t := range timings {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
