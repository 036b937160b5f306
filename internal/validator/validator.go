/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package validator implements the turn validation pipeline (spec §4.4):
// it takes a brain's raw TurnOutput and produces a safe-to-execute plan,
// truncating, filtering, and clamping rather than ever failing the turn.
package validator

import (
	"fmt"
	"strings"

	"github.com/marcus-qen/legator/internal/types"
)

// Options configures validation against the active autonomy policy.
type Options struct {
	MaxActions        int
	MaxSleepMs        int64
	StrictAllowlist   bool
}

// Result is the validated plan plus the structural errors observed while
// producing it.
type Result struct {
	Output     *types.TurnOutput
	Errors     []string
	Malformed  bool
}

// Validate runs the seven-step procedure from spec §4.4 against raw, the
// brain's unvalidated output.
func Validate(raw *types.TurnOutput, opts Options) Result {
	var errs []string

	if raw == nil {
		raw = &types.TurnOutput{Integrity: types.IntegrityMalformed}
	}

	if raw.Integrity == types.IntegrityMalformed {
		errs = append(errs, "provider_marked_malformed")
	}

	summary := strings.TrimSpace(raw.Summary)
	if summary == "" {
		errs = append(errs, "missing_summary")
		summary = "Autonomous turn completed."
	}

	actions := raw.NextActions
	if len(actions) == 0 {
		errs = append(errs, "missing_actions")
	}

	maxActions := opts.MaxActions
	if maxActions < 1 {
		maxActions = 1
	}
	if len(actions) > maxActions {
		actions = actions[:maxActions]
	}

	var kept []types.Action
	for _, a := range actions {
		if !types.IsAllowedActionType(a.Type) {
			errs = append(errs, fmt.Sprintf("action_not_allowed:%s", a.Type))
			continue
		}
		kept = append(kept, a)
	}
	actions = kept

	var sleepMs *int64
	if raw.SleepMs != nil {
		clamped := clamp(*raw.SleepMs, 0, opts.MaxSleepMs)
		sleepMs = &clamped
	}

	if len(actions) == 0 {
		actions = []types.Action{{Type: types.ActionNoop, Reason: "no_actions"}}
	}

	hasStructuralError := false
	for _, e := range errs {
		if e == "missing_summary" || e == "missing_actions" || e == "provider_marked_malformed" {
			hasStructuralError = true
			break
		}
	}

	var malformed bool
	if opts.StrictAllowlist {
		malformed = len(errs) > 0
	} else {
		malformed = hasStructuralError
	}

	out := &types.TurnOutput{
		Summary:      summary,
		NextActions:  actions,
		MemoryWrites: raw.MemoryWrites,
		SleepMs:      sleepMs,
		Integrity:    types.IntegrityOK,
	}
	if malformed {
		out.Integrity = types.IntegrityMalformed
	}

	return Result{Output: out, Errors: errs, Malformed: malformed}
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}
