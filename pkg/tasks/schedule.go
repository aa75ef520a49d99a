// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tasks

import (
	"fmt"
	"time"

	"github.com/canonical/mission-control/internal/types"
)

// initialProgress is what a run and its first step report the moment they start
const initialProgress = 5

var stepNames = []string{
	"Prepare environment",
	"Execute mission",
	"Verify & report",
}

// DefaultSchedule is the simulated executor, progress only ever goes up
var DefaultSchedule = []types.RunCheckpoint{
	{RunProgress: 15, StepIndex: 0, StepProgress: 50, Message: "Provisioning workspace"},
	{RunProgress: 30, StepIndex: 0, StepProgress: 100, Message: "Environment ready"},
	{RunProgress: 50, StepIndex: 1, StepProgress: 40, Message: "Executing mission payload"},
	{RunProgress: 70, StepIndex: 1, StepProgress: 100, Message: "Mission execution finished"},
	{RunProgress: 85, StepIndex: 2, StepProgress: 50, Message: "Collecting evidence"},
	{RunProgress: 100, StepIndex: 2, StepProgress: 100, Message: "Report published"},
}

func initialSteps() []*types.TaskStep {
	steps := make([]*types.TaskStep, 0, len(stepNames))

	for i, name := range stepNames {
		step := &types.TaskStep{Position: i, Name: name, Status: types.StepPending}
		if i == 0 {
			step.Status = types.StepRunning
			step.Progress = initialProgress
		}
		steps = append(steps, step)
	}

	return steps
}

func stepName(i int) string {
	if i < 0 || i >= len(stepNames) {
		return ""
	}

	return stepNames[i]
}

func evidence(run *types.TaskRun, at time.Time) map[string]any {
	return map[string]any{
		"report":    fmt.Sprintf("runs/%s/report.json", run.ID),
		"artifacts": []string{"environment.log", "mission.log", "verification.json"},
		"verified":  true,
		"generated": at.UTC().Format(time.RFC3339),
	}
}
