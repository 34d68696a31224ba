package session

import (
	"time"

	"github.com/t77yq/schoolrun/internal/model"
)

var (
	demoEmma = model.Child{ID: "child-emma", Name: "Emma"}
	demoLiam = model.Child{ID: "child-liam", Name: "Liam"}
)

// DemoChildren returns the child profiles the demo runs are assigned to
func DemoChildren() []model.Child {
	return []model.Child{demoEmma, demoLiam}
}

// DemoRuns returns a small set of runs around now for a fresh install
func DemoRuns(now time.Time) []model.ScheduledRun {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	at := func(day time.Time, hour, minute int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
	}
	tomorrow := today.AddDate(0, 0, 1)
	yesterday := today.AddDate(0, 0, -1)

	return []model.ScheduledRun{
		{
			Name:          "Morning School Run",
			ScheduledDate: tomorrow,
			ScheduledTime: at(tomorrow, 7, 45),
			Stops: []model.Stop{
				{Name: "Home", StopType: model.StopTypeHome, EstimatedMinutes: 5},
				{Name: "Oak Street Primary", StopType: model.StopTypeSchool, AssignedChild: demoEmma.ID, Task: "Hand over lunch box", EstimatedMinutes: 10},
				{Name: "Riverside High", StopType: model.StopTypeSchool, AssignedChild: demoLiam.ID, EstimatedMinutes: 12},
			},
		},
		{
			Name:          "Afternoon Pickup",
			ScheduledDate: today,
			ScheduledTime: at(today, 15, 15),
			Stops: []model.Stop{
				{Name: "Oak Street Primary", StopType: model.StopTypeSchool, AssignedChild: demoEmma.ID, EstimatedMinutes: 8},
				{Name: "Swimming Club", StopType: model.StopTypeActivity, AssignedChild: demoEmma.ID, Task: "Pack towel", EstimatedMinutes: 15},
				{Name: "Home", StopType: model.StopTypeHome, EstimatedMinutes: 10},
			},
		},
		{
			Name:          "Football Practice",
			ScheduledDate: yesterday,
			ScheduledTime: at(yesterday, 17, 30),
			Stops: []model.Stop{
				{Name: "Home", StopType: model.StopTypeHome, EstimatedMinutes: 5},
				{Name: "Community Pitch", StopType: model.StopTypeActivity, AssignedChild: demoLiam.ID, Task: "Boots and shin pads", EstimatedMinutes: 20},
				{Name: "Grandma's", StopType: model.StopTypeCustom, EstimatedMinutes: 10},
			},
		},
	}
}
