package domain

import "time"

type ProjectStatus string

const ProjectPlanning ProjectStatus = "Planning"

type TaskStatus string

const TaskToDo TaskStatus = "To Do"

// GeneratedProject is the project descriptor produced by one generation.
// StartDate and EndDate are calendar days (midnight, scheduler location).
type GeneratedProject struct {
	TemplateID   string        `json:"template_id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	ClientID     string        `json:"client_id,omitempty"`
	TeamLeaderID string        `json:"team_leader_id,omitempty"`
	Priority     Priority      `json:"priority"`
	StartDate    time.Time     `json:"start_date"`
	EndDate      time.Time     `json:"end_date"`
	DurationDays int           `json:"duration_days"`
	Status       ProjectStatus `json:"status"`
	Progress     int           `json:"progress"`
	SpentBudget  float64       `json:"spent_budget"`
}

// GeneratedTask always carries a concrete due date.
type GeneratedTask struct {
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Priority          Priority   `json:"priority"`
	ClientID          string     `json:"client_id,omitempty"`
	Status            TaskStatus `json:"status"`
	DueDate           time.Time  `json:"due_date"`
	AssignedUserID    string     `json:"assigned_user_id,omitempty"`
	EstimatedDuration float64    `json:"estimated_duration,omitempty"`
	ActivityType      string     `json:"activity_type,omitempty"`
}
