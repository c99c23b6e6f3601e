// Package domain holds the value types shared by the scheduling engine:
// recurrence rules, project/task blueprints, recurring templates and the
// project/task descriptors a generation produces.
//
// Types here are plain values. Nothing in this package reads the clock or
// touches storage.
package domain
