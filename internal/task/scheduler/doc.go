// Package scheduler turns cron specs and intervals into jobs on the job
// engine. It only triggers; retries, overlap and timeouts belong to engine.
package scheduler
