// Package task defines the work items, task state, scrape results, and the
// collaborator interfaces shared by the scheduler, session, and writer.
package task
