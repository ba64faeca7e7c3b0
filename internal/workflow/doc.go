// Package workflow runs the interview pipeline.
//
// The Orchestrator sequences the fixed steps (upload, evidence, insights,
// personas, answers, finalize, enrich-person) for one interview. Each step
// reads the workflow state document at start and merges only its own
// outputs back, so any step can be retried or resumed independently. The
// persisted cursor (completed steps plus current step) decides what runs:
// steps before a resume target never execute, completed steps are skipped
// unless they are the resume target, and skip lists force-bypass steps.
//
// The Manager drains the persisted job queue with a small worker pool. Each
// claimed job runs the Orchestrator under a heartbeat loop so stalled work is
// reclaimed, and run outcomes are published through the notifications
// service.
package workflow
