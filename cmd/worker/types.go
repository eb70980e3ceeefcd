package main

// outcome is the "Outcome" dimension of the CompensationRetry metric.
type outcome string

const (
	outcomeSucceeded outcome = "succeeded"
	// outcomeFailed messages are handed back to SQS for redelivery.
	outcomeFailed outcome = "failed"
	// outcomeDropped messages can never succeed and are acknowledged.
	outcomeDropped outcome = "dropped"
)

// metricCompensationRetry counts processed retry messages per outcome and kind.
const metricCompensationRetry = "CompensationRetry"
