// Package mqtt defines the transport ports used to notify the shop floor of
// conflicts and to receive production reports.
package mqtt
