package validations

import (
	domainJob "github.com/AzielCF/az-cast/domains/job"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ValidateSendJob rejects payloads that can never succeed, regardless of how
// often they are redelivered. Broadcast jobs additionally require a batch.
func ValidateSendJob(job *domainJob.SendJob, class domainJob.Class) error {
	fields := []*validation.FieldRules{
		validation.Field(&job.AgentID, validation.Required),
		validation.Field(&job.TaskID, validation.Required),
		validation.Field(&job.PhoneNumber, validation.Required),
		validation.Field(&job.Message, validation.Required),
	}
	if class == domainJob.ClassBroadcast {
		fields = append(fields, validation.Field(&job.BatchID, validation.Required))
	}
	return validation.ValidateStruct(job, fields...)
}
