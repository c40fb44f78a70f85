package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/rs/zerolog/log"
)

// SFNAPI is the subset of the Step Functions client used here.
type SFNAPI interface {
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// StateMachine starts a Step Functions execution named after the job, so
// a duplicate start for the same job is rejected by the service.
type StateMachine struct {
	client SFNAPI
	arn    string
}

// NewStateMachine returns a Starter for the state machine arn.
func NewStateMachine(client SFNAPI, arn string) *StateMachine {
	return &StateMachine{client: client, arn: arn}
}

func (s *StateMachine) Start(ctx context.Context, name string, input PublishInput) (string, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal workflow input: %w", err)
	}
	out, err := s.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.arn),
		Name:            aws.String(executionName(name)),
		Input:           aws.String(string(body)),
	})
	if err != nil {
		var exists *sfntypes.ExecutionAlreadyExists
		if errors.As(err, &exists) {
			log.Info().Str("jobId", input.JobID).Msg("Publish execution already started")
			return "", nil
		}
		return "", fmt.Errorf("StartExecution %s: %w", name, err)
	}
	arn := aws.ToString(out.ExecutionArn)
	log.Info().Str("jobId", input.JobID).Str("executionArn", arn).Msg("Publish execution started")
	return arn, nil
}
