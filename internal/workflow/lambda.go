package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog/log"
)

// LambdaAPI is the subset of the Lambda client used here.
type LambdaAPI interface {
	Invoke(ctx context.Context, in *lambdasvc.InvokeInput, optFns ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error)
}

// AsyncLambda invokes a function with InvocationType=Event and returns as
// soon as Lambda has queued the payload.
type AsyncLambda struct {
	client   LambdaAPI
	function string
}

// NewAsyncLambda returns a Starter for function (name or ARN).
func NewAsyncLambda(client LambdaAPI, function string) *AsyncLambda {
	return &AsyncLambda{client: client, function: function}
}

func (a *AsyncLambda) Start(ctx context.Context, name string, input PublishInput) (string, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal invoke payload: %w", err)
	}
	out, err := a.client.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(a.function),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", a.function, err)
	}
	if out.StatusCode != 202 {
		return "", fmt.Errorf("invoke %s: unexpected status %d", a.function, out.StatusCode)
	}
	log.Info().Str("jobId", input.JobID).Str("function", a.function).Str("run", executionName(name)).Msg("Publish function invoked")
	return executionName(name), nil
}
