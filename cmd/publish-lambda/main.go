// Package main provides the Lambda entry point for the publish pipeline.
//
// The publish workflow invokes this Lambda once per stage with a stage
// event ({type, job_id, session, ...}). Stages: load-job, initialize,
// advance (repeated while the result is not complete), finalize, and
// cleanup on failure or completion. Platform tokens are unsealed per
// invocation and never appear in the workflow payload.
//
// Container: Light (no ffmpeg)
// Memory: 512 MB
// Timeout: 5 minutes
package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-publisher/internal/instagram"
	"github.com/fpang/media-publisher/internal/lambdaboot"
	"github.com/fpang/media-publisher/internal/lifecycle"
	"github.com/fpang/media-publisher/internal/logging"
	"github.com/fpang/media-publisher/internal/publish"
	"github.com/fpang/media-publisher/internal/xapi"
)

var coldStart = true

var pipeline *publish.Pipeline

func init() {
	initStart := time.Now()
	logging.Init()

	awsClients := lambdaboot.InitAWS()
	s3s := lambdaboot.InitS3(awsClients.Config)
	ledger := lambdaboot.InitLedger(awsClients.Config)
	cipher := lambdaboot.InitVault(awsClients.Config)

	graphURL := logging.EnvOrDefault("INSTAGRAM_API_URL", instagram.DefaultBaseURL)
	xURL := logging.EnvOrDefault("X_API_URL", xapi.DefaultBaseURL)

	pipeline = publish.NewPipeline(ledger, cipher,
		publish.NewInstagram(instagram.NewClient(graphURL)),
		publish.NewX(xapi.NewClient(xURL)),
	)
	pipeline.Objects = s3s.Store
	pipeline.Cleaner = lifecycle.New(ledger, s3s.Store, lifecycle.Config{
		InBucket:  s3s.InBucket,
		OutBucket: s3s.OutBucket,
	})

	lambdaboot.StartupLog("publish-lambda", initStart).
		S3Bucket("inBucket", s3s.InBucket).
		S3Bucket("outBucket", s3s.OutBucket).
		DynamoTable("jobs", logging.EnvOrDefault(lambdaboot.EnvJobsTable, lambdaboot.DefaultJobsTable)).
		KMSKey("tokens", os.Getenv(lambdaboot.EnvKMSKeyID)).
		Config("graphAPI", graphURL).
		Config("xAPI", xURL).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, raw json.RawMessage) (*publish.StepResult, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "publish-lambda").Msg("Cold start")
	}

	ev, err := publish.ParseEvent(raw)
	if err != nil {
		log.Error().Err(err).Msg("Rejected stage event")
		return nil, err
	}
	log.Info().
		Str("type", string(ev.Type)).
		Str("jobId", ev.JobID).
		Msg("Publish stage invoked")

	return pipeline.Handle(ctx, ev)
}
