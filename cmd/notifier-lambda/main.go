// Package main provides the Lambda entry point for the dispatch notifier.
//
// Triggered by S3 ObjectCreated events on the output bucket. For each
// transcoded object it starts the publish workflow for the owning job and
// posts the completion webhook the uploader asked for.
//
// Container: Light (no ffmpeg)
// Memory: 256 MB
// Timeout: 1 minute
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-publisher/internal/callback"
	"github.com/fpang/media-publisher/internal/dispatch"
	"github.com/fpang/media-publisher/internal/lambdaboot"
	"github.com/fpang/media-publisher/internal/logging"
)

var notifier *dispatch.Notifier

func init() {
	initStart := time.Now()
	logging.Init()

	awsClients := lambdaboot.InitAWS()
	s3s := lambdaboot.InitS3(awsClients.Config)
	secret := os.Getenv("CALLBACK_SIGNING_SECRET")

	notifier = &dispatch.Notifier{
		Objects:   s3s.Store,
		Starter:   lambdaboot.InitStarter(awsClients.Config),
		Callbacks: callback.New(secret),
		Prefix:    logging.EnvOrDefault("OUT_PREFIX", "converted/"),
		GrantTTL:  time.Duration(lambdaboot.EnvInt("GET_EXPIRES", 3600)) * time.Second,
	}

	_, starterTarget := lambdaboot.StarterTarget()
	lambdaboot.StartupLog("notifier-lambda", initStart).
		S3Bucket("outBucket", s3s.OutBucket).
		Config("prefix", notifier.Prefix).
		Config("workflowTarget", starterTarget).
		Feature("signedCallbacks", secret != "").
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, s3Event events.S3Event) error {
	var firstErr error
	for _, record := range s3Event.Records {
		bucket := record.S3.Bucket.Name
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			log.Warn().Err(err).Str("key", record.S3.Object.Key).Msg("Undecodable object key")
			continue
		}
		out, err := notifier.Notify(ctx, bucket, key)
		if err != nil {
			log.Error().Err(err).Str("bucket", bucket).Str("key", key).Msg("Dispatch failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("notify %s/%s: %w", bucket, key, err)
			}
			continue
		}
		log.Info().
			Str("bucket", bucket).
			Str("key", key).
			Bool("skipped", out.Skipped).
			Bool("workflowStarted", out.WorkflowStarted).
			Bool("callbackSent", out.CallbackSent).
			Msg("Object dispatched")
	}
	return firstErr
}
