// Package main provides the Lambda entry point for the transcode worker.
//
// Triggered by S3 ObjectCreated events on the upload bucket. Each tagged
// upload is downloaded, re-encoded to H.264/AAC MP4 with ffmpeg and written
// to the output location its tags name; the job ledger records the result.
//
// Container: Heavy (ffmpeg needed)
// Memory: 2 GB
// Timeout: 15 minutes
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

	"github.com/fpang/media-publisher/internal/lambdaboot"
	"github.com/fpang/media-publisher/internal/logging"
	"github.com/fpang/media-publisher/internal/transcode"
)

var coldStart = true

var worker *transcode.Worker

func init() {
	initStart := time.Now()
	logging.Init()

	awsClients := lambdaboot.InitAWS()
	s3s := lambdaboot.InitS3(awsClients.Config)
	ledger := lambdaboot.InitLedger(awsClients.Config)

	ffmpeg, err := transcode.NewFFmpeg(os.Getenv("FFMPEG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("ffmpeg unavailable")
	}

	worker = &transcode.Worker{
		Ledger:           ledger,
		Objects:          s3s.Store,
		Encoder:          ffmpeg,
		SourceBucket:     s3s.InBucket,
		DefaultOutBucket: s3s.OutBucket,
		ScratchDir:       logging.EnvOrDefault("SCRATCH_DIR", os.TempDir()),
	}

	lambdaboot.StartupLog("transcode-lambda", initStart).
		S3Bucket("inBucket", s3s.InBucket).
		S3Bucket("outBucket", s3s.OutBucket).
		DynamoTable("jobs", logging.EnvOrDefault(lambdaboot.EnvJobsTable, lambdaboot.DefaultJobsTable)).
		Config("ffmpeg", ffmpeg.Path).
		Log()
}

func main() {
	lambda.Start(handler)
}

// handler processes every record. Transient failures fail the invocation
// so S3 redelivers; per-object failures were already recorded by the worker.
func handler(ctx context.Context, s3Event events.S3Event) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "transcode-lambda").Msg("Cold start")
	}

	var firstErr error
	for _, record := range s3Event.Records {
		bucket := record.S3.Bucket.Name
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			log.Warn().Err(err).Str("key", record.S3.Object.Key).Msg("Undecodable object key")
			continue
		}
		res, err := worker.Process(ctx, bucket, key)
		if err != nil {
			log.Error().Err(err).Str("bucket", bucket).Str("key", key).Msg("Transcode failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("process %s/%s: %w", bucket, key, err)
			}
			continue
		}
		log.Info().
			Str("bucket", bucket).
			Str("key", key).
			Str("result", res.Kind).
			Str("reason", res.Reason).
			Str("jobId", res.JobID).
			Msg("Object handled")
	}
	return firstErr
}
