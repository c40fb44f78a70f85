// Package main provides the Lambda entry point for the HTTP API.
//
// Endpoints are served by internal/api behind API Gateway (HTTP API,
// payload v2) through httpadapter.
//
// Container: Light (no ffmpeg)
// Memory: 256 MB
// Timeout: 30 seconds
package main

import (
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/fpang/media-publisher/internal/api"
	"github.com/fpang/media-publisher/internal/gateway"
	"github.com/fpang/media-publisher/internal/lambdaboot"
	"github.com/fpang/media-publisher/internal/lifecycle"
	"github.com/fpang/media-publisher/internal/logging"
)

var adapter *httpadapter.HandlerAdapterV2

func init() {
	initStart := time.Now()
	logging.Init()

	awsClients := lambdaboot.InitAWS()
	s3s := lambdaboot.InitS3(awsClients.Config)
	ledger := lambdaboot.InitLedger(awsClients.Config)
	cipher := lambdaboot.InitVault(awsClients.Config)
	starter := lambdaboot.InitStarter(awsClients.Config)
	masterToken := lambdaboot.LoadSecret(awsClients.SSM, lambdaboot.EnvAPIToken, lambdaboot.EnvAPITokenParam, lambdaboot.DefaultAPITokenParam)

	grants := gateway.New(gateway.Config{
		InBucket:   s3s.InBucket,
		OutBucket:  s3s.OutBucket,
		InPrefix:   logging.EnvOrDefault("IN_PREFIX", "in/"),
		OutPrefix:  logging.EnvOrDefault("OUT_PREFIX", "converted/"),
		DefaultTTL: lambdaboot.EnvInt("DEFAULT_EXPIRES", gateway.DefaultTTL),
		GetTTL:     lambdaboot.EnvInt("GET_EXPIRES", gateway.MaxTTL),
	}, s3s.Presigner, ledger, cipher, starter)

	jobs := lifecycle.New(ledger, s3s.Store, lifecycle.Config{
		MasterToken: masterToken,
		InBucket:    s3s.InBucket,
		OutBucket:   s3s.OutBucket,
	})

	adapter = httpadapter.NewV2(api.NewServer(grants, jobs).Handler())

	_, starterTarget := lambdaboot.StarterTarget()
	lambdaboot.StartupLog("api-lambda", initStart).
		S3Bucket("inBucket", s3s.InBucket).
		S3Bucket("outBucket", s3s.OutBucket).
		DynamoTable("jobs", logging.EnvOrDefault(lambdaboot.EnvJobsTable, lambdaboot.DefaultJobsTable)).
		KMSKey("tokens", os.Getenv(lambdaboot.EnvKMSKeyID)).
		SSMParam("apiToken", logging.EnvOrDefault(lambdaboot.EnvAPITokenParam, lambdaboot.DefaultAPITokenParam)).
		Config("workflowTarget", starterTarget).
		Feature("masterToken", masterToken != "").
		Log()
}

func main() {
	lambda.Start(adapter.ProxyWithContext)
}
