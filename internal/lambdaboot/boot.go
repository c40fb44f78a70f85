// Package lambdaboot provides shared Lambda cold-start bootstrap logic.
//
// Every Lambda in the project needs some subset of: AWS config, S3, the job
// ledger, the credential vault, a workflow starter, SSM parameter fetch and
// startup logging. Each Lambda's init() is a short composition of these.
package lambdaboot

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-publisher/internal/logging"
	"github.com/fpang/media-publisher/internal/s3util"
	"github.com/fpang/media-publisher/internal/store"
	"github.com/fpang/media-publisher/internal/vault"
	"github.com/fpang/media-publisher/internal/workflow"
)

// Environment variables and their defaults.
const (
	EnvInBucket      = "IN_BUCKET"
	EnvOutBucket     = "OUT_BUCKET"
	EnvJobsTable     = "JOBS_TABLE"
	EnvJobsSiteIndex = "JOBS_SITE_INDEX"
	EnvKMSKeyID      = "KMS_KEY_ID"
	EnvStateMachine  = "SF_PUBLISH_ARN"
	EnvEventBus      = "EVENT_BUS_NAME"
	EnvPublishLambda = "PUBLISH_LAMBDA_ARN"
	EnvAPIToken      = "API_TOKEN"
	EnvAPITokenParam = "SSM_API_TOKEN_PARAM"

	DefaultJobsTable     = "convert_jobs"
	DefaultJobsSiteIndex = "site_url-updated_at-index"
	DefaultAPITokenParam = "/media-publisher/prod/api-token"
)

// AWSClients holds the core AWS SDK clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds the S3 client, presigner, object store and bucket names.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Store     *s3util.S3Store
	InBucket  string
	OutBucket string
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates the S3 client, presigner and object store. IN_BUCKET is
// required; OUT_BUCKET defaults to it.
func InitS3(cfg aws.Config) S3Clients {
	in := RequireEnv(EnvInBucket)
	client := s3.NewFromConfig(cfg)
	presigner := s3.NewPresignClient(client)
	return S3Clients{
		Client:    client,
		Presigner: presigner,
		Store:     s3util.NewS3Store(client, presigner),
		InBucket:  in,
		OutBucket: logging.EnvOrDefault(EnvOutBucket, in),
	}
}

// InitLedger creates the DynamoDB job ledger.
func InitLedger(cfg aws.Config) *store.DynamoLedger {
	table := logging.EnvOrDefault(EnvJobsTable, DefaultJobsTable)
	index := logging.EnvOrDefault(EnvJobsSiteIndex, DefaultJobsSiteIndex)
	return store.NewDynamoLedger(dynamodb.NewFromConfig(cfg), table, index)
}

// InitVault creates the KMS-backed credential vault. KMS_KEY_ID is
// required; Decrypt-only callers still need it to pin the key.
func InitVault(cfg aws.Config) *vault.Vault {
	return vault.New(kms.NewFromConfig(cfg), RequireEnv(EnvKMSKeyID))
}

// StarterTarget returns which workflow start target is configured: the
// first of SF_PUBLISH_ARN, EVENT_BUS_NAME and PUBLISH_LAMBDA_ARN that is set.
func StarterTarget() (kind, target string) {
	for _, env := range []string{EnvStateMachine, EnvEventBus, EnvPublishLambda} {
		if v := os.Getenv(env); v != "" {
			return env, v
		}
	}
	return "", ""
}

// InitStarter creates the workflow starter for the configured target.
// Fatals when none is set.
func InitStarter(cfg aws.Config) workflow.Starter {
	kind, target := StarterTarget()
	switch kind {
	case EnvStateMachine:
		return workflow.NewStateMachine(sfn.NewFromConfig(cfg), target)
	case EnvEventBus:
		return workflow.NewEventBus(eventbridge.NewFromConfig(cfg), target)
	case EnvPublishLambda:
		return workflow.NewAsyncLambda(lambdasvc.NewFromConfig(cfg), target)
	}
	log.Fatal().
		Strs("envVars", []string{EnvStateMachine, EnvEventBus, EnvPublishLambda}).
		Msg("No workflow start target configured")
	return nil
}

// LoadSecret returns the value of envVar if set, otherwise fetches the SSM
// parameter named by paramEnvVar (or defParam). Non-fatal: a missing
// parameter logs a warning and yields "".
func LoadSecret(ssmClient *ssm.Client, envVar, paramEnvVar, defParam string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	paramName := logging.EnvOrDefault(paramEnvVar, defParam)
	ssmStart := time.Now()
	result, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		log.Warn().Err(err).Str("param", paramName).Msg("Secret not found in SSM")
		return ""
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Secret loaded from SSM")
	return aws.ToString(result.Parameter.Value)
}

// RequireEnv returns the named environment variable. Fatals if empty.
func RequireEnv(envVar string) string {
	v := os.Getenv(envVar)
	if v == "" {
		log.Fatal().Str("envVar", envVar).Msg("Environment variable is required")
	}
	return v
}

// EnvInt parses an integer environment variable, returning def when it is
// unset or malformed.
func EnvInt(envVar string, def int) int {
	raw := os.Getenv(envVar)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("envVar", envVar).Str("value", raw).Msg("Ignoring non-integer value")
		return def
	}
	return n
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
