package logging

import (
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Resource kinds reported in the cold-start summary.
const (
	kindBucket       = "s3Buckets"
	kindTable        = "dynamoTables"
	kindKMSKey       = "kmsKeys"
	kindSSMParam     = "ssmParams"
	kindStateMachine = "stateMachines"
	kindEventBus     = "eventBuses"
	kindLambda       = "lambdaFunctions"
)

// StartupLogger collects what a Lambda wired at init and emits it as one
// structured event. Secret values are never recorded, only where they live.
type StartupLogger struct {
	name         string
	initDuration time.Duration
	resources    map[string]map[string]string
	features     map[string]bool
	config       map[string]string
}

// NewStartupLogger creates a StartupLogger for the named Lambda
// (e.g. "api-lambda", "transcode-lambda").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:      name,
		resources: make(map[string]map[string]string),
		features:  make(map[string]bool),
		config:    make(map[string]string),
	}
}

func (s *StartupLogger) add(kind, label, value string) *StartupLogger {
	if value == "" {
		return s
	}
	m, ok := s.resources[kind]
	if !ok {
		m = make(map[string]string)
		s.resources[kind] = m
	}
	m[label] = value
	return s
}

// S3Bucket registers a bucket.
func (s *StartupLogger) S3Bucket(label, name string) *StartupLogger {
	return s.add(kindBucket, label, name)
}

// DynamoTable registers a table (or index).
func (s *StartupLogger) DynamoTable(label, name string) *StartupLogger {
	return s.add(kindTable, label, name)
}

// KMSKey registers the key id used by the credential vault.
func (s *StartupLogger) KMSKey(label, id string) *StartupLogger {
	return s.add(kindKMSKey, label, id)
}

// SSMParam registers a parameter path. Only the path is logged.
func (s *StartupLogger) SSMParam(label, path string) *StartupLogger {
	return s.add(kindSSMParam, label, path)
}

// StateMachine registers a Step Functions state machine.
func (s *StartupLogger) StateMachine(label, arn string) *StartupLogger {
	return s.add(kindStateMachine, label, arn)
}

// EventBus registers an EventBridge bus.
func (s *StartupLogger) EventBus(label, name string) *StartupLogger {
	return s.add(kindEventBus, label, name)
}

// LambdaFunc registers a Lambda function invoked by this one.
func (s *StartupLogger) LambdaFunc(label, arn string) *StartupLogger {
	return s.add(kindLambda, label, arn)
}

// Feature registers a boolean feature flag.
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive setting.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long init() took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// EnvOrDefault returns the named environment variable or def when unset.
func EnvOrDefault(envVar, def string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return def
}

// Log emits the summary at info level.
func (s *StartupLogger) Log() {
	evt := log.Info().Dict("lambda", zerolog.Dict().
		Str("name", s.name).
		Str("functionName", os.Getenv("AWS_LAMBDA_FUNCTION_NAME")).
		Str("version", os.Getenv("AWS_LAMBDA_FUNCTION_VERSION")).
		Str("region", os.Getenv("AWS_REGION")).
		Str("memoryMB", os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE")).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", os.Getenv(LevelEnv)))

	if len(s.resources) > 0 {
		kinds := make([]string, 0, len(s.resources))
		for k := range s.resources {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		res := zerolog.Dict()
		for _, k := range kinds {
			res = res.Dict(k, dictFromMap(s.resources[k]))
		}
		evt = evt.Dict("resources", res)
	}
	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}
	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}
	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}
	evt.Msg("Lambda cold start complete")
}

func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
