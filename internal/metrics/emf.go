// Package metrics emits CloudWatch Embedded Metric Format documents. Each
// Flush writes one JSON line to stdout, which CloudWatch Logs turns into
// custom metrics without any API call.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Namespace is the CloudWatch namespace shared by every publisher component.
const Namespace = "MediaPublisher"

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type directive struct {
	Timestamp         int64       `json:"Timestamp"`
	CloudWatchMetrics []namespace `json:"CloudWatchMetrics"`
}

type namespace struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Recorder accumulates one EMF document. Not safe for concurrent use;
// create one per operation.
type Recorder struct {
	namespace  string
	out        io.Writer
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]float64
	properties map[string]any
}

var (
	functionName string
	fnOnce       sync.Once
)

// New creates a Recorder for ns writing to stdout. The Lambda function name
// is attached as the FunctionName dimension when running inside Lambda.
func New(ns string) *Recorder {
	return NewTo(ns, os.Stdout)
}

// NewTo is New with an explicit destination.
func NewTo(ns string, out io.Writer) *Recorder {
	fnOnce.Do(func() { functionName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME") })
	r := &Recorder{
		namespace:  ns,
		out:        out,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]float64),
		properties: make(map[string]any),
	}
	if functionName != "" {
		r.dimensions["FunctionName"] = functionName
	}
	return r
}

// Dimension adds an indexed dimension.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records value under name with a CloudWatch unit.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count records name = 1.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Since records the milliseconds elapsed since start.
func (r *Recorder) Since(name string, start time.Time) *Recorder {
	return r.Metric(name, float64(time.Since(start).Milliseconds()), UnitMilliseconds)
}

// Property adds a searchable, non-metric field.
func (r *Recorder) Property(key string, value any) *Recorder {
	r.properties[key] = value
	return r
}

// Flush writes the document. A Recorder with no metrics writes nothing.
func (r *Recorder) Flush() {
	if len(r.metrics) == 0 {
		return
	}

	names := make([]string, 0, len(r.metrics))
	for n := range r.metrics {
		names = append(names, n)
	}
	sort.Strings(names)
	defs := make([]metricDef, 0, len(names))
	for _, n := range names {
		defs = append(defs, r.metrics[n])
	}

	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}
	sort.Strings(dimKeys)

	doc := make(map[string]any, len(r.dimensions)+len(r.values)+len(r.properties)+1)
	for k, v := range r.properties {
		doc[k] = v
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}
	doc["_aws"] = directive{
		Timestamp: time.Now().UnixMilli(),
		CloudWatchMetrics: []namespace{{
			Namespace:  r.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    defs,
		}},
	}

	data, err := json.Marshal(doc)
	if err != nil {
		log.Warn().Err(err).Str("namespace", r.namespace).Msg("EMF marshal failed")
		return
	}
	data = append(data, '\n')
	if _, err := r.out.Write(data); err != nil {
		log.Warn().Err(err).Msg("EMF write failed")
	}
}
