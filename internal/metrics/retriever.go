package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/sirupsen/logrus"
)

// RetrievedMetrics are cluster-wide figures aggregated by Prometheus over all nodes.
type RetrievedMetrics struct {
	Completions      map[string]float64
	Failures         map[string]float64
	AvgExecutionTime map[string]float64
}

var retrievedMetrics RetrievedMetrics
var retrievedMutex sync.RWMutex

type metricSample struct {
	Value  float64
	Labels map[string]string
}
type metricProcessor[T any] func(samples []metricSample) (T, error)

func executeQuery(query string, api v1.API, ctx context.Context) (model.Vector, error) {
	result, warnings, err := api.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed query: %w", err)
	}

	if len(warnings) > 0 {
		logrus.Warnf("received warnings in the execution: %v", warnings)
	}

	vector, ok := result.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("could not convert the result of the query: %v", result)
	}

	return vector, nil
}

func extractSampleWithLabels(sample *model.Sample, requiredLabels []string) (*metricSample, error) {
	labels := make(map[string]string)

	for _, labelName := range requiredLabels {
		labelValue, found := sample.Metric[model.LabelName(labelName)]
		if !found {
			return nil, fmt.Errorf("could not find the %s label in the result: %v", labelName, sample)
		}
		labels[labelName] = string(labelValue)
	}

	return &metricSample{
		Value:  float64(sample.Value),
		Labels: labels,
	}, nil
}

func retrieveMetrics[T any](query string, api v1.API, ctx context.Context, requiredLabels []string, processor metricProcessor[T]) (T, error) {
	var zero T

	vector, err := executeQuery(query, api, ctx)
	if err != nil {
		return zero, err
	}

	var samples []metricSample
	for _, sample := range vector {
		extracted, err := extractSampleWithLabels(sample, requiredLabels)
		if err != nil {
			logrus.Debugf("skipping sample: %v", err)
			continue
		}
		samples = append(samples, *extracted)
	}

	return processor(samples)
}

func retrieveByFunction(query string, api v1.API, ctx context.Context) (map[string]float64, error) {
	return retrieveMetrics(query, api, ctx, []string{"function"}, byFunction)
}

func byFunction(samples []metricSample) (map[string]float64, error) {
	result := make(map[string]float64)
	for _, sample := range samples {
		result[sample.Labels["function"]] = sample.Value
	}
	return result, nil
}

// MetricsRetriever periodically refreshes the cluster-wide figures from Prometheus.
func MetricsRetriever() {
	prometheusHost := config.GetString(config.METRICS_PROMETHEUS_HOST, "127.0.0.1")
	prometheusPort := config.GetInt(config.METRICS_PROMETHEUS_PORT, 9090)
	client, err := promapi.NewClient(promapi.Config{
		Address: fmt.Sprintf("http://%s:%d", prometheusHost, prometheusPort),
	})
	if err != nil {
		logrus.Errorf("Error in Prometheus client creation: %v", err)
		return
	}

	api := v1.NewAPI(client)
	interval := config.GetDuration(config.METRICS_RETRIEVER_INTERVAL, 60*time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		refresh(ctx, api)
		cancel()
	}
}

func refresh(ctx context.Context, api v1.API) {
	var m RetrievedMetrics
	var err error

	m.Completions, err = retrieveByFunction(fmt.Sprintf("sum by (function) (%s)", COMPLETIONS), api, ctx)
	if err != nil {
		logrus.Warnf("Could not retrieve completions: %v", err)
	}
	m.Failures, err = retrieveByFunction(fmt.Sprintf("sum by (function) (%s{outcome!=\"success\"})", COMPLETIONS), api, ctx)
	if err != nil {
		logrus.Warnf("Could not retrieve failures: %v", err)
	}
	m.AvgExecutionTime, err = retrieveByFunction(
		fmt.Sprintf("sum by (function) (%s_sum) / sum by (function) (%s_count)", EXECUTION_TIME, EXECUTION_TIME), api, ctx)
	if err != nil {
		logrus.Warnf("Could not retrieve execution times: %v", err)
	}

	retrievedMutex.Lock()
	retrievedMetrics = m
	retrievedMutex.Unlock()
}

// GetMetrics returns the last figures retrieved for a function, and false if
// none are available.
func GetMetrics(funcName string) (completions, failures, avgExecutionTime float64, ok bool) {
	retrievedMutex.RLock()
	defer retrievedMutex.RUnlock()
	completions, ok = retrievedMetrics.Completions[funcName]
	failures = retrievedMetrics.Failures[funcName]
	avgExecutionTime = retrievedMetrics.AvgExecutionTime[funcName]
	return
}
