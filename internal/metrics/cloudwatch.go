package metrics

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"featureflow/logger"
)

// PutMetricData accepts at most 1000 datums per call.
const cloudWatchBatchSize = 1000

type cloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

type cloudWatchState struct {
	client    cloudWatchAPI
	namespace string
	region    string
	handlerID MetricHandlerID
}

var (
	cwState atomic.Pointer[cloudWatchState]

	pendingMu sync.Mutex
	pending   []cwtypes.MetricDatum

	publishMetricsFunc = publishMetrics
)

// InitCloudWatch initialises the CloudWatch client using the provided region
// and namespace and starts buffering emitted metrics. When the client cannot
// be created the function logs a warning and leaves publishing disabled.
func InitCloudWatch(ctx context.Context, region, namespace string) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	state := &cloudWatchState{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: namespace,
		region:    cfg.Region,
	}
	if state.namespace == "" {
		state.namespace = "FeatureFlow"
	}
	if state.region == "" {
		state.region = region
	}
	useCloudWatch(state)

	log.WithFields(logger.Fields{
		"region":    state.region,
		"namespace": state.namespace,
	}).Info("initialized CloudWatch client")
}

func useCloudWatch(state *cloudWatchState) {
	if prev := cwState.Swap(state); prev != nil {
		UnregisterMetricHandler(prev.handlerID)
	}
	if state != nil {
		state.handlerID = RegisterMetricHandler(bufferMetric)
	}
}

func bufferMetric(m Metric) {
	value, ok := toFloat64(m.Value)
	if !ok {
		return
	}

	unit := cwtypes.StandardUnitCount
	if rawUnit, ok := m.Fields["unit"].(string); ok {
		if parsed, found := metricUnitFromString(rawUnit); found {
			unit = parsed
		}
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	for k, v := range m.Fields {
		if k == "unit" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	pendingMu.Lock()
	pending = append(pending, cwtypes.MetricDatum{
		MetricName: aws.String(m.Name),
		Dimensions: dims,
		Timestamp:  aws.Time(m.Timestamp),
		Unit:       unit,
		Value:      aws.Float64(value),
	})
	pendingMu.Unlock()
}

// FlushCloudWatch publishes every buffered datum. It is a no-op when
// CloudWatch was not initialised.
func FlushCloudWatch(ctx context.Context) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	pendingMu.Lock()
	data := pending
	pending = nil
	pendingMu.Unlock()

	for start := 0; start < len(data); start += cloudWatchBatchSize {
		end := start + cloudWatchBatchSize
		if end > len(data) {
			end = len(data)
		}
		publishMetricsFunc(ctx, state, data[start:end])
	}
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	if len(data) == 0 {
		logger.GetLogger().WithComponent("cloudwatch").Debug("no metric data to publish")
		return
	}

	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make(map[string]struct{}, len(data))
	for _, datum := range data {
		if datum.MetricName != nil {
			names[*datum.MetricName] = struct{}{}
		}
	}
	list := make([]string, 0, len(names))
	for name := range names {
		list = append(list, name)
	}

	logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{
		"metrics": strings.Join(list, ","),
		"datums":  len(data),
	}).Debug("published metrics to CloudWatch")
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "percent":
		return cwtypes.StandardUnitPercent, true
	case "ms", "milliseconds":
		return cwtypes.StandardUnitMilliseconds, true
	case "bytes":
		return cwtypes.StandardUnitBytes, true
	default:
		return cwtypes.StandardUnitCount, false
	}
}
